package logging

import "log/slog"

// TenantID returns a log attribute for a tenant ID.
func TenantID(id int64) slog.Attr {
	return slog.Int64("tenant_id", id)
}

// ConversationID returns a log attribute for a conversation ID.
func ConversationID(id int64) slog.Attr {
	return slog.Int64("conversation_id", id)
}

// FlowID returns a log attribute for a flow ID.
func FlowID(id int64) slog.Attr {
	return slog.Int64("flow_id", id)
}

// NodeID returns a log attribute for a node ID.
func NodeID(id string) slog.Attr {
	return slog.String("node_id", id)
}

// State returns a log attribute for a conversation state.
func State[T ~string](s T) slog.Attr {
	return slog.String("state", string(s))
}

// Error returns a log attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
