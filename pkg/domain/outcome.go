package domain

// StopReason explains why a walk ended.
type StopReason string

const (
	// StopSuspended: an ask_question emitted its prompt and waits for input.
	StopSuspended StopReason = "suspended"
	// StopClosed: an end node or a dangling reference closed the conversation.
	StopClosed StopReason = "closed"
	// StopEscalated: an unknown node type, a dangling reference or the step ceiling escalated the conversation.
	StopEscalated StopReason = "escalated"
	// StopEndOfPath: a node without next was executed; the conversation is idle at no node.
	StopEndOfPath StopReason = "end_of_path"
	// StopEmptyFlow: the active flow has no nodes; nothing changed.
	StopEmptyFlow StopReason = "empty_flow"
	// StopHandedOff: the conversation is escalated and owned by a human; nothing changed.
	StopHandedOff StopReason = "handed_off"
)

// Outcome summarizes one walk.
type Outcome struct {
	Stop StopReason `json:"stop"`

	// Cause is set when the walk absorbed a fault (dangling node, unknown type, step limit).
	Cause error `json:"-"`

	// Steps is the number of node visits performed.
	Steps int `json:"steps"`

	// Emitted holds the outbound messages committed during the walk, in order.
	Emitted []Message `json:"emitted,omitempty"`

	// Consumed reports whether the inbound text was taken by an ask_question.
	Consumed bool `json:"consumed"`
}

// InboundResult is what handling one inbound event produced.
type InboundResult struct {
	Conversation *Conversation `json:"conversation"`
	Inbound      *Message      `json:"inbound"`
	Created      bool          `json:"created"`
	Outcome      Outcome       `json:"outcome"`
}
