package domain

// NodeType is the discriminator stored in a flow definition.
type NodeType string

const (
	// NodeTypeSendMessage emits its message and continues immediately (soft step).
	NodeTypeSendMessage NodeType = "send_message"
	// NodeTypeAskQuestion consumes pending inbound text, or emits its prompt and suspends (hard step).
	NodeTypeAskQuestion NodeType = "ask_question"
	// NodeTypeEnd closes the conversation.
	NodeTypeEnd NodeType = "end"
)

// NodeKind is the closed set of variants the interpreter dispatches on.
// Any type string outside the known set maps to KindUnknown.
type NodeKind int

const (
	KindUnknown NodeKind = iota
	KindSendMessage
	KindAskQuestion
	KindEnd
)

func (k NodeKind) String() string {
	switch k {
	case KindSendMessage:
		return string(NodeTypeSendMessage)
	case KindAskQuestion:
		return string(NodeTypeAskQuestion)
	case KindEnd:
		return string(NodeTypeEnd)
	default:
		return "unknown"
	}
}

// Node represents a single step of a flow definition.
type Node struct {
	ID   string   `json:"id" yaml:"id" mapstructure:"id"`
	Type NodeType `json:"type" yaml:"type" mapstructure:"type"`

	// Next is the id of the successor node. Empty means absent.
	// It is not guaranteed to resolve; the interpreter handles dangling references.
	Next string `json:"next,omitempty" yaml:"next,omitempty" mapstructure:"next"`

	// Message is the outbound text of a send_message node.
	Message string `json:"message,omitempty" yaml:"message,omitempty" mapstructure:"message"`

	// Prompt is the outbound text an ask_question node emits while waiting.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty" mapstructure:"prompt"`
}

// Kind resolves the node type into its variant.
func (n Node) Kind() NodeKind {
	switch n.Type {
	case NodeTypeSendMessage:
		return KindSendMessage
	case NodeTypeAskQuestion:
		return KindAskQuestion
	case NodeTypeEnd:
		return KindEnd
	default:
		return KindUnknown
	}
}
