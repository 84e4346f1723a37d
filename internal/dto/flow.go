package dto

// FlowDocument is the authoring format of a flow file (YAML or JSON).
// It uses "mapstructure" tags so that both formats decode through the same generic map.
type FlowDocument struct {
	Name    string         `json:"name" mapstructure:"name"`
	Status  string         `json:"status" mapstructure:"status"`
	Version int            `json:"version" mapstructure:"version"`
	Nodes   []NodeDocument `json:"nodes" mapstructure:"nodes"`

	// General Metadata
	Metadata map[string]string `json:"metadata" mapstructure:"metadata"`
}

// NodeDocument is one node entry of a FlowDocument.
type NodeDocument struct {
	ID   string `json:"id" mapstructure:"id"`
	Type string `json:"type" mapstructure:"type"`

	// Next and To are aliases; To matches the transition key of older documents.
	Next string `json:"next" mapstructure:"next"`
	To   string `json:"to" mapstructure:"to"`

	Message string `json:"message" mapstructure:"message"`
	Prompt  string `json:"prompt" mapstructure:"prompt"`
}

// Target returns the successor id, preferring Next over To.
func (n NodeDocument) Target() string {
	if n.Next != "" {
		return n.Next
	}
	return n.To
}
