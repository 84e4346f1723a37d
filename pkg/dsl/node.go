package dsl

import "github.com/aretw0/wabaflow/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

// Message sets the outbound text and marks the node as send_message (soft step).
func (n *NodeBuilder) Message(text string) *NodeBuilder {
	n.node.Type = domain.NodeTypeSendMessage
	n.node.Message = text
	return n
}

// Prompt sets the question text and marks the node as ask_question (hard step).
func (n *NodeBuilder) Prompt(text string) *NodeBuilder {
	n.node.Type = domain.NodeTypeAskQuestion
	n.node.Prompt = text
	return n
}

// Type overrides the node type. Unknown types are allowed; they escalate at runtime.
func (n *NodeBuilder) Type(t domain.NodeType) *NodeBuilder {
	n.node.Type = t
	return n
}

// Go sets the successor node.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.node.Next = target
	return n
}

// Send continues the chain with a new send_message node.
func (n *NodeBuilder) Send(id, message string) *NodeBuilder {
	return n.builder.Send(id, message)
}

// Ask continues the chain with a new ask_question node.
func (n *NodeBuilder) Ask(id, prompt string) *NodeBuilder {
	return n.builder.Ask(id, prompt)
}

// End continues the chain with a new end node.
func (n *NodeBuilder) End(id string) *NodeBuilder {
	return n.builder.End(id)
}

// Add continues the chain with a new node.
func (n *NodeBuilder) Add(id string) *NodeBuilder {
	return n.builder.Add(id)
}

// Build finishes the chain.
func (n *NodeBuilder) Build() (domain.Definition, error) {
	return n.builder.Build()
}

// MustBuild finishes the chain and panics on error.
func (n *NodeBuilder) MustBuild() domain.Definition {
	return n.builder.MustBuild()
}
