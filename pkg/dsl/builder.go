package dsl

import (
	"fmt"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// Builder manages the flow definition construction.
type Builder struct {
	order []*NodeBuilder
	nodes map[string]*NodeBuilder
}

// New creates a new flow builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the flow.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID: id,
		},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, nb)
	return nb
}

// Send adds a send_message node.
func (b *Builder) Send(id, message string) *NodeBuilder {
	return b.Add(id).Message(message)
}

// Ask adds an ask_question node.
func (b *Builder) Ask(id, prompt string) *NodeBuilder {
	return b.Add(id).Prompt(prompt)
}

// End adds an end node.
func (b *Builder) End(id string) *NodeBuilder {
	return b.Add(id).Type(domain.NodeTypeEnd)
}

// Build compiles the nodes into a validated definition.
func (b *Builder) Build() (domain.Definition, error) {
	nodes := make([]domain.Node, 0, len(b.order))
	for _, nb := range b.order {
		nodes = append(nodes, nb.node)
	}

	def := domain.Definition{Nodes: nodes}
	if err := def.Validate(); err != nil {
		return domain.Definition{}, fmt.Errorf("failed to build flow definition: %w", err)
	}
	return def, nil
}

// MustBuild is Build for static definitions; it panics on error.
func (b *Builder) MustBuild() domain.Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
