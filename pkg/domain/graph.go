package domain

// Graph is a compiled, read-only view of a flow definition with constant-time node lookup.
// Definitions are immutable once published, so a Graph can be shared across walks.
type Graph struct {
	FlowID  int64
	Version int

	order []Node
	index map[string]int
}

// NewGraph indexes a definition. When ids collide the first occurrence wins.
func NewGraph(def Definition) *Graph {
	g := &Graph{
		order: make([]Node, len(def.Nodes)),
		index: make(map[string]int, len(def.Nodes)),
	}
	copy(g.order, def.Nodes)
	for i, n := range g.order {
		if _, exists := g.index[n.ID]; !exists {
			g.index[n.ID] = i
		}
	}
	return g
}

// CompileFlow builds the graph of a stored flow.
func CompileFlow(f *Flow) *Graph {
	g := NewGraph(f.Definition)
	g.FlowID = f.ID
	g.Version = f.Version
	return g
}

// Entry returns the id of the first node in definition order.
func (g *Graph) Entry() (string, bool) {
	if len(g.order) == 0 {
		return "", false
	}
	return g.order[0].ID, true
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.order[i], true
}

// Len returns the number of nodes in the definition.
func (g *Graph) Len() int {
	return len(g.order)
}

// Nodes returns the nodes in definition order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.order))
	copy(out, g.order)
	return out
}
