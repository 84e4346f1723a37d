package validator

import (
	"fmt"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// Issue is a graph problem that does not prevent storing a flow
// but will change how conversations behave at runtime.
type Issue struct {
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.NodeID, i.Message)
}

// ValidateGraph walks the definition from its entry node and reports broken links,
// unknown node types and nodes that cannot be reached.
// Structural errors (missing or duplicate ids) are Definition.Validate's job.
func ValidateGraph(def domain.Definition) []Issue {
	if len(def.Nodes) == 0 {
		return []Issue{{Message: "flow has no nodes; inbound messages will be logged and ignored"}}
	}

	index := make(map[string]domain.Node, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = n
		}
	}

	var issues []Issue
	visited := make(map[string]bool, len(def.Nodes))
	queue := []string{def.Nodes[0].ID}

	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]

		if visited[currentID] {
			continue
		}
		visited[currentID] = true

		node := index[currentID]
		if node.Kind() == domain.KindUnknown {
			issues = append(issues, Issue{
				NodeID:  node.ID,
				Message: fmt.Sprintf("unknown node type %q escalates the conversation", node.Type),
			})
			continue
		}

		target := node.Next
		if target == "" {
			continue
		}
		if _, ok := index[target]; !ok {
			issues = append(issues, Issue{
				NodeID:  node.ID,
				Message: fmt.Sprintf("next %q does not exist", target),
			})
			continue
		}
		if !visited[target] {
			queue = append(queue, target)
		}
	}

	for _, n := range def.Nodes {
		if !visited[n.ID] {
			issues = append(issues, Issue{NodeID: n.ID, Message: "unreachable from the entry node"})
		}
	}
	return issues
}
