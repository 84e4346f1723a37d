package domain

import (
	"fmt"
	"time"
)

// FlowStatus is the publication status of a flow version.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"
	FlowStatusPublished FlowStatus = "published"
	FlowStatusArchived  FlowStatus = "archived"
)

// Definition is the declarative body of a flow.
// Node order is the authoring order; the first node is the entry point.
type Definition struct {
	Nodes []Node `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
}

// Validate checks the structural rules a definition must satisfy before it is stored.
// Unknown node types and dangling next references are accepted; they are runtime concerns.
func (d Definition) Validate() error {
	seen := make(map[string]struct{}, len(d.Nodes))
	for i, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node at position %d has no id", ErrInvalidDefinition, i)
		}
		if n.Type == "" {
			return fmt.Errorf("%w: node %q has no type", ErrInvalidDefinition, n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: %w: %q", ErrInvalidDefinition, ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}

// Flow is a versioned, tenant-owned conversation graph.
type Flow struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Name       string     `json:"name"`
	Version    int        `json:"version"`
	Status     FlowStatus `json:"status"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsPublished reports whether the flow may be selected as the active flow.
func (f *Flow) IsPublished() bool {
	return f.Status == FlowStatusPublished
}

// SelectActive returns the published flow with the highest version, or nil.
func SelectActive(flows []Flow) *Flow {
	var active *Flow
	for i := range flows {
		f := &flows[i]
		if !f.IsPublished() {
			continue
		}
		if active == nil || f.Version > active.Version {
			active = f
		}
	}
	return active
}
