package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// GraphOverlay marks a conversation's position on the graph.
type GraphOverlay struct {
	CurrentNode string
	State       domain.ConversationState
}

// GenerateMermaid produces a Mermaid flowchart of a flow definition.
// Shapes follow the node kind:
// - Entry node: ((Circle))
// - ask_question: [/Parallelogram/]
// - end: ([Stadium])
// - Unknown type: {{Hexagon}}
// - send_message: [Rectangle]
// A next that does not resolve is drawn as a dotted edge to a missing node.
func GenerateMermaid(def domain.Definition, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	known := make(map[string]bool, len(def.Nodes))
	for _, n := range def.Nodes {
		known[n.ID] = true
	}

	var unknown, missing []string
	for i, node := range def.Nodes {
		safeID := sanitizeMermaidID(node.ID)

		opener, closer := "[", "]"
		switch node.Kind() {
		case domain.KindAskQuestion:
			opener, closer = "[/", "/]"
		case domain.KindEnd:
			opener, closer = "([", "])"
		case domain.KindUnknown:
			opener, closer = "{{", "}}"
			unknown = append(unknown, safeID)
		}
		if i == 0 {
			opener, closer = "((", "))"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(node.ID), closer))

		if node.Next == "" {
			continue
		}
		safeTo := sanitizeMermaidID(node.Next)
		if !known[node.Next] {
			missing = append(missing, safeTo)
			sb.WriteString(fmt.Sprintf("    %s -.-> %s[\"%s?\"]\n", safeID, safeTo, escapeLabel(node.Next)))
			continue
		}
		arrow := "-->"
		if node.Kind() == domain.KindAskQuestion {
			arrow = "-- answer -->"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeID, arrow, safeTo))
	}

	if len(unknown) > 0 || len(missing) > 0 {
		sb.WriteString("\n    classDef fault fill:#fee2e2,stroke:#b91c1c,stroke-dasharray:4 2,color:#000;\n")
		for _, id := range append(unknown, missing...) {
			sb.WriteString(fmt.Sprintf("    class %s fault;\n", id))
		}
	}

	if overlay != nil && overlay.CurrentNode != "" {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Black text keeps the highlight readable on light and dark themes.
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode)))
		if overlay.State != "" {
			sb.WriteString(fmt.Sprintf("    %%%% conversation state: %s\n", overlay.State))
		}
	}

	return sb.String()
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
