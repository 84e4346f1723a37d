package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/wabaflow/pkg/domain"
)

// TranscriptMarkdown formats a conversation and its messages as Markdown.
// Inbound messages are quoted; outbound ones are plain paragraphs.
func TranscriptMarkdown(conv *domain.Conversation, msgs []domain.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Conversation %d\n\n", conv.ID)
	fmt.Fprintf(&sb, "- **Participant:** %s\n", conv.Participant)
	fmt.Fprintf(&sb, "- **State:** `%s`\n", conv.State)
	if conv.CurrentNode != "" {
		fmt.Fprintf(&sb, "- **Node:** `%s`\n", conv.CurrentNode)
	}
	if conv.AssignedAgent != "" {
		fmt.Fprintf(&sb, "- **Agent:** %s\n", conv.AssignedAgent)
	}
	sb.WriteString("\n---\n\n")

	if len(msgs) == 0 {
		sb.WriteString("_No messages._\n")
		return sb.String()
	}
	for _, m := range msgs {
		ts := m.CreatedAt.Format("15:04:05")
		if m.Direction == domain.DirectionInbound {
			fmt.Fprintf(&sb, "**%s** · %s\n\n", conv.Participant, ts)
			for _, line := range strings.Split(m.Content, "\n") {
				fmt.Fprintf(&sb, "> %s\n", line)
			}
		} else {
			fmt.Fprintf(&sb, "**outbound** · %s\n\n%s\n", ts, m.Content)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
