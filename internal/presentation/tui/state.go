package tui

import (
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/muesli/termenv"
)

var stateColors = map[domain.ConversationState]string{
	domain.StateAutomated:      "#60a5fa",
	domain.StateWaitingForUser: "#fbbf24",
	domain.StateEscalated:      "#f87171",
	domain.StateClosed:         "#9ca3af",
}

// StateLabel colors a conversation state for the given profile.
// termenv.Ascii yields the plain state name.
func StateLabel(p termenv.Profile, state domain.ConversationState) string {
	s := p.String(string(state))
	if c, ok := stateColors[state]; ok {
		s = s.Foreground(p.Color(c))
	}
	if state == domain.StateEscalated {
		s = s.Bold()
	}
	return s.String()
}
