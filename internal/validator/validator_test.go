package validator

import (
	"testing"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateGraph(t *testing.T) {
	t.Run("Valid Graph", func(t *testing.T) {
		def := dsl.New().
			Send("start", "Hi").Go("a").
			Ask("a", "Name?").Go("b").
			End("b").
			MustBuild()
		assert.Empty(t, ValidateGraph(def))
	})

	t.Run("Broken Link", func(t *testing.T) {
		def := dsl.New().Send("start", "Hi").Go("ghost_node").MustBuild()
		issues := ValidateGraph(def)
		require.Len(t, issues, 1)
		assert.Equal(t, "start", issues[0].NodeID)
		assert.Contains(t, issues[0].String(), `next "ghost_node" does not exist`)
	})

	t.Run("Unreachable And Unknown", func(t *testing.T) {
		def := domain.Definition{Nodes: []domain.Node{
			{ID: "start", Type: "carousel", Next: "end"},
			{ID: "end", Type: domain.NodeTypeEnd},
			{ID: "orphan", Type: domain.NodeTypeSendMessage, Message: "?"},
		}}
		issues := ValidateGraph(def)
		ids := make([]string, 0, len(issues))
		for _, i := range issues {
			ids = append(ids, i.NodeID)
		}
		assert.Equal(t, []string{"start", "end", "orphan"}, ids)
	})

	t.Run("Cycle Is Fine", func(t *testing.T) {
		def := dsl.New().
			Ask("menu", "1 or 2?").Go("echo").
			Send("echo", "ok").Go("menu").
			MustBuild()
		assert.Empty(t, ValidateGraph(def))
	})

	t.Run("Empty Flow", func(t *testing.T) {
		assert.Len(t, ValidateGraph(domain.Definition{}), 1)
	})
}
