package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/internal/testutils"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T) (*Server, *wabaflow.Engine, *domain.Tenant) {
	t.Helper()
	engine, tenant := testutils.SetupTenant(t)
	return NewServer(engine), engine, tenant
}

func TestMCP_ListsTools(t *testing.T) {
	s, _, _ := newTestServer(t)

	resp := s.MCPServer().HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var names []string
	for _, n := range gjson.GetBytes(raw, "result.tools.#.name").Array() {
		names = append(names, n.String())
	}
	assert.ElementsMatch(t, []string{
		"simulate_inbound", "list_conversations", "get_transcript", "assign_conversation", "publish_flow",
	}, names)
}

func TestMCP_SimulateAndInbox(t *testing.T) {
	s, engine, tenant := newTestServer(t)
	ctx := context.Background()
	testutils.Publish(t, engine, tenant.ID, dsl.New().
		Send("greet", "Olá!").Go("menu").
		Ask("menu", "1 ou 2?").Go("menu").
		MustBuild())

	sim, err := s.handleSimulate(ctx, mcp.CallToolRequest{}, SimulateArgs{TenantID: tenant.ID, FromNumber: "+55", Text: "oi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Olá!", "1 ou 2?"}, sim.Replies)
	assert.Equal(t, domain.StopSuspended, sim.Stop)
	assert.Equal(t, domain.StateWaitingForUser, sim.Conversation.State)

	list, err := s.handleListConversations(ctx, mcp.CallToolRequest{}, ListConversationsArgs{TenantID: tenant.ID, State: "waiting_for_user"})
	require.NoError(t, err)
	require.Len(t, list.Conversations, 1)

	_, err = s.handleListConversations(ctx, mcp.CallToolRequest{}, ListConversationsArgs{State: "asleep"})
	assert.Error(t, err)

	transcript, err := s.handleTranscript(ctx, mcp.CallToolRequest{}, ConversationArgs{ConversationID: sim.Conversation.ID})
	require.NoError(t, err)
	assert.Len(t, transcript.Messages, 3)

	conv, err := s.handleAssign(ctx, mcp.CallToolRequest{}, ConversationArgs{ConversationID: sim.Conversation.ID, Agent: "bia"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateEscalated, conv.State)

	sim, err = s.handleSimulate(ctx, mcp.CallToolRequest{}, SimulateArgs{TenantID: tenant.ID, FromNumber: "+55", Text: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StopHandedOff, sim.Stop)
	assert.Empty(t, sim.Replies)
}

func TestMCP_SimulateErrors(t *testing.T) {
	s, _, tenant := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleSimulate(ctx, mcp.CallToolRequest{}, SimulateArgs{TenantID: tenant.ID, Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)

	_, err = s.handleSimulate(ctx, mcp.CallToolRequest{}, SimulateArgs{TenantID: tenant.ID, Text: string([]byte{0xff})})
	assert.ErrorContains(t, err, "input rejected")

	_, err = s.handleTranscript(ctx, mcp.CallToolRequest{}, ConversationArgs{ConversationID: 404})
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestMCP_PublishAndReadActiveFlow(t *testing.T) {
	s, _, tenant := newTestServer(t)
	ctx := context.Background()

	resp, err := s.handlePublish(ctx, mcp.CallToolRequest{}, PublishArgs{
		TenantID: tenant.ID,
		Document: "name: hello\nnodes:\n  - {id: hi, type: send_message, message: Hi, next: bye}\n",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Flow.Version)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, "hi", resp.Warnings[0].NodeID)

	_, err = s.handlePublish(ctx, mcp.CallToolRequest{}, PublishArgs{TenantID: 99, Document: "nodes: []"})
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = fmt.Sprintf("wabaflow://tenants/%d/flow", tenant.ID)
	contents, err := s.readActiveFlow(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcp.TextResourceContents).Text
	assert.Equal(t, "hello", gjson.Get(text, "name").String())
	assert.Equal(t, "hi", gjson.Get(text, "definition.nodes.0.id").String())

	req.Params.URI = fmt.Sprintf("wabaflow://tenants/%d/flow", tenant.ID+1000)
	_, err = s.readActiveFlow(ctx, req)
	assert.ErrorIs(t, err, domain.ErrNoActiveFlow)
}

func TestTenantFromURI(t *testing.T) {
	id, err := tenantFromURI("wabaflow://tenants/42/flow")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, uri := range []string{"wabaflow://tenants/x/flow", "wabaflow://tenants/0/flow", "other://tenants/1/flow", "wabaflow://tenants/1"} {
		_, err := tenantFromURI(uri)
		assert.Error(t, err, uri)
	}
}
