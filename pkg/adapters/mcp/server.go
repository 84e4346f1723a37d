package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/internal/compiler"
	"github.com/aretw0/wabaflow/internal/validator"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/aretw0/wabaflow/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const flowURITemplate = "wabaflow://tenants/{id}/flow"

// Engine defines what the MCP server needs from the wabaflow engine.
type Engine interface {
	ports.InboundHandler
	PublishFlow(ctx context.Context, flow *domain.Flow) error
	Conversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
	Transcript(ctx context.Context, conversationID int64) (*wabaflow.Transcript, error)
	Assign(ctx context.Context, conversationID int64, agent string) (*domain.Conversation, error)
	Store() ports.Store
}

var _ Engine = (*wabaflow.Engine)(nil)

// SimulateArgs are the arguments of simulate_inbound.
type SimulateArgs struct {
	TenantID   int64  `json:"tenant_id"`
	FromNumber string `json:"from_number"`
	Text       string `json:"text"`
}

// SimulateResponse reports what a simulated inbound message did.
type SimulateResponse struct {
	Conversation *domain.Conversation `json:"conversation" jsonschema_description:"The conversation after the walk"`
	Stop         domain.StopReason    `json:"stop" jsonschema_description:"Why the walk ended"`
	Cause        string               `json:"cause,omitempty" jsonschema_description:"Absorbed fault, if any"`
	Replies      []string             `json:"replies" jsonschema_description:"Outbound messages emitted, in order"`
}

// ListConversationsArgs are the arguments of list_conversations.
type ListConversationsArgs struct {
	TenantID int64  `json:"tenant_id"`
	State    string `json:"state"`
	Limit    int    `json:"limit"`
}

// ConversationList wraps a listing; structured tool output must be an object.
type ConversationList struct {
	Conversations []domain.Conversation `json:"conversations"`
}

// ConversationArgs identify a conversation.
type ConversationArgs struct {
	ConversationID int64  `json:"conversation_id"`
	Agent          string `json:"agent,omitempty"`
}

// PublishArgs are the arguments of publish_flow.
type PublishArgs struct {
	TenantID int64  `json:"tenant_id"`
	Document string `json:"document"`
}

// PublishResponse carries the stored flow and its graph warnings.
type PublishResponse struct {
	Flow     *domain.Flow      `json:"flow"`
	Warnings []validator.Issue `json:"warnings"`
}

// Server wraps the engine and exposes it as an MCP server for operators and agents.
type Server struct {
	engine       Engine
	parser       *compiler.Parser
	maxInputSize int
	mcpServer    *server.MCPServer
}

// Option configures a Server.
type Option func(*Server)

// WithMaxInputSize bounds simulated text. Non-positive means runner.DefaultMaxInputSize.
func WithMaxInputSize(n int) Option {
	return func(s *Server) {
		s.maxInputSize = n
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		parser:    compiler.NewParser(),
		mcpServer: server.NewMCPServer("wabaflow-mcp", strings.TrimSpace(wabaflow.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, e.g. for custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	// TOOL: simulate_inbound
	s.mcpServer.AddTool(mcp.NewTool("simulate_inbound",
		mcp.WithDescription("Deliver a participant message to a tenant's active flow and return the bot replies."),
		mcp.WithNumber("tenant_id", mcp.Required(), mcp.Description("Tenant that owns the flow")),
		mcp.WithString("from_number", mcp.Description("Participant phone number (defaults to 'unknown')")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithOutputSchema[SimulateResponse](),
	), mcp.NewStructuredToolHandler(s.handleSimulate))

	// TOOL: list_conversations
	s.mcpServer.AddTool(mcp.NewTool("list_conversations",
		mcp.WithDescription("List conversations, most recently updated first."),
		mcp.WithNumber("tenant_id", mcp.Description("Only this tenant (optional)")),
		mcp.WithString("state", mcp.Description("Only this state (optional)"),
			mcp.Enum(string(domain.StateAutomated), string(domain.StateWaitingForUser),
				string(domain.StateEscalated), string(domain.StateClosed))),
		mcp.WithNumber("limit", mcp.Description("Maximum number of conversations (optional)"), mcp.Min(0)),
		mcp.WithOutputSchema[ConversationList](),
	), mcp.NewStructuredToolHandler(s.handleListConversations))

	// TOOL: get_transcript
	s.mcpServer.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Get a conversation and its messages in order."),
		mcp.WithNumber("conversation_id", mcp.Required(), mcp.Description("Conversation ID")),
		mcp.WithOutputSchema[wabaflow.Transcript](),
	), mcp.NewStructuredToolHandler(s.handleTranscript))

	// TOOL: assign_conversation
	s.mcpServer.AddTool(mcp.NewTool("assign_conversation",
		mcp.WithDescription("Hand a conversation to a human agent. Automation stops for it."),
		mcp.WithNumber("conversation_id", mcp.Required(), mcp.Description("Conversation ID")),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent name")),
		mcp.WithOutputSchema[domain.Conversation](),
	), mcp.NewStructuredToolHandler(s.handleAssign))

	// TOOL: publish_flow
	s.mcpServer.AddTool(mcp.NewTool("publish_flow",
		mcp.WithDescription("Store a new flow version from a YAML or JSON flow document."),
		mcp.WithNumber("tenant_id", mcp.Required(), mcp.Description("Tenant that owns the flow")),
		mcp.WithString("document", mcp.Required(), mcp.Description("Flow document with top-level nodes")),
		mcp.WithOutputSchema[PublishResponse](),
	), mcp.NewStructuredToolHandler(s.handlePublish))
}

func (s *Server) handleSimulate(ctx context.Context, request mcp.CallToolRequest, args SimulateArgs) (SimulateResponse, error) {
	event, err := runner.SanitizeEvent(domain.InboundEvent{
		TenantID:   args.TenantID,
		FromNumber: args.FromNumber,
		Text:       args.Text,
	}, s.maxInputSize)
	if err != nil {
		slog.Warn("MCP Simulate: Input rejected", "error", err, "size", len(args.Text))
		return SimulateResponse{}, fmt.Errorf("input rejected: %w", err)
	}

	res, err := s.engine.HandleInbound(ctx, event)
	if err != nil {
		return SimulateResponse{}, fmt.Errorf("simulate failed: %w", err)
	}

	resp := SimulateResponse{
		Conversation: res.Conversation,
		Stop:         res.Outcome.Stop,
		Replies:      make([]string, 0, len(res.Outcome.Emitted)),
	}
	if res.Outcome.Cause != nil {
		resp.Cause = res.Outcome.Cause.Error()
	}
	for _, m := range res.Outcome.Emitted {
		resp.Replies = append(resp.Replies, m.Content)
	}
	return resp, nil
}

func (s *Server) handleListConversations(ctx context.Context, request mcp.CallToolRequest, args ListConversationsArgs) (ConversationList, error) {
	state := domain.ConversationState(args.State)
	if state != "" && !state.Valid() {
		return ConversationList{}, fmt.Errorf("unknown state %q", args.State)
	}
	convs, err := s.engine.Conversations(ctx, domain.ConversationFilter{
		TenantID: args.TenantID,
		State:    state,
		Limit:    args.Limit,
	})
	if err != nil {
		return ConversationList{}, fmt.Errorf("list failed: %w", err)
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return ConversationList{Conversations: convs}, nil
}

func (s *Server) handleTranscript(ctx context.Context, request mcp.CallToolRequest, args ConversationArgs) (wabaflow.Transcript, error) {
	t, err := s.engine.Transcript(ctx, args.ConversationID)
	if err != nil {
		return wabaflow.Transcript{}, fmt.Errorf("transcript failed: %w", err)
	}
	return *t, nil
}

func (s *Server) handleAssign(ctx context.Context, request mcp.CallToolRequest, args ConversationArgs) (domain.Conversation, error) {
	conv, err := s.engine.Assign(ctx, args.ConversationID, args.Agent)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("assign failed: %w", err)
	}
	return *conv, nil
}

func (s *Server) handlePublish(ctx context.Context, request mcp.CallToolRequest, args PublishArgs) (PublishResponse, error) {
	if _, err := s.engine.Store().GetTenant(ctx, args.TenantID); err != nil {
		return PublishResponse{}, err
	}
	flow, err := s.parser.Parse([]byte(args.Document))
	if err != nil {
		return PublishResponse{}, fmt.Errorf("invalid flow document: %w", err)
	}
	flow.TenantID = args.TenantID
	if err := s.engine.PublishFlow(ctx, flow); err != nil {
		return PublishResponse{}, fmt.Errorf("publish failed: %w", err)
	}
	warnings := validator.ValidateGraph(flow.Definition)
	if warnings == nil {
		warnings = []validator.Issue{}
	}
	return PublishResponse{Flow: flow, Warnings: warnings}, nil
}

func (s *Server) registerResources() {
	// EXPOSE: wabaflow://tenants
	s.mcpServer.AddResource(mcp.NewResource("wabaflow://tenants", "Tenants",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tenants, err := s.engine.Store().ListTenants(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}
		return jsonContents(request.Params.URI, tenants)
	})

	// EXPOSE: wabaflow://tenants/{id}/flow
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(flowURITemplate, "Active Flow",
		mcp.WithTemplateDescription("The published flow with the highest version for a tenant"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readActiveFlow)
}

func (s *Server) readActiveFlow(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tenantID, err := tenantFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}
	flow, err := s.engine.Store().ActiveFlow(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveFlow) {
			return nil, fmt.Errorf("tenant %d has no active flow: %w", tenantID, err)
		}
		return nil, fmt.Errorf("failed to resolve active flow: %w", err)
	}
	return jsonContents(request.Params.URI, flow)
}

// tenantFromURI extracts {id} from wabaflow://tenants/{id}/flow.
func tenantFromURI(uri string) (int64, error) {
	rest, ok := strings.CutPrefix(uri, "wabaflow://tenants/")
	if !ok {
		return 0, fmt.Errorf("unexpected resource uri %q", uri)
	}
	raw, ok := strings.CutSuffix(rest, "/flow")
	if !ok {
		return 0, fmt.Errorf("unexpected resource uri %q", uri)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q in %q", raw, uri)
	}
	return id, nil
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
