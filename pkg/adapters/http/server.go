package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/internal/compiler"
	"github.com/aretw0/wabaflow/internal/validator"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/ports"
	"github.com/aretw0/wabaflow/pkg/runner"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/tidwall/gjson"
)

// maxBodyBytes bounds every request body, flow documents included.
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// Engine is the part of the wabaflow engine exposed over HTTP.
type Engine interface {
	PublishFlow(ctx context.Context, flow *domain.Flow) error
	Conversations(ctx context.Context, filter domain.ConversationFilter) ([]domain.Conversation, error)
	Transcript(ctx context.Context, conversationID int64) (*wabaflow.Transcript, error)
	Assign(ctx context.Context, conversationID int64, agent string) (*domain.Conversation, error)
	Reply(ctx context.Context, conversationID int64, content string) (*domain.Message, error)
	Store() ports.Store
}

var _ Engine = (*wabaflow.Engine)(nil)

// Server serves the webhook, the operator API and the OpenAPI document.
// Inbound events are never handled inline: they are queued for the worker.
type Server struct {
	Engine Engine
	Queue  ports.Queue

	metrics      http.Handler
	logger       *slog.Logger
	verifyToken  string
	maxInputSize int
	parser       *compiler.Parser
	inbound      *openapi3.Schema
	envelope     *openapi3.Schema
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithVerifyToken enables the WhatsApp subscription handshake on GET /webhook/whatsapp.
func WithVerifyToken(token string) Option {
	return func(s *Server) {
		s.verifyToken = token
	}
}

// WithMaxInputSize bounds inbound and reply text. Non-positive means runner.DefaultMaxInputSize.
func WithMaxInputSize(n int) Option {
	return func(s *Server) {
		s.maxInputSize = n
	}
}

// NewServer validates the embedded OpenAPI document and builds a Server.
func NewServer(engine Engine, queue ports.Queue, opts ...Option) (*Server, error) {
	doc, err := GetSwagger()
	if err != nil {
		return nil, err
	}
	inbound, err := schema(doc, "InboundEvent")
	if err != nil {
		return nil, err
	}
	envelope, err := schema(doc, "CloudEnvelope")
	if err != nil {
		return nil, err
	}

	s := &Server{
		Engine:   engine,
		Queue:    queue,
		logger:   slog.Default(),
		parser:   compiler.NewParser(),
		inbound:  inbound,
		envelope: envelope,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, queue ports.Queue, opts ...Option) (http.Handler, error) {
	s, err := NewServer(engine, queue, opts...)
	if err != nil {
		return nil, err
	}
	return s.Routes(), nil
}

// Routes returns the router with CORS applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Get("/webhook/whatsapp", s.VerifyWebhook)
	r.Post("/webhook/whatsapp", s.ReceiveWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/dev/simulate", s.SimulateInbound)

		r.Get("/tenants", s.ListTenants)
		r.Post("/tenants", s.CreateTenant)
		r.Get("/tenants/{id}/flows", s.ListFlows)
		r.Post("/tenants/{id}/flows", s.CreateFlow)
		r.Get("/tenants/{id}/audit", s.ListAudit)

		r.Get("/conversations", s.ListConversations)
		r.Get("/conversations/{id}", s.GetTranscript)
		r.Post("/conversations/{id}/assign", s.AssignConversation)
		r.Post("/conversations/{id}/reply", s.ReplyConversation)
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>WABA Flow API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GetHealth")
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "wabaflow-http",
		"version":     strings.TrimSpace(wabaflow.Version),
		"api_version": apiVersion,
	}, "GetInfo")
}

// SimulateInbound handles POST /api/dev/simulate.
func (s *Server) SimulateInbound(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, "SimulateInbound", err)
		return
	}
	event, err := s.decodeEvent(body)
	if err != nil {
		s.writeError(w, "SimulateInbound", err)
		return
	}
	s.enqueue(w, r, "SimulateInbound", []domain.InboundEvent{event})
}

// ListTenants handles GET /api/tenants.
func (s *Server) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.Engine.Store().ListTenants(r.Context())
	if err != nil {
		s.writeError(w, "ListTenants", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(tenants), "ListTenants")
}

// CreateTenant handles POST /api/tenants.
func (s *Server) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("CreateTenant: Invalid request body", "error", err)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		s.writeError(w, "CreateTenant", fmt.Errorf("%w: name is required", errBadRequest))
		return
	}

	tenant, err := s.Engine.Store().CreateTenant(r.Context(), name)
	if err != nil {
		s.writeError(w, "CreateTenant", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tenant, "CreateTenant")
}

// FlowCreated is the response of POST /api/tenants/{id}/flows.
// Warnings are graph issues that do not prevent the flow from being stored.
type FlowCreated struct {
	Flow     *domain.Flow       `json:"flow"`
	Warnings []validator.Issue `json:"warnings"`
}

// CreateFlow handles POST /api/tenants/{id}/flows.
func (s *Server) CreateFlow(w http.ResponseWriter, r *http.Request) {
	tenantID, err := bindID(r)
	if err != nil {
		s.writeError(w, "CreateFlow", err)
		return
	}
	if _, err := s.Engine.Store().GetTenant(r.Context(), tenantID); err != nil {
		s.writeError(w, "CreateFlow", err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, "CreateFlow", err)
		return
	}
	flow, err := s.decodeFlow(body)
	if err != nil {
		s.writeError(w, "CreateFlow", err)
		return
	}
	flow.TenantID = tenantID

	if err := s.Engine.PublishFlow(r.Context(), flow); err != nil {
		s.writeError(w, "CreateFlow", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, FlowCreated{
		Flow:     flow,
		Warnings: nonNil(validator.ValidateGraph(flow.Definition)),
	}, "CreateFlow")
}

// ListFlows handles GET /api/tenants/{id}/flows.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	tenantID, err := bindID(r)
	if err != nil {
		s.writeError(w, "ListFlows", err)
		return
	}
	flows, err := s.Engine.Store().ListFlows(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, "ListFlows", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(flows), "ListFlows")
}

// ListAudit handles GET /api/tenants/{id}/audit.
func (s *Server) ListAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := bindID(r)
	if err != nil {
		s.writeError(w, "ListAudit", err)
		return
	}
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		s.writeError(w, "ListAudit", fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	entries, err := s.Engine.Store().ListAudit(r.Context(), tenantID, deref(limit))
	if err != nil {
		s.writeError(w, "ListAudit", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(entries), "ListAudit")
}

// ListConversations handles GET /api/conversations.
func (s *Server) ListConversations(w http.ResponseWriter, r *http.Request) {
	var (
		tenantID *int64
		state    *string
		limit    *int
	)
	query := r.URL.Query()
	for name, dest := range map[string]any{"tenant_id": &tenantID, "state": &state, "limit": &limit} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			s.writeError(w, "ListConversations", fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
	}

	filter := domain.ConversationFilter{
		TenantID: deref(tenantID),
		State:    domain.ConversationState(deref(state)),
		Limit:    deref(limit),
	}
	if filter.State != "" && !filter.State.Valid() {
		s.writeError(w, "ListConversations", fmt.Errorf("%w: unknown state %q", errBadRequest, filter.State))
		return
	}

	convs, err := s.Engine.Conversations(r.Context(), filter)
	if err != nil {
		s.writeError(w, "ListConversations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(convs), "ListConversations")
}

// GetTranscript handles GET /api/conversations/{id}.
func (s *Server) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		s.writeError(w, "GetTranscript", err)
		return
	}
	transcript, err := s.Engine.Transcript(r.Context(), id)
	if err != nil {
		s.writeError(w, "GetTranscript", err)
		return
	}
	transcript.Messages = nonNil(transcript.Messages)
	s.writeJSON(w, http.StatusOK, transcript, "GetTranscript")
}

// AssignConversation handles POST /api/conversations/{id}/assign.
func (s *Server) AssignConversation(w http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		s.writeError(w, "AssignConversation", err)
		return
	}
	var body struct {
		Agent string `json:"agent"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("AssignConversation: Invalid request body", "error", err)
		return
	}
	agent := strings.TrimSpace(body.Agent)
	if agent == "" {
		s.writeError(w, "AssignConversation", fmt.Errorf("%w: agent is required", errBadRequest))
		return
	}

	conv, err := s.Engine.Assign(r.Context(), id, agent)
	if err != nil {
		s.writeError(w, "AssignConversation", err)
		return
	}
	s.writeJSON(w, http.StatusOK, conv, "AssignConversation")
}

// ReplyConversation handles POST /api/conversations/{id}/reply.
func (s *Server) ReplyConversation(w http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		s.writeError(w, "ReplyConversation", err)
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("ReplyConversation: Invalid request body", "error", err)
		return
	}
	text, err := runner.SanitizeInput(body.Text, s.maxInputSize)
	if err != nil {
		s.writeError(w, "ReplyConversation", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		s.writeError(w, "ReplyConversation", fmt.Errorf("%w: text is required", errBadRequest))
		return
	}

	msg, err := s.Engine.Reply(r.Context(), id, text)
	if err != nil {
		s.writeError(w, "ReplyConversation", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, msg, "ReplyConversation")
}

// QueuedResponse acknowledges that inbound events were accepted for processing.
type QueuedResponse struct {
	Status string `json:"status"`
	Queued int    `json:"queued"`
}

// enqueue sanitizes every event before queueing any of them, so a bad message
// in an envelope rejects the whole request.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, op string, events []domain.InboundEvent) {
	clean := make([]domain.InboundEvent, 0, len(events))
	for _, event := range events {
		event, err := runner.SanitizeEvent(event, s.maxInputSize)
		if err != nil {
			s.writeError(w, op, err)
			return
		}
		if err := event.Validate(); err != nil {
			s.writeError(w, op, err)
			return
		}
		clean = append(clean, event)
	}

	for _, event := range clean {
		d, err := s.Queue.Enqueue(r.Context(), event)
		if err != nil {
			s.writeError(w, op, fmt.Errorf("failed to enqueue event: %w", err))
			return
		}
		s.logger.Debug("Inbound event queued", "delivery_id", d.ID, "tenant_id", event.TenantID)
	}
	s.writeJSON(w, http.StatusAccepted, QueuedResponse{Status: "queued", Queued: len(clean)}, op)
}

// decodeEvent validates body against the InboundEvent schema before decoding it.
func (s *Server) decodeEvent(body []byte) (domain.InboundEvent, error) {
	var event domain.InboundEvent
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return event, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := s.inbound.VisitJSON(value); err != nil {
		return event, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return event, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return event, nil
}

// decodeFlow accepts a Flow-shaped JSON object with a definition, or a flow
// document (JSON or YAML) with top-level nodes.
func (s *Server) decodeFlow(body []byte) (*domain.Flow, error) {
	var (
		flow *domain.Flow
		err  error
	)
	if def := gjson.GetBytes(body, "definition"); gjson.ValidBytes(body) && def.Exists() {
		raw := map[string]any{"nodes": def.Get("nodes").Value()}
		for _, key := range []string{"name", "status", "version"} {
			if v := gjson.GetBytes(body, key); v.Exists() {
				raw[key] = v.Value()
			}
		}
		flow, err = s.parser.Decode(raw)
	} else {
		flow, err = s.parser.Parse(body)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return flow, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any, op string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(op+" response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	s.logger.Warn(op+": request rejected", "error", err, "status", status)
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidDefinition),
		errors.Is(err, runner.ErrInputTooLarge),
		errors.Is(err, runner.ErrInvalidUTF8),
		errors.Is(err, compiler.ErrEmptyDocument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}

// bindID binds the {id} path parameter.
func bindID(r *http.Request) (int64, error) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return id, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// nonNil keeps empty lists encoded as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
