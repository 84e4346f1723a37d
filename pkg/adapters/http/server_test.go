package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/wabaflow"
	"github.com/aretw0/wabaflow/pkg/adapters/memory"
	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/aretw0/wabaflow/pkg/dsl"
	"github.com/aretw0/wabaflow/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	store  *memory.Store
	queue  *memory.Queue
	engine *wabaflow.Engine
	srv    *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	engine, err := wabaflow.New(store)
	require.NoError(t, err)
	queue := memory.NewQueue(16)

	handler, err := NewHandler(engine, queue, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &fixture{t: t, store: store, queue: queue, engine: engine, srv: srv}
}

func (f *fixture) do(method, path, contentType, body string) *http.Response {
	f.t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(f.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) post(path, body string) *http.Response {
	return f.do(http.MethodPost, path, "application/json", body)
}

func (f *fixture) get(path string) *http.Response {
	return f.do(http.MethodGet, path, "", "")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) dequeue() domain.InboundEvent {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := f.queue.Dequeue(ctx)
	require.NoError(f.t, err)
	require.NoError(f.t, f.queue.Ack(ctx, d))
	return d.Event
}

func TestGetSwagger(t *testing.T) {
	doc, err := GetSwagger()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", doc.Info.Version)
	assert.NotNil(t, doc.Paths.Find("/webhook/whatsapp"))
}

func TestServer_HealthInfoAndDocs(t *testing.T) {
	f := newFixture(t)

	resp := f.get("/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, resp))

	info := decode[map[string]string](t, f.get("/info"))
	assert.Equal(t, "wabaflow-http", info["app"])
	assert.Equal(t, "1.0.0", info["api_version"])

	resp = f.get("/openapi.yaml")
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "InboundEvent")

	resp = f.do(http.MethodOptions, "/api/tenants", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNotFound, f.get("/metrics").StatusCode, "metrics are opt-in")
}

func TestServer_Metrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.ObserveInbound("processed")
	f := newFixture(t, WithMetrics(metrics.Handler()))

	resp := f.get("/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "wabaflow_inbound_events_total")
}

func TestServer_SimulateInbound(t *testing.T) {
	f := newFixture(t)

	resp := f.post("/api/dev/simulate", `{"tenant_id": 7, "from_number": " +5511 ", "text": "hi\u0000 there"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, QueuedResponse{Status: "queued", Queued: 1}, decode[QueuedResponse](t, resp))

	event := f.dequeue()
	assert.Equal(t, int64(7), event.TenantID)
	assert.Equal(t, "+5511", event.FromNumber)
	assert.Equal(t, "hi there", event.Text)
}

func TestServer_SimulateInboundRejects(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"Not JSON", `{"tenant_id":`},
		{"Missing Tenant", `{"text": "hi"}`},
		{"Tenant Below Minimum", `{"tenant_id": 0, "text": "hi"}`},
		{"Wrong Type", `{"tenant_id": "one", "text": "hi"}`},
		{"Too Large", `{"tenant_id": 1, "text": "` + strings.Repeat("a", 5000) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post("/api/dev/simulate", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

const cloudEnvelope = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "102290129340398",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"phone_number_id": "106540352242922"},
        "messages": [
          {"from": "5511999990001", "id": "wamid.1", "type": "text", "text": {"body": "oi"}},
          {"from": "5511999990002", "id": "wamid.2", "type": "image", "image": {"id": "img"}},
          {"from": "5511999990003", "id": "wamid.3", "type": "text", "text": {"body": "menu"}}
        ]
      }
    }, {
      "field": "messages",
      "value": {"statuses": [{"id": "wamid.0", "status": "delivered"}]}
    }]
  }]
}`

func TestServer_WebhookEnvelope(t *testing.T) {
	f := newFixture(t)

	resp := f.post("/webhook/whatsapp?tenant_id=3", cloudEnvelope)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 2, decode[QueuedResponse](t, resp).Queued)

	assert.Equal(t, domain.InboundEvent{TenantID: 3, FromNumber: "5511999990001", Text: "oi", DeliveryID: "wamid.1"}, f.dequeue())
	assert.Equal(t, domain.InboundEvent{TenantID: 3, FromNumber: "5511999990003", Text: "menu", DeliveryID: "wamid.3"}, f.dequeue())
}

func TestServer_WebhookSimpleEvent(t *testing.T) {
	f := newFixture(t)

	resp := f.post("/webhook/whatsapp", `{"tenant_id": 2, "text": "hello"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, domain.InboundEvent{TenantID: 2, Text: "hello"}, f.dequeue())
}

func TestServer_WebhookEnvelopeNeedsTenant(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.post("/webhook/whatsapp", cloudEnvelope).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post("/webhook/whatsapp?tenant_id=abc", cloudEnvelope).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post("/webhook/whatsapp?tenant_id=1", `{"entry": "nope"}`).StatusCode)
}

func TestServer_VerifyWebhook(t *testing.T) {
	f := newFixture(t, WithVerifyToken("s3cret"))

	resp := f.get("/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=s3cret&hub.challenge=1158201444")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "1158201444", string(body))

	resp = f.get("/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	unconfigured := newFixture(t)
	resp = unconfigured.get("/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=1")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

const welcomeYAML = `
name: welcome
nodes:
  - id: greet
    type: send_message
    message: Olá!
    next: orphan_target
  - id: lonely
    type: end
`

func TestServer_TenantsAndFlows(t *testing.T) {
	f := newFixture(t)

	resp := f.post("/api/tenants", `{"name": " Acme "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	tenant := decode[domain.Tenant](t, resp)
	assert.Equal(t, "Acme", tenant.Name)

	tenants := decode[[]domain.Tenant](t, f.get("/api/tenants"))
	require.Len(t, tenants, 1)

	path := "/api/tenants/" + itoa(tenant.ID) + "/flows"

	resp = f.do(http.MethodPost, path, "application/yaml", welcomeYAML)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[FlowCreated](t, resp)
	assert.Equal(t, tenant.ID, created.Flow.TenantID)
	assert.Equal(t, 1, created.Flow.Version)
	assert.Equal(t, domain.FlowStatusPublished, created.Flow.Status)
	assert.Len(t, created.Warnings, 2, "broken next and unreachable node")

	resp = f.post(path, `{"name": "welcome", "status": "draft", "definition": {"nodes": [
		{"id": "hi", "type": "send_message", "message": "Hi"}
	]}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created = decode[FlowCreated](t, resp)
	assert.Equal(t, 2, created.Flow.Version)
	assert.Equal(t, domain.FlowStatusDraft, created.Flow.Status)
	assert.Empty(t, created.Warnings)

	flows := decode[[]domain.Flow](t, f.get(path))
	require.Len(t, flows, 2)
	assert.Equal(t, 2, flows[0].Version)

	audit := decode[[]domain.AuditEntry](t, f.get("/api/tenants/"+itoa(tenant.ID)+"/audit?limit=1"))
	require.Len(t, audit, 1)
	assert.Equal(t, domain.AuditFlowCreated, audit[0].EventType)
}

func TestServer_FlowErrors(t *testing.T) {
	f := newFixture(t)
	tenant, err := f.store.CreateTenant(context.Background(), "acme")
	require.NoError(t, err)
	path := "/api/tenants/" + itoa(tenant.ID) + "/flows"

	assert.Equal(t, http.StatusNotFound, f.post("/api/tenants/999/flows", `{"nodes": []}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/tenants/abc/flows", `{"nodes": []}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(path, ``).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(path, `{"nodes": [{"id": "a"}]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post(path, `{"nodes": [], "bogus": true}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/tenants", `{"name": "  "}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/tenants", `name`).StatusCode)
}

func TestServer_Inbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def := dsl.New().Send("greet", "Hi").MustBuild()
	require.NoError(t, f.engine.PublishFlow(ctx, &domain.Flow{TenantID: 1, Name: "hi", Definition: def}))
	res, err := f.engine.HandleInbound(ctx, domain.InboundEvent{TenantID: 1, FromNumber: "+1", Text: "hello"})
	require.NoError(t, err)
	id := itoa(res.Conversation.ID)

	convs := decode[[]domain.Conversation](t, f.get("/api/conversations?tenant_id=1&state=automated"))
	require.Len(t, convs, 1)
	assert.Equal(t, "+1", convs[0].Participant)

	assert.Empty(t, decode[[]domain.Conversation](t, f.get("/api/conversations?tenant_id=2")))
	assert.Equal(t, http.StatusBadRequest, f.get("/api/conversations?state=sleeping").StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/conversations?limit=many").StatusCode)

	transcript := decode[wabaflow.Transcript](t, f.get("/api/conversations/"+id))
	require.Len(t, transcript.Messages, 2)
	assert.Equal(t, "hello", transcript.Messages[0].Content)
	assert.Equal(t, "Hi", transcript.Messages[1].Content)
	assert.Equal(t, http.StatusNotFound, f.get("/api/conversations/404").StatusCode)

	assert.Equal(t, http.StatusBadRequest, f.post("/api/conversations/"+id+"/assign", `{"agent": ""}`).StatusCode)
	resp := f.post("/api/conversations/"+id+"/assign", `{"agent": "ana"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	conv := decode[domain.Conversation](t, resp)
	assert.Equal(t, domain.StateEscalated, conv.State)
	assert.Equal(t, "ana", conv.AssignedAgent)
	assert.Equal(t, http.StatusNotFound, f.post("/api/conversations/404/assign", `{"agent": "ana"}`).StatusCode)

	resp = f.post("/api/conversations/"+id+"/reply", `{"text": "Olá, aqui é a Ana."}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decode[domain.Message](t, resp)
	assert.Equal(t, domain.DirectionOutbound, msg.Direction)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/conversations/"+id+"/reply", `{"text": " "}`).StatusCode)

	escalated := decode[[]domain.Conversation](t, f.get("/api/conversations?state=escalated&limit=10"))
	assert.Len(t, escalated, 1)
}

func TestParseEnvelope_Empty(t *testing.T) {
	assert.Empty(t, ParseEnvelope([]byte(`{"entry": []}`), 1))
	assert.Empty(t, ParseEnvelope([]byte(`{"entry": [{"changes": [{"value": {}}]}]}`), 1))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
