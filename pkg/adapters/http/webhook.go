package http

import (
	"fmt"
	"net/http"

	"github.com/aretw0/wabaflow/pkg/domain"
	"github.com/oapi-codegen/runtime"
	"github.com/tidwall/gjson"
)

// VerifyWebhook answers the WhatsApp Cloud API subscription handshake.
// Without a configured verify token every attempt is refused.
func (s *Server) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != s.verifyToken {
		s.logger.Warn("VerifyWebhook: handshake refused", "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(q.Get("hub.challenge")))
}

// ReceiveWebhook handles POST /webhook/whatsapp. The body is either a single
// InboundEvent or a Cloud API envelope, in which case tenant_id comes from the query.
func (s *Server) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, "ReceiveWebhook", err)
		return
	}
	if !gjson.ValidBytes(body) {
		s.writeError(w, "ReceiveWebhook", fmt.Errorf("%w: body is not valid JSON", errBadRequest))
		return
	}

	if !gjson.GetBytes(body, "entry").Exists() {
		event, err := s.decodeEvent(body)
		if err != nil {
			s.writeError(w, "ReceiveWebhook", err)
			return
		}
		s.enqueue(w, r, "ReceiveWebhook", []domain.InboundEvent{event})
		return
	}

	var tenantID int64
	if err := runtime.BindQueryParameter("form", true, true, "tenant_id", r.URL.Query(), &tenantID); err != nil {
		s.writeError(w, "ReceiveWebhook", fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := s.envelope.VisitJSON(gjson.ParseBytes(body).Value()); err != nil {
		s.writeError(w, "ReceiveWebhook", fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	s.enqueue(w, r, "ReceiveWebhook", ParseEnvelope(body, tenantID))
}

// ParseEnvelope extracts the text messages of a WhatsApp Cloud API webhook
// envelope. Status callbacks and non-text messages are skipped. The WhatsApp
// message id becomes the DeliveryID, so a webhook resent by Meta is logged once.
func ParseEnvelope(body []byte, tenantID int64) []domain.InboundEvent {
	var events []domain.InboundEvent
	gjson.GetBytes(body, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			change.Get("value.messages").ForEach(func(_, msg gjson.Result) bool {
				if msg.Get("type").String() != "text" {
					return true
				}
				events = append(events, domain.InboundEvent{
					TenantID:   tenantID,
					FromNumber: msg.Get("from").String(),
					Text:       msg.Get("text.body").String(),
					DeliveryID: msg.Get("id").String(),
				})
				return true
			})
			return true
		})
		return true
	})
	return events
}
