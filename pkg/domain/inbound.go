package domain

import "fmt"

// UnknownParticipant is used when an inbound event carries no sender.
const UnknownParticipant = "unknown"

// InboundEvent is one participant message delivered to the engine.
type InboundEvent struct {
	TenantID   int64  `json:"tenant_id"`
	FromNumber string `json:"from_number"`
	Text       string `json:"text"`

	// DeliveryID identifies the queue delivery that carried the event.
	// Redeliveries keep it, so the inbound message is logged once.
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Participant returns the sender identifier, defaulting to UnknownParticipant.
func (e InboundEvent) Participant() string {
	if e.FromNumber == "" {
		return UnknownParticipant
	}
	return e.FromNumber
}

// Validate rejects events that cannot be routed to a tenant.
func (e InboundEvent) Validate() error {
	if e.TenantID <= 0 {
		return fmt.Errorf("%w: tenant_id must be positive, got %d", ErrInvalidEvent, e.TenantID)
	}
	return nil
}
