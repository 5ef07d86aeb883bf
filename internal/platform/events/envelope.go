// Package events carries outbox change events to external buses. Every sink publishes the same
// JSON envelope and returns only after the bus acknowledged the message, so the relay can mark
// the event published.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

const (
	envelopeVersion = 1
	producerName    = "wyshkit-api"
)

// Envelope is the wire form of an outbox event. BuyerID and SellerID exist for routing and
// ownership filtering; Payload is the client-facing body.
type Envelope struct {
	EventID      string          `json:"eventId"`
	Type         string          `json:"type"`
	EventVersion int             `json:"eventVersion"`
	Producer     string          `json:"producer"`
	OccurredAt   time.Time       `json:"occurredAt"`
	OrderID      string          `json:"orderId,omitempty"`
	BuyerID      string          `json:"buyerId,omitempty"`
	SellerID     string          `json:"sellerId,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// Sink publishes one event and reports whether the bus accepted it.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event domain.OutboxEvent) error
}

// FromOutbox builds the envelope for event.
func FromOutbox(event domain.OutboxEvent) (Envelope, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: encode payload of %s: %w", event.ID, err)
	}
	return Envelope{
		EventID:      event.ID,
		Type:         event.Type,
		EventVersion: envelopeVersion,
		Producer:     producerName,
		OccurredAt:   event.OccurredAt.UTC(),
		OrderID:      event.OrderID,
		BuyerID:      event.BuyerID,
		SellerID:     event.SellerID,
		Payload:      payload,
	}, nil
}

// Encode marshals the envelope of event.
func Encode(event domain.OutboxEvent) ([]byte, error) {
	env, err := FromOutbox(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses an encoded envelope back into an outbox event. Payload numbers decode as float64.
func Decode(data []byte) (domain.OutboxEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	var payload map[string]any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return domain.OutboxEvent{}, fmt.Errorf("events: decode payload: %w", err)
		}
	}
	return domain.OutboxEvent{
		ID:         env.EventID,
		Type:       env.Type,
		OrderID:    env.OrderID,
		BuyerID:    env.BuyerID,
		SellerID:   env.SellerID,
		Payload:    payload,
		OccurredAt: env.OccurredAt,
	}, nil
}

// partitionKey keeps every event of one order (or one buyer's cart) on the same partition.
func partitionKey(event domain.OutboxEvent) string {
	if event.OrderID != "" {
		return event.OrderID
	}
	return event.BuyerID
}
