package domain

import "time"

// Change event types emitted by the notifier.
const (
	EventOrderStatusChanged   = "order.status_changed"
	EventPreviewStatusChanged = "order.preview_status_changed"
	EventCartUpdated          = "cart.updated"
)

// OutboxEvent is written in the same unit of work as the state change it describes and relayed
// to sinks afterwards, giving at-least-once delivery.
type OutboxEvent struct {
	ID          string
	Type        string
	OrderID     string
	BuyerID     string
	SellerID    string
	Payload     map[string]any
	OccurredAt  time.Time
	PublishedAt *time.Time
	Attempts    int
}

// Audience reports whether an event should be delivered to the actor.
func (e OutboxEvent) Audience(actor Actor) bool {
	switch actor.Kind {
	case ActorBuyer:
		return actor.ID != "" && actor.ID == e.BuyerID
	case ActorSeller:
		return actor.ID != "" && actor.ID == e.SellerID
	case ActorStaff:
		return true
	}
	return false
}

// OrderStatusChanged is the client-facing payload for order transitions.
type OrderStatusChanged struct {
	OrderID   string      `json:"orderId"`
	NewStatus OrderStatus `json:"newStatus"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// PreviewStatusChanged is the client-facing payload for preview reviews.
type PreviewStatusChanged struct {
	PreviewSubmissionID string        `json:"previewSubmissionId"`
	OrderID             string        `json:"orderId"`
	Status              PreviewStatus `json:"status"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// CartUpdated tells a buyer's clients that the server cart moved, naming the mutation that caused it.
type CartUpdated struct {
	CartVersion      int64     `json:"cartVersion"`
	ClientID         string    `json:"clientId,omitempty"`
	OriginMutationID string    `json:"originMutationId,omitempty"`
	Sequence         int64     `json:"sequence"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
