package domain

import "time"

// Revision ceilings applied to every order.
const (
	DefaultRevisionLimit = 2
	MaxRevisionLimit     = 5
)

// PaymentStatus tracks the money side of an order independently from its lifecycle status.
type PaymentStatus string

const (
	PaymentStatusCaptured      PaymentStatus = "captured"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusRefundFailed  PaymentStatus = "refund_failed"
)

// NeedsRefund reports whether a refund is still owed for the payment.
func (s PaymentStatus) NeedsRefund() bool {
	return s == PaymentStatusRefundPending || s == PaymentStatusRefundFailed
}

// PreviewStatus enumerates the review state of a seller-submitted proof.
type PreviewStatus string

const (
	PreviewStatusPending         PreviewStatus = "pending"
	PreviewStatusApproved        PreviewStatus = "approved"
	PreviewStatusChangeRequested PreviewStatus = "change_requested"
)

// ActorKind identifies who initiated an order mutation.
type ActorKind string

const (
	ActorBuyer  ActorKind = "buyer"
	ActorSeller ActorKind = "seller"
	ActorStaff  ActorKind = "staff"
	ActorSystem ActorKind = "system"
)

// Actor is the principal performing an order operation.
type Actor struct {
	Kind ActorKind
	ID   string
}

// SystemActor is used for sweep-driven transitions.
var SystemActor = Actor{Kind: ActorSystem, ID: "deadline-sweep"}

// Order is the durable record created exactly once per verified payment.
type Order struct {
	ID                      string
	Number                  string
	BuyerID                 string
	SellerID                string
	DraftID                 string
	AddressID               string
	Status                  OrderStatus
	PaymentStatus           PaymentStatus
	Currency                string
	Pricing                 PricingSnapshot
	RequiresPersonalization bool
	PersonalizationInput    map[string]any
	Deadlines               OrderDeadlines
	RevisionCount           int
	RevisionLimit           int
	CancellationReason      string
	Payment                 OrderPayment
	Items                   []OrderItem
	CreatedAt               time.Time
	UpdatedAt               time.Time
	AcceptedAt              *time.Time
	DeliveredAt             *time.Time
	CancelledAt             *time.Time
}

// OrderDeadlines collects the SLA timestamps enforced by the deadline sweep.
type OrderDeadlines struct {
	AcceptBy  *time.Time
	DetailsBy *time.Time
	PreviewBy *time.Time
}

// OrderPayment links the order to the gateway records that funded it.
type OrderPayment struct {
	Provider        string
	GatewayOrderID  string
	PaymentID       string
	AmountCaptured  int64
	WalletDebited   int64
	WalletReference string
	RefundID        string
	RefundedAt      *time.Time
	RefundAttempts  int
	LastRefundError string
}

// OwnedBy reports whether the actor may observe the order.
func (o Order) OwnedBy(actor Actor) bool {
	switch actor.Kind {
	case ActorBuyer:
		return actor.ID != "" && actor.ID == o.BuyerID
	case ActorSeller:
		return actor.ID != "" && actor.ID == o.SellerID
	case ActorStaff, ActorSystem:
		return true
	}
	return false
}

// TransitionContext derives the branch selector for the transition table.
func (o Order) TransitionContext() TransitionContext {
	return TransitionContext{RequiresPersonalization: o.RequiresPersonalization}
}

// RevisionsRemaining reports how many change requests the buyer may still make.
func (o Order) RevisionsRemaining() int {
	remaining := o.RevisionLimit - o.RevisionCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OrderItem is one line of an order.
type OrderItem struct {
	ID                      string
	OrderID                 string
	ItemID                  string
	VariantID               string
	Name                    string
	Quantity                int
	UnitPrice               int64
	AddOnTotal              int64
	TotalPrice              int64
	RequiresPersonalization bool
	PersonalizationDetails  map[string]any
	Selections              map[string]string
	AddOns                  []AddOnSelection
	FulfillmentStatus       OrderStatus
}

// PreviewSubmission is a seller-provided proof of a personalized item.
type PreviewSubmission struct {
	ID             string
	OrderID        string
	OrderItemID    string
	AssetRef       string
	Status         PreviewStatus
	SellerNotes    string
	BuyerFeedback  string
	RevisionNumber int
	SubmittedAt    time.Time
	ReviewedAt     *time.Time
	AutoApproved   bool
}

// OrderStatusHistory is one append-only entry of the order audit trail.
type OrderStatusHistory struct {
	ID          string
	OrderID     string
	EventType   string
	FromStatus  OrderStatus
	ToStatus    OrderStatus
	Title       string
	Description string
	Actor       Actor
	Metadata    map[string]any
	CreatedAt   time.Time
}

// History event types recorded alongside transitions. HistoryRevisionLimitChanged is the one entry
// written without a status change.
const (
	HistoryOrderPlaced        = "order.placed"
	HistoryOrderAccepted      = "order.accepted"
	HistoryDetailsSubmitted   = "order.details_submitted"
	HistoryPreviewSubmitted   = "order.preview_submitted"
	HistoryPreviewApproved    = "order.preview_approved"
	HistoryPreviewAutoApprove = "order.preview_auto_approved"
	HistoryRevisionRequested  = "order.revision_requested"
	HistoryProductionStarted  = "order.production_started"
	HistoryPacked             = "order.packed"
	HistoryDispatched         = "order.dispatched"
	HistoryDelivered          = "order.delivered"
	HistoryCancelled          = "order.cancelled"
	HistoryRefunded           = "order.refunded"

	HistoryRevisionLimitChanged = "order.revision_limit_changed"
)

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
