package repositories

import (
	"context"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Drafts() DraftOrderRepository
	Stock() StockRepository
	Orders() OrderRepository
	Previews() PreviewRepository
	History() OrderHistoryRepository
	Outbox() OutboxRepository
	Carts() CartRepository
	Catalog() CatalogRepository
	Coupons() CouponRepository
	Addresses() AddressRepository
	Sellers() SellerRepository
	Wallets() WalletRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repository calls made
// with the ctx passed to fn join the transaction; fn may be invoked more than once when the
// backend retries on contention, so it must not perform external side effects.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DraftOrderRepository persists checkout drafts.
type DraftOrderRepository interface {
	Insert(ctx context.Context, draft domain.DraftOrder) error
	Update(ctx context.Context, draft domain.DraftOrder) error
	FindByID(ctx context.Context, draftID string) (domain.DraftOrder, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.DraftOrder, error)
	Delete(ctx context.Context, draftID string) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DraftOrder, error)
}

// StockRepository is the storage side of the stock ledger. Reserve and Promote are single atomic
// operations at the storage layer.
type StockRepository interface {
	Get(ctx context.Context, key domain.StockKey, now time.Time) (domain.StockLevel, error)
	Available(ctx context.Context, key domain.StockKey, excludingBuyer string, now time.Time) (int, error)
	Reserve(ctx context.Context, req ReserveRequest) ([]domain.StockReservation, error)
	Promote(ctx context.Context, req PromoteRequest) ([]domain.StockReservation, error)
	Release(ctx context.Context, gatewayOrderID string) (int, error)
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
	SetOnHand(ctx context.Context, key domain.StockKey, onHand int, now time.Time) (domain.StockLevel, error)
}

// ReserveRequest holds stock for a gateway order. Lines must be normalised.
type ReserveRequest struct {
	BuyerID        string
	GatewayOrderID string
	DraftID        string
	Lines          []domain.StockLine
	Now            time.Time
	ExpiresAt      time.Time
}

// PromoteRequest converts the holds of a gateway order into committed decrements. Lines are used
// to re-check availability when the hold expired or was purged.
type PromoteRequest struct {
	BuyerID        string
	GatewayOrderID string
	Lines          []domain.StockLine
	Now            time.Time
}

// OrderRepository persists orders and their line items. Insert must reject a second order for the
// same gateway order id with a conflict error.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListDue(ctx context.Context, filter DueFilter) ([]domain.Order, error)
	ListRefundsDue(ctx context.Context, limit int) ([]domain.Order, error)
}

// OrderListFilter narrows order listings to an owner.
type OrderListFilter struct {
	BuyerID   string
	SellerID  string
	Status    []domain.OrderStatus
	PageSize  int
	PageToken string
}

// DeadlineField names the order deadline compared by ListDue.
type DeadlineField string

const (
	DeadlineAccept  DeadlineField = "accept"
	DeadlineDetails DeadlineField = "details"
	DeadlinePreview DeadlineField = "preview"
)

// DueFilter selects orders in a status whose deadline passed.
type DueFilter struct {
	Status   domain.OrderStatus
	Deadline DeadlineField
	Before   time.Time
	Limit    int
}

// PreviewRepository persists preview submissions. Rows are never deleted.
type PreviewRepository interface {
	Insert(ctx context.Context, preview domain.PreviewSubmission) error
	Update(ctx context.Context, preview domain.PreviewSubmission) error
	FindByID(ctx context.Context, orderID, previewID string) (domain.PreviewSubmission, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PreviewSubmission, error)
}

// OrderHistoryRepository is the append-only audit trail.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderStatusHistory) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
}

// OutboxRepository stores change events until every sink has accepted them.
type OutboxRepository interface {
	Append(ctx context.Context, event domain.OutboxEvent) error
	ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error
	RecordAttempt(ctx context.Context, eventID string) error
}

// CartRepository persists server-authoritative carts.
type CartRepository interface {
	Get(ctx context.Context, buyerID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
}

// CatalogRepository exposes the current catalog used for pricing and re-pricing.
type CatalogRepository interface {
	FindItems(ctx context.Context, itemIDs []string) (map[string]domain.CatalogItem, error)
	Upsert(ctx context.Context, item domain.CatalogItem) error
}

// CouponRepository resolves coupon definitions.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// AddressRepository resolves buyer delivery addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, buyerID, addressID string) (domain.Address, error)
}

// SellerRepository resolves seller storefront locations.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
}

// WalletRepository keeps buyer wallet balances with idempotent entries keyed by reference.
type WalletRepository interface {
	Balance(ctx context.Context, buyerID string) (int64, error)
	Debit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error)
	Credit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error)
	Reverse(ctx context.Context, reference string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
