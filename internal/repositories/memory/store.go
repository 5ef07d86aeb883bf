// Package memory implements every repository contract in process. It backs local development and
// the service-level scenario tests; a single mutex serialises access so the atomicity guarantees
// of the storage contracts hold trivially.
package memory

import (
	"context"
	"sync"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type state struct {
	drafts        map[string]domain.DraftOrder
	stock         map[domain.StockKey]stockRow
	reservations  map[string]domain.StockReservation
	orders        map[string]domain.Order
	gatewayOrders map[string]string
	previews      map[string]domain.PreviewSubmission
	history       map[string][]domain.OrderStatusHistory
	outbox        map[string]domain.OutboxEvent
	outboxOrder   []string
	carts         map[string]domain.Cart
	catalog       map[string]domain.CatalogItem
	coupons       map[string]domain.Coupon
	addresses     map[string]domain.Address
	sellers       map[string]domain.Seller
	balances      map[string]int64
	walletEntries map[string]domain.WalletEntry
	counters      map[string]int64
}

func newState() *state {
	return &state{
		drafts:        map[string]domain.DraftOrder{},
		stock:         map[domain.StockKey]stockRow{},
		reservations:  map[string]domain.StockReservation{},
		orders:        map[string]domain.Order{},
		gatewayOrders: map[string]string{},
		previews:      map[string]domain.PreviewSubmission{},
		history:       map[string][]domain.OrderStatusHistory{},
		outbox:        map[string]domain.OutboxEvent{},
		carts:         map[string]domain.Cart{},
		catalog:       map[string]domain.CatalogItem{},
		coupons:       map[string]domain.Coupon{},
		addresses:     map[string]domain.Address{},
		sellers:       map[string]domain.Seller{},
		balances:      map[string]int64{},
		walletEntries: map[string]domain.WalletEntry{},
		counters:      map[string]int64{},
	}
}

// clone copies every map. Values are replaced, never mutated in place, so a shallow copy is a
// consistent snapshot.
func (s *state) clone() *state {
	return &state{
		drafts:        copyMap(s.drafts),
		stock:         copyMap(s.stock),
		reservations:  copyMap(s.reservations),
		orders:        copyMap(s.orders),
		gatewayOrders: copyMap(s.gatewayOrders),
		previews:      copyMap(s.previews),
		history:       copyMap(s.history),
		outbox:        copyMap(s.outbox),
		outboxOrder:   append([]string(nil), s.outboxOrder...),
		carts:         copyMap(s.carts),
		catalog:       copyMap(s.catalog),
		coupons:       copyMap(s.coupons),
		addresses:     copyMap(s.addresses),
		sellers:       copyMap(s.sellers),
		balances:      copyMap(s.balances),
		walletEntries: copyMap(s.walletEntries),
		counters:      copyMap(s.counters),
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type txKey struct{ store *Store }

// Store holds the in-memory state shared by all repositories of a Registry.
type Store struct {
	mu    sync.Mutex
	state *state
}

// with runs fn against the state, taking the lock unless ctx already belongs to a transaction
// on this store.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if ctx != nil && ctx.Value(txKey{s}) != nil {
		return fn(s.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// RunInTx runs fn with exclusive access; any error restores the state captured before fn ran.
// Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(txKey{s}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Registry implements repositories.Registry entirely in memory.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{store: &Store{state: newState()}}
}

// WithHealth attaches the health repository reported by Health.
func (r *Registry) WithHealth(repo repositories.HealthRepository) *Registry {
	r.health = repo
	return r
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}

func (r *Registry) Drafts() repositories.DraftOrderRepository    { return draftRepo{r.store} }
func (r *Registry) Stock() repositories.StockRepository          { return stockRepo{r.store} }
func (r *Registry) Orders() repositories.OrderRepository         { return orderRepo{r.store} }
func (r *Registry) Previews() repositories.PreviewRepository     { return previewRepo{r.store} }
func (r *Registry) History() repositories.OrderHistoryRepository { return historyRepo{r.store} }
func (r *Registry) Outbox() repositories.OutboxRepository        { return outboxRepo{r.store} }
func (r *Registry) Carts() repositories.CartRepository           { return cartRepo{r.store} }
func (r *Registry) Catalog() repositories.CatalogRepository      { return catalogRepo{r.store} }
func (r *Registry) Coupons() repositories.CouponRepository       { return couponRepo{r.store} }
func (r *Registry) Addresses() repositories.AddressRepository    { return addressRepo{r.store} }
func (r *Registry) Sellers() repositories.SellerRepository       { return sellerRepo{r.store} }
func (r *Registry) Wallets() repositories.WalletRepository       { return walletRepo{r.store} }
func (r *Registry) Counters() repositories.CounterRepository     { return counterRepo{r.store} }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// SeedSeller stores a seller for local development and tests.
func (r *Registry) SeedSeller(seller domain.Seller) {
	_ = r.store.with(context.Background(), func(st *state) error {
		st.sellers[seller.ID] = seller
		return nil
	})
}

// SeedAddress stores a buyer address.
func (r *Registry) SeedAddress(address domain.Address) {
	_ = r.store.with(context.Background(), func(st *state) error {
		st.addresses[addressKey(address.BuyerID, address.ID)] = address
		return nil
	})
}

// SeedCoupon stores a coupon definition.
func (r *Registry) SeedCoupon(coupon domain.Coupon) {
	_ = r.store.with(context.Background(), func(st *state) error {
		st.coupons[normaliseCode(coupon.Code)] = coupon
		return nil
	})
}

// SeedWallet sets a buyer's wallet balance.
func (r *Registry) SeedWallet(buyerID string, balance int64) {
	_ = r.store.with(context.Background(), func(st *state) error {
		st.balances[buyerID] = balance
		return nil
	})
}
