package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/events"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/memory"
)

const (
	testBuyer    = "buyer_1"
	testSeller   = "seller_1"
	testAddress  = "addr_1"
	itemMug      = "item_mug"
	itemFrame    = "item_frame"
	validSig     = "valid"
	mugPrice     = int64(50000)
	framePrice   = int64(120000)
	testAcceptBy = 5 * time.Minute
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubGateway struct {
	mu        sync.Mutex
	openFn    func(ctx context.Context, pc payments.PaymentContext, req payments.OpenOrderRequest) (payments.GatewayOrder, error)
	verifyFn  func(ctx context.Context, provider string, req payments.VerifyRequest) (bool, error)
	refundFn  func(ctx context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error)
	webhookFn func(ctx context.Context, provider string, payload []byte, headers http.Header) (payments.WebhookEvent, error)
	opened    []payments.OpenOrderRequest
	refunds   []payments.RefundRequest
}

func (g *stubGateway) OpenOrder(ctx context.Context, pc payments.PaymentContext, req payments.OpenOrderRequest) (payments.GatewayOrder, error) {
	g.mu.Lock()
	g.opened = append(g.opened, req)
	n := len(g.opened)
	g.mu.Unlock()
	if g.openFn != nil {
		return g.openFn(ctx, pc, req)
	}
	return payments.GatewayOrder{
		ID:        fmt.Sprintf("gw_%d", n),
		Provider:  payments.ProviderRazorpay,
		Amount:    req.Amount,
		Currency:  req.Currency,
		PublicKey: "rzp_test",
	}, nil
}

func (g *stubGateway) VerifyPayment(ctx context.Context, provider string, req payments.VerifyRequest) (bool, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, provider, req)
	}
	return req.Signature == validSig, nil
}

func (g *stubGateway) Refund(ctx context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	n := len(g.refunds)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(ctx, provider, req)
	}
	return payments.RefundResult{ID: fmt.Sprintf("rfnd_%d", n), Status: "processed", Amount: req.Amount}, nil
}

func (g *stubGateway) ParseWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (payments.WebhookEvent, error) {
	if g.webhookFn != nil {
		return g.webhookFn(ctx, provider, payload, headers)
	}
	return payments.WebhookEvent{}, payments.ErrWebhookSignature
}

func (g *stubGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type recordingSink struct {
	mu        sync.Mutex
	name      string
	publishFn func(event domain.OutboxEvent) error
	events    []domain.OutboxEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, event domain.OutboxEvent) error {
	if s.publishFn != nil {
		if err := s.publishFn(event); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) published() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.events...)
}

type fixture struct {
	reg      *memory.Registry
	clock    *testClock
	gateway  *stubGateway
	sink     *recordingSink
	ledger   *StockLedger
	pricing  *PricingEngine
	notifier *ChangeNotifier
	carts    *CartService
	checkout *CheckoutService
	creator  *OrderCreator
	payments *PaymentService
	orders   *OrderService
	sweeper  *DeadlineEnforcer
	seq      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	reg := memory.NewRegistry()
	gateway := &stubGateway{}
	sink := &recordingSink{name: "recording"}

	reg.SeedSeller(domain.Seller{ID: testSeller, Name: "Paper Lane", Latitude: 12.9716, Longitude: 77.5946, Active: true})
	reg.SeedAddress(domain.Address{ID: testAddress, BuyerID: testBuyer, Label: "Home", Latitude: 12.9750, Longitude: 77.6000})
	require.NoError(t, reg.Catalog().Upsert(ctx, domain.CatalogItem{
		ID: itemMug, SellerID: testSeller, Name: "Mug", Currency: "INR", Price: mugPrice, Active: true,
	}))
	require.NoError(t, reg.Catalog().Upsert(ctx, domain.CatalogItem{
		ID: itemFrame, SellerID: testSeller, Name: "Photo frame", Currency: "INR", Price: framePrice, Active: true,
		RequiresPersonalization: true, PersonalizationFields: []string{"name"}, RevisionLimit: 2,
	}))
	_, err := reg.Stock().SetOnHand(ctx, domain.StockKey{ItemID: itemMug}, 3, clock.Now())
	require.NoError(t, err)
	_, err = reg.Stock().SetOnHand(ctx, domain.StockKey{ItemID: itemFrame}, 5, clock.Now())
	require.NoError(t, err)

	rules := DefaultPricingRules()
	rules.FreeDeliveryThreshold = 50000
	pricing, err := NewPricingEngine(rules)
	require.NoError(t, err)

	ledger, err := NewStockLedger(StockLedgerDeps{Stock: reg.Stock(), Clock: clock.Now})
	require.NoError(t, err)
	notifier, err := NewChangeNotifier(ChangeNotifierDeps{Outbox: reg.Outbox(), Sinks: []events.Sink{sink}, Clock: clock.Now})
	require.NoError(t, err)
	carts, err := NewCartService(CartServiceDeps{
		UnitOfWork: reg, Carts: reg.Carts(), Catalog: reg.Catalog(), Outbox: reg.Outbox(), Relay: notifier, Clock: clock.Now,
	})
	require.NoError(t, err)
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		UnitOfWork: reg, Carts: reg.Carts(), Catalog: reg.Catalog(), Coupons: reg.Coupons(), Addresses: reg.Addresses(),
		Sellers: reg.Sellers(), Wallets: reg.Wallets(), Drafts: reg.Drafts(), Orders: reg.Orders(),
		Stock: ledger, Pricing: pricing, Gateway: gateway, Clock: clock.Now,
	})
	require.NoError(t, err)
	creator, err := NewOrderCreator(OrderCreatorDeps{
		UnitOfWork: reg, Drafts: reg.Drafts(), Orders: reg.Orders(), History: reg.History(), Outbox: reg.Outbox(),
		Catalog: reg.Catalog(), Coupons: reg.Coupons(), Wallets: reg.Wallets(), Counters: reg.Counters(), Carts: reg.Carts(),
		Stock: ledger, Pricing: pricing, Relay: notifier, AcceptWindow: testAcceptBy, Clock: clock.Now,
	})
	require.NoError(t, err)
	paymentSvc, err := NewPaymentService(PaymentServiceDeps{
		Drafts: reg.Drafts(), Orders: reg.Orders(), Gateway: gateway, Creator: creator, Clock: clock.Now,
	})
	require.NoError(t, err)
	orders, err := NewOrderService(OrderServiceDeps{
		UnitOfWork: reg, Orders: reg.Orders(), Previews: reg.Previews(), History: reg.History(), Outbox: reg.Outbox(),
		Catalog: reg.Catalog(), Wallets: reg.Wallets(), Gateway: gateway, Relay: notifier, Clock: clock.Now,
	})
	require.NoError(t, err)
	sweeper, err := NewDeadlineEnforcer(DeadlineEnforcerDeps{
		Orders: reg.Orders(), OrderOps: orders, Checkout: checkout, Stock: ledger, Notifier: notifier, Clock: clock.Now,
	})
	require.NoError(t, err)

	return &fixture{
		reg: reg, clock: clock, gateway: gateway, sink: sink, ledger: ledger, pricing: pricing, notifier: notifier,
		carts: carts, checkout: checkout, creator: creator, payments: paymentSvc, orders: orders, sweeper: sweeper,
	}
}

func (f *fixture) addToCart(t *testing.T, buyerID, itemID string, qty int) domain.Cart {
	t.Helper()
	f.seq++
	result, err := f.carts.ApplyMutation(context.Background(), domain.CartMutation{
		BuyerID:    buyerID,
		ClientID:   "web",
		MutationID: fmt.Sprintf("m%d", f.seq),
		Sequence:   f.seq,
		Op:         domain.CartOpAdd,
		Line:       domain.CartLine{ItemID: itemID, Quantity: qty},
	})
	require.NoError(t, err)
	return result.Cart
}

func (f *fixture) startCheckout(t *testing.T, buyerID string) CheckoutSession {
	t.Helper()
	session, err := f.checkout.StartCheckout(context.Background(), StartCheckoutCommand{BuyerID: buyerID, AddressID: testAddress})
	require.NoError(t, err)
	return session
}

// placeOrder runs cart, checkout and verification for one item.
func (f *fixture) placeOrder(t *testing.T, itemID string, qty int) domain.Order {
	t.Helper()
	f.addToCart(t, testBuyer, itemID, qty)
	session := f.startCheckout(t, testBuyer)
	outcome, err := f.payments.VerifyPayment(context.Background(), VerifyPaymentCommand{
		BuyerID:        testBuyer,
		DraftID:        session.DraftID,
		GatewayOrderID: session.GatewayOrderID,
		PaymentID:      "pay_" + session.GatewayOrderID,
		Signature:      validSig,
	})
	require.NoError(t, err)
	require.True(t, outcome.Created)
	return outcome.Order
}

func (f *fixture) history(t *testing.T, orderID string) []domain.OrderStatusHistory {
	t.Helper()
	entries, err := f.reg.History().ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return entries
}

func (f *fixture) order(t *testing.T, orderID string) domain.Order {
	t.Helper()
	order, err := f.reg.Orders().FindByID(context.Background(), orderID)
	require.NoError(t, err)
	return order
}

func (f *fixture) stock(t *testing.T, itemID string) domain.StockLevel {
	t.Helper()
	level, err := f.reg.Stock().Get(context.Background(), domain.StockKey{ItemID: itemID}, f.clock.Now())
	require.NoError(t, err)
	return level
}

var (
	buyer      = domain.Actor{Kind: domain.ActorBuyer, ID: testBuyer}
	seller     = domain.Actor{Kind: domain.ActorSeller, ID: testSeller}
	staff      = domain.Actor{Kind: domain.ActorStaff, ID: "staff_1"}
	otherBuyer = domain.Actor{Kind: domain.ActorBuyer, ID: "buyer_2"}
)
