package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	defaultDraftTTL       = 30 * time.Minute
	defaultPriceTolerance = 100
	// minGatewayAmount is the smallest amount gateways accept (one rupee).
	minGatewayAmount = 100
)

// Gateway is the subset of payments.Manager the services call.
type Gateway interface {
	OpenOrder(ctx context.Context, pc payments.PaymentContext, req payments.OpenOrderRequest) (payments.GatewayOrder, error)
	VerifyPayment(ctx context.Context, provider string, req payments.VerifyRequest) (bool, error)
	Refund(ctx context.Context, provider string, req payments.RefundRequest) (payments.RefundResult, error)
	ParseWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (payments.WebhookEvent, error)
}

// CheckoutServiceDeps wires the checkout service.
type CheckoutServiceDeps struct {
	UnitOfWork      repositories.UnitOfWork
	Carts           repositories.CartRepository
	Catalog         repositories.CatalogRepository
	Coupons         repositories.CouponRepository
	Addresses       repositories.AddressRepository
	Sellers         repositories.SellerRepository
	Wallets         repositories.WalletRepository
	Drafts          repositories.DraftOrderRepository
	Orders          repositories.OrderRepository
	Stock           *StockLedger
	Pricing         *PricingEngine
	Gateway         Gateway
	Distance        DistanceFunc
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          Logger
	DraftTTL        time.Duration
	PriceTolerance  int64
	DefaultProvider string
}

// CheckoutService stages drafts between cart finalisation and payment verification.
type CheckoutService struct {
	uow       repositories.UnitOfWork
	carts     repositories.CartRepository
	catalog   repositories.CatalogRepository
	coupons   repositories.CouponRepository
	addresses repositories.AddressRepository
	sellers   repositories.SellerRepository
	wallets   repositories.WalletRepository
	drafts    repositories.DraftOrderRepository
	orders    repositories.OrderRepository
	stock     *StockLedger
	pricing   *PricingEngine
	gateway   Gateway
	distance  DistanceFunc
	now       func() time.Time
	newID     func() string
	logger    Logger
	draftTTL  time.Duration
	tolerance int64
	provider  string
}

// NewCheckoutService validates dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("checkout service: catalog repository is required")
	case deps.Addresses == nil || deps.Sellers == nil:
		return nil, errors.New("checkout service: address and seller repositories are required")
	case deps.Drafts == nil || deps.Orders == nil:
		return nil, errors.New("checkout service: draft and order repositories are required")
	case deps.Stock == nil:
		return nil, errors.New("checkout service: stock ledger is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing engine is required")
	case deps.Gateway == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	}
	distance := deps.Distance
	if distance == nil {
		distance = HaversineDistance
	}
	ttl := deps.DraftTTL
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	tolerance := deps.PriceTolerance
	if tolerance <= 0 {
		tolerance = defaultPriceTolerance
	}
	return &CheckoutService{
		uow:       unitOrNoop(deps.UnitOfWork),
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		addresses: deps.Addresses,
		sellers:   deps.Sellers,
		wallets:   deps.Wallets,
		drafts:    deps.Drafts,
		orders:    deps.Orders,
		stock:     deps.Stock,
		pricing:   deps.Pricing,
		gateway:   deps.Gateway,
		distance:  distance,
		now:       utcClock(deps.Clock),
		newID:     idGeneratorOrDefault(deps.IDGenerator),
		logger:    loggerOrNop(deps.Logger),
		draftTTL:  ttl,
		tolerance: tolerance,
		provider:  strings.ToLower(strings.TrimSpace(deps.DefaultProvider)),
	}, nil
}

// StartCheckoutCommand finalises the buyer's server-side cart.
type StartCheckoutCommand struct {
	BuyerID     string
	AddressID   string
	CouponCode  string
	UseWallet   bool
	ClientTotal int64
	Provider    string
}

// CheckoutSession is what the client needs to complete payment.
type CheckoutSession struct {
	DraftID        string
	GatewayOrderID string
	Provider       string
	Amount         int64
	Currency       string
	ExpiresAt      time.Time
	PublicKey      string
	ClientSecret   string
	PriceAdjusted  bool
	Pricing        domain.PricingSnapshot
}

// StartCheckout prices the cart, opens a gateway order with only the draft id as metadata, and
// reserves stock keyed by the gateway order. The gateway call happens before any stock row is
// locked; a failure at any step removes the draft and releases holds.
func (s *CheckoutService) StartCheckout(ctx context.Context, cmd StartCheckoutCommand) (CheckoutSession, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" || strings.TrimSpace(cmd.AddressID) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: buyer and address are required", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return CheckoutSession{}, ErrCheckoutCartEmpty
		}
		return CheckoutSession{}, mapRepositoryError(err, nil, nil)
	}
	if len(cart.Lines) == 0 {
		return CheckoutSession{}, ErrCheckoutCartEmpty
	}

	now := s.now()
	quote, err := s.quote(ctx, quoteInput{
		buyerID:    buyerID,
		addressID:  cmd.AddressID,
		couponCode: cmd.CouponCode,
		useWallet:  cmd.UseWallet,
		lines:      cart.Lines,
		now:        now,
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	drifted, err := CheckClientTotal(quote.pricing.Total, cmd.ClientTotal, s.tolerance)
	if err != nil {
		s.logger(ctx, "checkout.price_drift_rejected", map[string]any{
			"buyer_id": buyerID,
			"server":   quote.pricing.Total,
			"client":   cmd.ClientTotal,
		})
		return CheckoutSession{}, err
	}

	stockLines := make([]domain.StockLine, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		stockLines = append(stockLines, domain.StockLine{Key: line.StockKey(), Quantity: line.Quantity})
	}
	stockLines, err = s.stock.NormalizeLines(stockLines)
	if err != nil {
		return CheckoutSession{}, err
	}
	if err := s.precheckStock(ctx, buyerID, stockLines); err != nil {
		return CheckoutSession{}, err
	}

	draft := domain.DraftOrder{
		ID:                      draftIDPrefix + s.newID(),
		BuyerID:                 buyerID,
		SellerID:                quote.seller.ID,
		Lines:                   cart.Lines,
		AddressID:               quote.address.ID,
		Pricing:                 quote.pricing,
		UseWallet:               quote.pricing.WalletDeduction > 0,
		RequiresPersonalization: quote.requiresPersonalization,
		RevisionLimit:           quote.revisionLimit,
		Status:                  domain.DraftStatusOpen,
		CreatedAt:               now,
		UpdatedAt:               now,
		ExpiresAt:               now.Add(s.draftTTL),
	}
	if err := s.drafts.Insert(ctx, draft); err != nil {
		return CheckoutSession{}, mapRepositoryError(err, nil, ErrOrderConflict)
	}

	order, err := s.gateway.OpenOrder(ctx, payments.PaymentContext{
		PreferredProvider: firstNonEmpty(cmd.Provider, s.provider),
		Currency:          quote.pricing.Currency,
	}, payments.OpenOrderRequest{
		Amount:   quote.pricing.Total,
		Currency: quote.pricing.Currency,
		Receipt:  draft.ID,
		Metadata: map[string]string{payments.MetadataDraftID: draft.ID},
	})
	if err != nil {
		s.discardDraft(ctx, draft.ID, "")
		s.logger(ctx, "checkout.gateway_failed", map[string]any{"draft_id": draft.ID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if _, err := s.stock.Reserve(ctx, ReserveCommand{
		BuyerID:        buyerID,
		GatewayOrderID: order.ID,
		DraftID:        draft.ID,
		Lines:          stockLines,
	}); err != nil {
		s.discardDraft(ctx, draft.ID, order.ID)
		return CheckoutSession{}, err
	}

	draft.GatewayOrderID = order.ID
	draft.Provider = order.Provider
	draft.Status = domain.DraftStatusPending
	draft.UpdatedAt = s.now()
	if err := s.drafts.Update(ctx, draft); err != nil {
		s.discardDraft(ctx, draft.ID, order.ID)
		return CheckoutSession{}, mapRepositoryError(err, ErrDraftNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "checkout.started", map[string]any{
		"buyer_id":         buyerID,
		"draft_id":         draft.ID,
		"gateway_order_id": order.ID,
		"provider":         order.Provider,
		"amount":           quote.pricing.Total,
		"price_adjusted":   drifted,
	})

	return CheckoutSession{
		DraftID:        draft.ID,
		GatewayOrderID: order.ID,
		Provider:       order.Provider,
		Amount:         quote.pricing.Total,
		Currency:       quote.pricing.Currency,
		ExpiresAt:      draft.ExpiresAt,
		PublicKey:      order.PublicKey,
		ClientSecret:   order.ClientSecret,
		PriceAdjusted:  drifted,
		Pricing:        quote.pricing,
	}, nil
}

// GetDraft returns the buyer's draft.
func (s *CheckoutService) GetDraft(ctx context.Context, buyerID, draftID string) (domain.DraftOrder, error) {
	draft, err := s.drafts.FindByID(ctx, strings.TrimSpace(draftID))
	if err != nil {
		return domain.DraftOrder{}, mapRepositoryError(err, ErrDraftNotFound, nil)
	}
	if draft.BuyerID != buyerID {
		return domain.DraftOrder{}, ErrDraftNotFound
	}
	if draft.Expired(s.now()) {
		return domain.DraftOrder{}, ErrDraftExpired
	}
	return draft, nil
}

// DraftExpiryReport counts the work done by ExpireDrafts.
type DraftExpiryReport struct {
	Expired  int
	Refunded int
	Failures int
}

// ExpireDrafts removes drafts past their expiry. Each draft is first claimed in a unit of work so a
// concurrent order creation either commits before the claim or is rejected after it. A draft holding
// a captured payment is refunded before it is deleted; a refund failure keeps the claimed draft so
// the next sweep retries.
func (s *CheckoutService) ExpireDrafts(ctx context.Context, limit int) (DraftExpiryReport, error) {
	var report DraftExpiryReport
	expired, err := s.drafts.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return report, mapRepositoryError(err, nil, nil)
	}
	for _, draft := range expired {
		claimed, refunded, err := s.expireDraft(ctx, draft.ID)
		if err != nil {
			report.Failures++
			s.logger(ctx, "checkout.draft_expiry_failed", map[string]any{
				"draft_id":         draft.ID,
				"gateway_order_id": draft.GatewayOrderID,
				"error":            err.Error(),
			})
			continue
		}
		if !claimed {
			continue
		}
		report.Expired++
		if refunded {
			report.Refunded++
		}
	}
	return report, nil
}

func (s *CheckoutService) expireDraft(ctx context.Context, draftID string) (claimed, refunded bool, err error) {
	draft, claimed, err := s.claimExpired(ctx, draftID)
	if err != nil || !claimed {
		return false, false, err
	}
	ctx = requestctx.WithOrderScope(ctx, requestctx.OrderScope{
		Actor:          domain.SystemActor,
		DraftID:        draft.ID,
		GatewayOrderID: draft.GatewayOrderID,
	})
	if draft.CapturedPaymentID != "" {
		if err := refundOrphanedPayment(ctx, s.gateway, s.logger, orphanedPayment{
			Provider:       draft.Provider,
			GatewayOrderID: draft.GatewayOrderID,
			PaymentID:      draft.CapturedPaymentID,
			DraftID:        draft.ID,
			Amount:         draft.Pricing.Total,
			Reason:         "checkout expired before order creation",
		}); err != nil {
			return false, false, err
		}
		refunded = true
	}
	if _, err := s.stock.Release(ctx, draft.GatewayOrderID); err != nil {
		return false, refunded, err
	}
	deleted, err := s.deleteClaimed(ctx, draft)
	if err != nil {
		return false, refunded, err
	}
	if !deleted {
		// A payment was recorded after the claim; the next sweep refunds it.
		s.logger(ctx, "checkout.draft_expiry_deferred", map[string]any{
			"draft_id":         draft.ID,
			"gateway_order_id": draft.GatewayOrderID,
		})
		return false, refunded, nil
	}
	s.logger(ctx, "checkout.draft_expired", map[string]any{
		"draft_id":         draft.ID,
		"gateway_order_id": draft.GatewayOrderID,
		"refunded":         refunded,
	})
	return true, refunded, nil
}

// claimExpired marks an expired draft as expiring. It reports false when an order already consumed
// the draft or the draft is no longer expired.
func (s *CheckoutService) claimExpired(ctx context.Context, draftID string) (domain.DraftOrder, bool, error) {
	var (
		claimed domain.DraftOrder
		ok      bool
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		draft, err := s.drafts.FindByID(txCtx, draftID)
		if repositories.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return mapRepositoryError(err, nil, nil)
		}
		now := s.now()
		if !draft.Expired(now) {
			return nil
		}
		if draft.GatewayOrderID != "" {
			_, err := s.orders.FindByGatewayOrderID(txCtx, draft.GatewayOrderID)
			switch {
			case err == nil:
				return mapRepositoryError(s.drafts.Delete(txCtx, draft.ID), nil, nil)
			case !repositories.IsNotFound(err):
				return mapRepositoryError(err, nil, nil)
			}
		}
		if draft.Status != domain.DraftStatusExpiring {
			draft.Status = domain.DraftStatusExpiring
			draft.UpdatedAt = now
			if err := s.drafts.Update(txCtx, draft); err != nil {
				return mapRepositoryError(err, nil, nil)
			}
		}
		claimed, ok = draft, true
		return nil
	})
	return claimed, ok, err
}

// deleteClaimed removes a claimed draft unless a different payment was recorded on it meanwhile.
func (s *CheckoutService) deleteClaimed(ctx context.Context, claimed domain.DraftOrder) (bool, error) {
	deleted := false
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.drafts.FindByID(txCtx, claimed.ID)
		if repositories.IsNotFound(err) {
			deleted = true
			return nil
		}
		if err != nil {
			return mapRepositoryError(err, nil, nil)
		}
		if current.CapturedPaymentID != claimed.CapturedPaymentID {
			return nil
		}
		if err := s.drafts.Delete(txCtx, claimed.ID); err != nil && !repositories.IsNotFound(err) {
			return mapRepositoryError(err, nil, nil)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

func (s *CheckoutService) precheckStock(ctx context.Context, buyerID string, lines []domain.StockLine) error {
	for _, line := range lines {
		level, err := s.stock.Available(ctx, line.Key, buyerID)
		if err != nil {
			return err
		}
		if level.Available < line.Quantity {
			return fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, &repositories.InsufficientStockError{
				Key:       line.Key,
				Requested: line.Quantity,
				Available: level.Available,
			})
		}
	}
	return nil
}

func (s *CheckoutService) discardDraft(ctx context.Context, draftID, gatewayOrderID string) {
	if gatewayOrderID != "" {
		if _, err := s.stock.Release(ctx, gatewayOrderID); err != nil {
			s.logger(ctx, "checkout.release_failed", map[string]any{"draft_id": draftID, "gateway_order_id": gatewayOrderID, "error": err.Error()})
		}
	}
	if err := s.drafts.Delete(ctx, draftID); err != nil && !repositories.IsNotFound(err) {
		s.logger(ctx, "checkout.draft_cleanup_failed", map[string]any{"draft_id": draftID, "error": err.Error()})
	}
}

type quoteInput struct {
	buyerID    string
	addressID  string
	couponCode string
	useWallet  bool
	lines      []domain.CartLine
	now        time.Time
}

type cartQuote struct {
	pricing                 domain.PricingSnapshot
	seller                  domain.Seller
	address                 domain.Address
	requiresPersonalization bool
	revisionLimit           int
}

// quote resolves catalog prices, seller, address, coupon and wallet, then prices the cart.
func (s *CheckoutService) quote(ctx context.Context, in quoteInput) (cartQuote, error) {
	items, err := resolveCatalog(ctx, s.catalog, in.lines)
	if err != nil {
		return cartQuote{}, err
	}
	priced, sellerID, err := pricedLines(in.lines, items)
	if err != nil {
		return cartQuote{}, err
	}

	seller, err := s.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return cartQuote{}, mapRepositoryError(err, ErrCheckoutItemUnavailable, nil)
	}
	if !seller.Active {
		return cartQuote{}, fmt.Errorf("%w: seller %s is not accepting orders", ErrCheckoutItemUnavailable, seller.ID)
	}
	address, err := s.addresses.FindByID(ctx, in.buyerID, strings.TrimSpace(in.addressID))
	if err != nil {
		return cartQuote{}, mapRepositoryError(err, fmt.Errorf("%w: address not found", ErrCheckoutInvalidInput), nil)
	}

	input := PriceInput{
		Lines:          priced,
		DistanceMeters: s.distance(seller, address),
		Currency:       items[priced[0].ItemID].Currency,
	}
	if code := strings.TrimSpace(in.couponCode); code != "" {
		coupon, err := s.resolveCoupon(ctx, code, in.now)
		if err != nil {
			return cartQuote{}, err
		}
		input.Coupon = &coupon
	}
	if in.useWallet && s.wallets != nil {
		balance, err := s.wallets.Balance(ctx, in.buyerID)
		if err != nil {
			return cartQuote{}, mapRepositoryError(err, nil, nil)
		}
		input.UseWallet = balance > 0
		input.WalletBalance = balance
	}

	snapshot, err := s.pricing.Price(input)
	if err != nil {
		return cartQuote{}, err
	}
	if snapshot.Total < minGatewayAmount && snapshot.WalletDeduction > 0 {
		input.WalletBalance = max(snapshot.WalletDeduction-(minGatewayAmount-snapshot.Total), 0)
		input.UseWallet = input.WalletBalance > 0
		if snapshot, err = s.pricing.Price(input); err != nil {
			return cartQuote{}, err
		}
	}
	if snapshot.Total < minGatewayAmount {
		return cartQuote{}, fmt.Errorf("%w: order total below minimum charge", ErrCheckoutInvalidInput)
	}
	snapshot.PricedAt = in.now

	requires, limit := personalizationRules(in.lines, items)
	return cartQuote{
		pricing:                 snapshot,
		seller:                  seller,
		address:                 address,
		requiresPersonalization: requires,
		revisionLimit:           limit,
	}, nil
}

func (s *CheckoutService) resolveCoupon(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if s.coupons == nil {
		return domain.Coupon{}, fmt.Errorf("%w: coupons are not available", ErrCheckoutInvalidInput)
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, mapRepositoryError(err, fmt.Errorf("%w: unknown coupon", ErrCheckoutInvalidInput), nil)
	}
	if !coupon.Usable(now) {
		return domain.Coupon{}, fmt.Errorf("%w: coupon %s is not usable", ErrCheckoutInvalidInput, coupon.Code)
	}
	return coupon, nil
}

func resolveCatalog(ctx context.Context, catalog repositories.CatalogRepository, lines []domain.CartLine) (map[string]domain.CatalogItem, error) {
	ids := lineItemIDs(lines)
	sort.Strings(ids)
	items, err := catalog.FindItems(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, ErrCheckoutItemUnavailable, nil)
	}
	for _, id := range ids {
		item, ok := items[id]
		if !ok || !item.Active {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutItemUnavailable, id)
		}
	}
	return items, nil
}

// pricedLines resolves server prices; client-sent prices are never trusted.
func pricedLines(lines []domain.CartLine, items map[string]domain.CatalogItem) ([]PricedLine, string, error) {
	out := make([]PricedLine, 0, len(lines))
	sellerID := ""
	for _, line := range lines {
		item := items[line.ItemID]
		if sellerID == "" {
			sellerID = item.SellerID
		} else if item.SellerID != sellerID {
			return nil, "", ErrCheckoutMultipleSellers
		}
		var addOns int64
		for _, selected := range line.AddOns {
			addOn, ok := item.AddOns[selected.ID]
			if !ok {
				return nil, "", fmt.Errorf("%w: add-on %s not offered for %s", ErrCheckoutItemUnavailable, selected.ID, item.ID)
			}
			addOns += addOn.Price
		}
		out = append(out, PricedLine{
			ItemID:     line.ItemID,
			VariantID:  line.VariantID,
			Quantity:   line.Quantity,
			UnitPrice:  item.PriceFor(line.VariantID),
			AddOnPrice: addOns,
			Currency:   item.Currency,
		})
	}
	return out, sellerID, nil
}

// personalizationRules derives whether the order needs the details/preview loop and its revision
// ceiling: the largest limit among personalised items, clamped to [1, MaxRevisionLimit].
func personalizationRules(lines []domain.CartLine, items map[string]domain.CatalogItem) (bool, int) {
	requires := false
	limit := 0
	for _, line := range lines {
		item := items[line.ItemID]
		if !item.RequiresPersonalization {
			continue
		}
		requires = true
		limit = max(limit, item.RevisionLimit)
	}
	if !requires {
		return false, domain.DefaultRevisionLimit
	}
	if limit <= 0 {
		limit = domain.DefaultRevisionLimit
	}
	return true, min(max(limit, 1), domain.MaxRevisionLimit)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func cloneAnyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}
