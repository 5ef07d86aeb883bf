package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	defaultAcceptWindow   = 5 * time.Minute
	defaultPriceFreshness = 5 * time.Minute
	orderCounterID        = "orders"
)

// Trigger names the path that asked for order creation.
type Trigger string

const (
	TriggerClientVerify Trigger = "client_verify"
	TriggerWebhook      Trigger = "webhook"
)

// OrderCreatorDeps wires the order creation transaction.
type OrderCreatorDeps struct {
	UnitOfWork     repositories.UnitOfWork
	Drafts         repositories.DraftOrderRepository
	Orders         repositories.OrderRepository
	History        repositories.OrderHistoryRepository
	Outbox         repositories.OutboxRepository
	Catalog        repositories.CatalogRepository
	Coupons        repositories.CouponRepository
	Wallets        repositories.WalletRepository
	Counters       repositories.CounterRepository
	Carts          repositories.CartRepository
	Stock          *StockLedger
	Pricing        *PricingEngine
	Relay          EventRelay
	AcceptWindow   time.Duration
	PriceFreshness time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
	Locale         string
}

// OrderCreator converts a paid draft into an order exactly once.
type OrderCreator struct {
	uow       repositories.UnitOfWork
	drafts    repositories.DraftOrderRepository
	orders    repositories.OrderRepository
	catalog   repositories.CatalogRepository
	coupons   repositories.CouponRepository
	wallets   repositories.WalletRepository
	counters  repositories.CounterRepository
	carts     repositories.CartRepository
	stock     *StockLedger
	pricing   *PricingEngine
	relay     EventRelay
	journal   journal
	money     moneyFormatter
	accept    time.Duration
	freshness time.Duration
	now       func() time.Time
	newID     func() string
	logger    Logger
}

// NewOrderCreator validates dependencies.
func NewOrderCreator(deps OrderCreatorDeps) (*OrderCreator, error) {
	switch {
	case deps.Drafts == nil:
		return nil, errors.New("order creator: draft repository is required")
	case deps.Orders == nil:
		return nil, errors.New("order creator: order repository is required")
	case deps.History == nil || deps.Outbox == nil:
		return nil, errors.New("order creator: history and outbox repositories are required")
	case deps.Catalog == nil:
		return nil, errors.New("order creator: catalog repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order creator: counter repository is required")
	case deps.Stock == nil:
		return nil, errors.New("order creator: stock ledger is required")
	case deps.Pricing == nil:
		return nil, errors.New("order creator: pricing engine is required")
	}
	accept := deps.AcceptWindow
	if accept <= 0 {
		accept = defaultAcceptWindow
	}
	freshness := deps.PriceFreshness
	if freshness <= 0 {
		freshness = defaultPriceFreshness
	}
	newID := idGeneratorOrDefault(deps.IDGenerator)
	return &OrderCreator{
		uow:       unitOrNoop(deps.UnitOfWork),
		drafts:    deps.Drafts,
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		coupons:   deps.Coupons,
		wallets:   deps.Wallets,
		counters:  deps.Counters,
		carts:     deps.Carts,
		stock:     deps.Stock,
		pricing:   deps.Pricing,
		relay:     relayOrNop(deps.Relay),
		journal:   journal{history: deps.History, outbox: deps.Outbox, newID: newID},
		money:     newMoneyFormatter(deps.Locale),
		accept:    accept,
		freshness: freshness,
		now:       utcClock(deps.Clock),
		newID:     newID,
		logger:    loggerOrNop(deps.Logger),
	}, nil
}

// CreateFromDraftCommand identifies a verified payment.
type CreateFromDraftCommand struct {
	DraftID        string
	GatewayOrderID string
	PaymentID      string
	AmountCaptured int64
	Trigger        Trigger
}

// CreateFromDraft runs the creation transaction. A second order for the same gateway order is
// rejected by storage and surfaces as ErrOrderAlreadyExists; every other failure leaves the draft
// in place so a retry or the expiry sweep can settle it.
func (c *OrderCreator) CreateFromDraft(ctx context.Context, cmd CreateFromDraftCommand) (domain.Order, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if gatewayOrderID == "" || paymentID == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway order and payment id are required", ErrPaymentInvalidInput)
	}

	draft, err := c.loadDraft(ctx, strings.TrimSpace(cmd.DraftID), gatewayOrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if draft.GatewayOrderID != gatewayOrderID {
		return domain.Order{}, fmt.Errorf("%w: draft %s is bound to another gateway order", ErrPaymentInvalidInput, draft.ID)
	}
	if cmd.AmountCaptured > 0 && cmd.AmountCaptured != draft.Pricing.Total {
		c.logger(ctx, "order_creation.amount_mismatch", map[string]any{
			"draft_id":         draft.ID,
			"gateway_order_id": gatewayOrderID,
			"expected":         draft.Pricing.Total,
			"captured":         cmd.AmountCaptured,
		})
		return domain.Order{}, ErrPaymentAmountMismatch
	}

	if draft.CapturedPaymentID != paymentID {
		draft.CapturedPaymentID = paymentID
		draft.UpdatedAt = c.now()
		if err := c.drafts.Update(ctx, draft); err != nil {
			return domain.Order{}, c.draftGone(ctx, gatewayOrderID, err)
		}
	}
	// The payment stays recorded on an expired draft so the expiry sweep refunds it.
	if draftClosed(draft, c.now()) {
		c.logger(ctx, "order_creation.draft_expired", map[string]any{
			"draft_id":         draft.ID,
			"gateway_order_id": gatewayOrderID,
			"payment_id":       paymentID,
		})
		return domain.Order{}, ErrDraftExpired
	}

	items, err := c.catalog.FindItems(ctx, lineItemIDs(draft.Lines))
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, nil, nil)
	}
	repriced, err := c.reprice(ctx, draft, items)
	if err != nil {
		return domain.Order{}, err
	}

	walletRef, err := c.debitWallet(ctx, draft)
	if err != nil {
		return domain.Order{}, err
	}

	now := c.now()
	var created domain.Order
	err = c.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := c.drafts.FindByID(txCtx, draft.ID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return ErrDraftConsumed
			}
			return mapRepositoryError(err, nil, nil)
		}
		if draftClosed(current, now) {
			return ErrDraftExpired
		}
		if _, err := c.stock.Promote(txCtx, PromoteCommand{
			BuyerID:        draft.BuyerID,
			GatewayOrderID: gatewayOrderID,
			Lines:          draftStockLines(draft),
		}); err != nil {
			return err
		}
		seq, err := c.counters.Next(txCtx, orderCounterID, 1)
		if err != nil {
			return mapRepositoryError(err, nil, nil)
		}

		order := c.buildOrder(draft, items, paymentID, walletRef, seq, now)
		if err := c.orders.Insert(txCtx, order); err != nil {
			if repositories.IsConflict(err) {
				return fmt.Errorf("%w: %v", ErrOrderAlreadyExists, err)
			}
			return mapRepositoryError(err, nil, nil)
		}

		metadata := map[string]any{
			"trigger":        string(cmd.Trigger),
			"gatewayOrderId": gatewayOrderID,
			"paymentId":      paymentID,
			"amount":         draft.Pricing.Total,
		}
		if repriced != nil {
			metadata["repricedTotal"] = repriced.Total
			metadata["priceDrift"] = repriced.Total - draft.Pricing.Total
		}
		if err := c.journal.record(txCtx, order, transitionRecord{
			EventType:   domain.HistoryOrderPlaced,
			To:          domain.OrderStatusPlaced,
			Title:       "Order placed",
			Description: fmt.Sprintf("Payment of %s received.", c.money.Format(order.Currency, draft.Pricing.PayableBeforeWallet())),
			Actor:       domain.Actor{Kind: domain.ActorBuyer, ID: draft.BuyerID},
			Metadata:    metadata,
		}, now); err != nil {
			return err
		}
		if err := c.drafts.Delete(txCtx, draft.ID); err != nil {
			return mapRepositoryError(err, ErrDraftConsumed, nil)
		}
		if err := c.clearCart(txCtx, order, now); err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		// The debit is shared by reference with whichever call created the order.
		if !errors.Is(err, ErrDraftConsumed) && !errors.Is(err, ErrOrderAlreadyExists) {
			c.reverseWallet(ctx, walletRef, draft.ID)
		}
		c.logger(ctx, "order_creation.failed", map[string]any{
			"draft_id":         draft.ID,
			"gateway_order_id": gatewayOrderID,
			"trigger":          string(cmd.Trigger),
			"error":            err.Error(),
		})
		return domain.Order{}, err
	}

	ctx = requestctx.WithOrderScope(ctx, requestctx.OrderScope{OrderID: created.ID})
	c.logger(ctx, "order_creation.created", map[string]any{
		"order_number":     created.Number,
		"draft_id":         draft.ID,
		"gateway_order_id": gatewayOrderID,
		"trigger":          string(cmd.Trigger),
	})
	c.relay.RelayPending(ctx)
	return created, nil
}

func (c *OrderCreator) loadDraft(ctx context.Context, draftID, gatewayOrderID string) (domain.DraftOrder, error) {
	var (
		draft domain.DraftOrder
		err   error
	)
	if draftID != "" {
		draft, err = c.drafts.FindByID(ctx, draftID)
	} else {
		draft, err = c.drafts.FindByGatewayOrderID(ctx, gatewayOrderID)
	}
	if err != nil {
		return domain.DraftOrder{}, c.draftGone(ctx, gatewayOrderID, err)
	}
	return draft, nil
}

// draftGone distinguishes a draft consumed by a committed order from one that never existed.
func (c *OrderCreator) draftGone(ctx context.Context, gatewayOrderID string, err error) error {
	if !repositories.IsNotFound(err) {
		return mapRepositoryError(err, nil, nil)
	}
	if _, findErr := c.orders.FindByGatewayOrderID(ctx, gatewayOrderID); findErr == nil {
		return ErrOrderAlreadyExists
	}
	return fmt.Errorf("%w: %v", ErrDraftNotFound, err)
}

// reprice re-reads catalog prices for a stale draft. The charged amount stays the draft total;
// the fresh snapshot is returned for the audit trail only.
func (c *OrderCreator) reprice(ctx context.Context, draft domain.DraftOrder, items map[string]domain.CatalogItem) (*domain.PricingSnapshot, error) {
	if c.now().Sub(draft.Pricing.PricedAt) < c.freshness {
		return nil, nil
	}
	for _, line := range draft.Lines {
		if item, ok := items[line.ItemID]; !ok || !item.Active {
			return nil, fmt.Errorf("%w: %s", ErrCheckoutItemUnavailable, line.ItemID)
		}
	}
	priced, _, err := pricedLines(draft.Lines, items)
	if err != nil {
		return nil, err
	}
	input := PriceInput{
		Lines:          priced,
		DistanceMeters: draft.Pricing.DistanceMeters,
		Currency:       draft.Pricing.Currency,
		WalletBalance:  draft.Pricing.WalletDeduction,
		UseWallet:      draft.Pricing.WalletDeduction > 0,
	}
	if code := draft.Pricing.CouponCode; code != "" && c.coupons != nil {
		if coupon, err := c.coupons.FindByCode(ctx, code); err == nil {
			input.Coupon = &coupon
		}
	}
	snapshot, err := c.pricing.Price(input)
	if err != nil {
		return nil, err
	}
	if snapshot.Total != draft.Pricing.Total {
		c.logger(ctx, "order_creation.price_drift", map[string]any{
			"draft_id": draft.ID,
			"charged":  draft.Pricing.Total,
			"current":  snapshot.Total,
		})
	}
	return &snapshot, nil
}

// debitWallet is the saga step that runs before the transaction. The reference makes a retried
// creation reuse the same debit.
func (c *OrderCreator) debitWallet(ctx context.Context, draft domain.DraftOrder) (string, error) {
	amount := draft.Pricing.WalletDeduction
	if amount <= 0 || c.wallets == nil {
		return "", nil
	}
	reference := "draft:" + draft.ID
	_, err := c.wallets.Debit(ctx, domain.WalletEntry{
		Reference: reference,
		BuyerID:   draft.BuyerID,
		Amount:    amount,
		CreatedAt: c.now(),
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientWallet) {
			return "", fmt.Errorf("%w: wallet no longer covers %d", ErrPaymentAmountMismatch, amount)
		}
		return "", mapRepositoryError(err, nil, nil)
	}
	return reference, nil
}

func (c *OrderCreator) reverseWallet(ctx context.Context, reference, draftID string) {
	if reference == "" || c.wallets == nil {
		return
	}
	if err := c.wallets.Reverse(ctx, reference); err != nil {
		c.logger(ctx, "order_creation.wallet_reverse_failed", map[string]any{
			"draft_id":  draftID,
			"reference": reference,
			"error":     err.Error(),
		})
	}
}

func (c *OrderCreator) buildOrder(draft domain.DraftOrder, items map[string]domain.CatalogItem, paymentID, walletRef string, seq int64, now time.Time) domain.Order {
	orderID := orderIDPrefix + c.newID()
	acceptBy := now.Add(c.accept)
	order := domain.Order{
		ID:                      orderID,
		Number:                  fmt.Sprintf("WK-%04d-%06d", now.Year(), seq),
		BuyerID:                 draft.BuyerID,
		SellerID:                draft.SellerID,
		DraftID:                 draft.ID,
		AddressID:               draft.AddressID,
		Status:                  domain.OrderStatusPlaced,
		PaymentStatus:           domain.PaymentStatusCaptured,
		Currency:                draft.Pricing.Currency,
		Pricing:                 draft.Pricing,
		RequiresPersonalization: draft.RequiresPersonalization,
		Deadlines:               domain.OrderDeadlines{AcceptBy: &acceptBy},
		RevisionLimit:           draft.RevisionLimit,
		Payment: domain.OrderPayment{
			Provider:        draft.Provider,
			GatewayOrderID:  draft.GatewayOrderID,
			PaymentID:       paymentID,
			AmountCaptured:  draft.Pricing.Total,
			WalletDebited:   draft.Pricing.WalletDeduction,
			WalletReference: walletRef,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.RevisionLimit <= 0 {
		order.RevisionLimit = domain.DefaultRevisionLimit
	}

	order.Items = make([]domain.OrderItem, 0, len(draft.Lines))
	for i, line := range draft.Lines {
		// Pricing lines are produced in cart order.
		var priced domain.LinePricing
		if i < len(draft.Pricing.Lines) {
			priced = draft.Pricing.Lines[i]
		}
		item := items[line.ItemID]
		order.Items = append(order.Items, domain.OrderItem{
			ID:                      itemIDPrefix + c.newID(),
			OrderID:                 orderID,
			ItemID:                  line.ItemID,
			VariantID:               line.VariantID,
			Name:                    item.Name,
			Quantity:                line.Quantity,
			UnitPrice:               priced.UnitPrice,
			AddOnTotal:              priced.AddOnTotal,
			TotalPrice:              priced.Total,
			RequiresPersonalization: item.RequiresPersonalization,
			Selections:              line.PersonalizationChoices,
			AddOns:                  line.AddOns,
			FulfillmentStatus:       domain.OrderStatusPlaced,
		})
	}
	return order
}

// clearCart empties the buyer's cart once its contents became an order.
func (c *OrderCreator) clearCart(ctx context.Context, order domain.Order, now time.Time) error {
	if c.carts == nil {
		return nil
	}
	cart, err := c.carts.Get(ctx, order.BuyerID)
	if repositories.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return mapRepositoryError(err, nil, nil)
	}
	if len(cart.Lines) == 0 {
		return nil
	}
	cart.Lines = nil
	cart.Version++
	cart.LastMutation = &domain.CartMutationRef{ClientID: "server", MutationID: "order:" + order.ID}
	cart.UpdatedAt = now
	if err := c.carts.Save(ctx, cart); err != nil {
		return mapRepositoryError(err, nil, ErrCartConflict)
	}
	return c.journal.emit(ctx, domain.Order{BuyerID: order.BuyerID}, domain.EventCartUpdated, map[string]any{
		"cartVersion":      cart.Version,
		"clientId":         "server",
		"originMutationId": "order:" + order.ID,
		"sequence":         0,
		"updatedAt":        now.Format(time.RFC3339Nano),
	}, now)
}

// draftClosed reports whether a draft can no longer become an order.
func draftClosed(draft domain.DraftOrder, now time.Time) bool {
	return draft.Status == domain.DraftStatusExpiring || draft.Expired(now)
}

func draftStockLines(draft domain.DraftOrder) []domain.StockLine {
	lines := make([]domain.StockLine, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		lines = append(lines, domain.StockLine{Key: line.StockKey(), Quantity: line.Quantity})
	}
	return lines
}

func lineItemIDs(lines []domain.CartLine) []string {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}
