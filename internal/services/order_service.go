package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/storage"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	defaultDetailsWindow     = 12 * time.Hour
	defaultPreviewWindow     = 24 * time.Hour
	defaultMaxRefundAttempts = 5
	defaultOrderPageSize     = 20
	maxOrderPageSize         = 100

	reasonAcceptanceTimeout = "acceptance timeout"
	reasonDetailsTimeout    = "personalization details timeout"
	reasonPreviewTimeout    = "preview approval timeout"
)

// errSkipTransition aborts a guarded transition without error: the order already moved on.
var errSkipTransition = errors.New("order: transition no longer due")

// PreviewAssets signs upload and read URLs for preview proofs.
type PreviewAssets interface {
	UploadURL(ctx context.Context, object, contentType string) (storage.SignedURL, error)
	ReadURL(ctx context.Context, object string) (storage.SignedURL, error)
}

// AssetInspector confirms an uploaded proof exists.
type AssetInspector interface {
	Stat(ctx context.Context, object string) (storage.ObjectInfo, error)
}

// OrderServiceDeps wires the order state machine.
type OrderServiceDeps struct {
	UnitOfWork        repositories.UnitOfWork
	Orders            repositories.OrderRepository
	Previews          repositories.PreviewRepository
	History           repositories.OrderHistoryRepository
	Outbox            repositories.OutboxRepository
	Catalog           repositories.CatalogRepository
	Wallets           repositories.WalletRepository
	Gateway           Gateway
	Assets            PreviewAssets
	Inspector         AssetInspector
	Relay             EventRelay
	DetailsWindow     time.Duration
	PreviewWindow     time.Duration
	MaxRefundAttempts int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            Logger
	Locale            string
}

// OrderService applies actor-initiated and sweep-initiated transitions. Every transition loads the
// order, resolves the next status through domain.NextStatus, writes the order, one history entry
// and its outbox events in a single unit of work.
type OrderService struct {
	uow           repositories.UnitOfWork
	orders        repositories.OrderRepository
	previews      repositories.PreviewRepository
	history       repositories.OrderHistoryRepository
	catalog       repositories.CatalogRepository
	wallets       repositories.WalletRepository
	gateway       Gateway
	assets        PreviewAssets
	inspector     AssetInspector
	relay         EventRelay
	journal       journal
	money         moneyFormatter
	detailsWindow time.Duration
	previewWindow time.Duration
	maxRefunds    int
	now           func() time.Time
	newID         func() string
	logger        Logger
}

// NewOrderService validates dependencies.
func NewOrderService(deps OrderServiceDeps) (*OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Previews == nil:
		return nil, errors.New("order service: preview repository is required")
	case deps.History == nil || deps.Outbox == nil:
		return nil, errors.New("order service: history and outbox repositories are required")
	case deps.Gateway == nil:
		return nil, errors.New("order service: payment gateway is required")
	}
	details := deps.DetailsWindow
	if details <= 0 {
		details = defaultDetailsWindow
	}
	preview := deps.PreviewWindow
	if preview <= 0 {
		preview = defaultPreviewWindow
	}
	maxRefunds := deps.MaxRefundAttempts
	if maxRefunds <= 0 {
		maxRefunds = defaultMaxRefundAttempts
	}
	newID := idGeneratorOrDefault(deps.IDGenerator)
	return &OrderService{
		uow:           unitOrNoop(deps.UnitOfWork),
		orders:        deps.Orders,
		previews:      deps.Previews,
		history:       deps.History,
		catalog:       deps.Catalog,
		wallets:       deps.Wallets,
		gateway:       deps.Gateway,
		assets:        deps.Assets,
		inspector:     deps.Inspector,
		relay:         relayOrNop(deps.Relay),
		journal:       journal{history: deps.History, outbox: deps.Outbox, newID: newID},
		money:         newMoneyFormatter(deps.Locale),
		detailsWindow: details,
		previewWindow: preview,
		maxRefunds:    maxRefunds,
		now:           utcClock(deps.Clock),
		newID:         newID,
		logger:        loggerOrNop(deps.Logger),
	}, nil
}

// transition describes one state change.
type transition struct {
	orderID string
	actor   domain.Actor
	action  domain.OrderAction
	// allowed lists the actor kinds permitted to perform the action; ownership is checked as well.
	allowed []domain.ActorKind
	// guard runs before the status check; returning errSkipTransition makes the call a no-op.
	guard func(order domain.Order, now time.Time) error
	// apply mutates the order (and any related rows) and describes the history entry.
	apply func(ctx context.Context, order *domain.Order, next domain.OrderStatus, now time.Time) (transitionRecord, error)
}

func (s *OrderService) run(ctx context.Context, t transition) (domain.Order, error) {
	if strings.TrimSpace(t.orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := validateActor(t.actor); err != nil {
		return domain.Order{}, err
	}
	ctx = requestctx.WithOrderScope(ctx, requestctx.OrderScope{Actor: t.actor, OrderID: t.orderID})
	now := s.now()
	var (
		updated domain.Order
		from    domain.OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, t.orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, nil)
		}
		if !actorPermitted(order, t.actor, t.allowed) {
			return ErrOrderForbidden
		}
		if t.guard != nil {
			if err := t.guard(order, now); err != nil {
				return err
			}
		}
		next, err := domain.NextStatus(order.Status, t.action, order.TransitionContext())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
		}
		from = order.Status
		rec, err := t.apply(txCtx, &order, next, now)
		if err != nil {
			return err
		}
		order.Status = next
		order.UpdatedAt = now
		if lineStatus, ok := domain.LineStatusFor(next); ok {
			for i := range order.Items {
				order.Items[i].FulfillmentStatus = lineStatus
			}
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		rec.From = from
		rec.To = next
		if rec.Actor.Kind == "" {
			rec.Actor = t.actor
		}
		if err := s.journal.record(txCtx, order, rec, now); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		if !errors.Is(err, errSkipTransition) {
			s.logger(ctx, "order.transition_rejected", map[string]any{
				"action": string(t.action),
				"error":  err.Error(),
			})
		}
		return domain.Order{}, err
	}
	s.logger(ctx, "order.transitioned", map[string]any{
		"action": string(t.action),
		"from":   string(from),
		"to":     string(updated.Status),
	})
	s.relay.RelayPending(ctx)
	return updated, nil
}

var (
	sellerOrStaff = []domain.ActorKind{domain.ActorSeller, domain.ActorStaff}
	buyerOnly     = []domain.ActorKind{domain.ActorBuyer}
	staffOnly     = []domain.ActorKind{domain.ActorStaff}
	systemOnly    = []domain.ActorKind{domain.ActorSystem}
	anyActor      = []domain.ActorKind{domain.ActorBuyer, domain.ActorSeller, domain.ActorStaff, domain.ActorSystem}
)

func validateActor(actor domain.Actor) error {
	if actor.Kind == "" || strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	return nil
}

func actorPermitted(order domain.Order, actor domain.Actor, allowed []domain.ActorKind) bool {
	permitted := false
	for _, kind := range allowed {
		if kind == actor.Kind {
			permitted = true
			break
		}
	}
	return permitted && order.OwnedBy(actor)
}

// Accept confirms the order for the seller. Orders without personalization go straight to production.
func (s *OrderService) Accept(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionAccept,
		allowed: sellerOrStaff,
		apply: func(_ context.Context, order *domain.Order, next domain.OrderStatus, now time.Time) (transitionRecord, error) {
			accepted := now
			order.AcceptedAt = &accepted
			order.Deadlines.AcceptBy = nil
			rec := transitionRecord{EventType: domain.HistoryOrderAccepted, Title: "Order accepted"}
			if next == domain.OrderStatusConfirmed {
				detailsBy := now.Add(s.detailsWindow)
				order.Deadlines.DetailsBy = &detailsBy
				rec.Description = "The seller accepted the order and is waiting for personalization details."
			} else {
				rec.Description = "The seller accepted the order and started production."
			}
			return rec, nil
		},
	})
}

// Reject cancels the order on behalf of the seller and refunds the buyer.
func (s *OrderService) Reject(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error) {
	if actor.Kind != domain.ActorSeller && actor.Kind != domain.ActorStaff {
		return domain.Order{}, ErrOrderForbidden
	}
	reason = sanitizeText(reason)
	if reason == "" {
		reason = "rejected by seller"
	}
	return s.Cancel(ctx, orderID, actor, reason)
}

// SubmitDetails stores the buyer's personalization input.
func (s *OrderService) SubmitDetails(ctx context.Context, orderID string, actor domain.Actor, details map[string]any) (domain.Order, error) {
	cleaned := sanitizeDetails(details)
	if len(cleaned) == 0 {
		return domain.Order{}, fmt.Errorf("%w: personalization details are required", ErrOrderInvalidInput)
	}
	return s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionSubmitDetails,
		allowed: buyerOnly,
		apply: func(ctx context.Context, order *domain.Order, _ domain.OrderStatus, _ time.Time) (transitionRecord, error) {
			if err := s.requireFields(ctx, *order, cleaned); err != nil {
				return transitionRecord{}, err
			}
			order.PersonalizationInput = cleaned
			order.Deadlines.DetailsBy = nil
			for i := range order.Items {
				if order.Items[i].RequiresPersonalization {
					order.Items[i].PersonalizationDetails = cloneAnyMap(cleaned)
				}
			}
			return transitionRecord{
				EventType:   domain.HistoryDetailsSubmitted,
				Title:       "Personalization details received",
				Description: "The buyer submitted personalization details.",
				Metadata:    map[string]any{"fields": sortedKeys(cleaned)},
			}, nil
		},
	})
}

// requireFields checks every field the catalog marks as required for the order's items.
func (s *OrderService) requireFields(ctx context.Context, order domain.Order, details map[string]any) error {
	if s.catalog == nil {
		return nil
	}
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		if item.RequiresPersonalization {
			ids = append(ids, item.ItemID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	items, err := s.catalog.FindItems(ctx, ids)
	if err != nil {
		return mapRepositoryError(err, nil, nil)
	}
	var missing []string
	for _, id := range ids {
		for _, field := range items[id].PersonalizationFields {
			value, ok := details[field]
			if !ok || value == "" {
				missing = append(missing, field)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing required personalization fields %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

// SubmitPreviewCommand attaches an uploaded proof to an order item.
type SubmitPreviewCommand struct {
	OrderItemID string
	AssetRef    string
	Notes       string
}

// SubmitPreview records a seller proof and starts the approval window.
func (s *OrderService) SubmitPreview(ctx context.Context, orderID string, actor domain.Actor, cmd SubmitPreviewCommand) (domain.Order, domain.PreviewSubmission, error) {
	assetRef := strings.TrimSpace(cmd.AssetRef)
	if assetRef == "" {
		return domain.Order{}, domain.PreviewSubmission{}, fmt.Errorf("%w: asset reference is required", ErrOrderInvalidInput)
	}
	if s.assets != nil && !storage.BelongsToOrder(assetRef, orderID) {
		return domain.Order{}, domain.PreviewSubmission{}, fmt.Errorf("%w: asset does not belong to order", ErrOrderInvalidInput)
	}
	if s.inspector != nil {
		if _, err := s.inspector.Stat(ctx, assetRef); err != nil {
			if errors.Is(err, storage.ErrObjectMissing) {
				return domain.Order{}, domain.PreviewSubmission{}, fmt.Errorf("%w: asset has not been uploaded", ErrOrderInvalidInput)
			}
			return domain.Order{}, domain.PreviewSubmission{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	var submitted domain.PreviewSubmission
	order, err := s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionSubmitPreview,
		allowed: sellerOrStaff,
		apply: func(ctx context.Context, order *domain.Order, _ domain.OrderStatus, now time.Time) (transitionRecord, error) {
			itemID, err := previewItem(*order, cmd.OrderItemID)
			if err != nil {
				return transitionRecord{}, err
			}
			submitted = domain.PreviewSubmission{
				ID:             previewIDPrefix + s.newID(),
				OrderID:        order.ID,
				OrderItemID:    itemID,
				AssetRef:       assetRef,
				Status:         domain.PreviewStatusPending,
				SellerNotes:    sanitizeText(cmd.Notes),
				RevisionNumber: order.RevisionCount,
				SubmittedAt:    now,
			}
			if err := s.previews.Insert(ctx, submitted); err != nil {
				return transitionRecord{}, mapRepositoryError(err, nil, ErrOrderConflict)
			}
			previewBy := now.Add(s.previewWindow)
			order.Deadlines.PreviewBy = &previewBy
			if err := s.journal.previewChanged(ctx, *order, submitted, now); err != nil {
				return transitionRecord{}, err
			}
			return transitionRecord{
				EventType:   domain.HistoryPreviewSubmitted,
				Title:       "Preview ready",
				Description: fmt.Sprintf("The seller shared preview %d for approval.", order.RevisionCount+1),
				Metadata:    map[string]any{"previewSubmissionId": submitted.ID, "orderItemId": itemID},
			}, nil
		},
	})
	if err != nil {
		return domain.Order{}, domain.PreviewSubmission{}, err
	}
	return order, submitted, nil
}

func previewItem(order domain.Order, orderItemID string) (string, error) {
	orderItemID = strings.TrimSpace(orderItemID)
	for _, item := range order.Items {
		if orderItemID == "" && item.RequiresPersonalization {
			return item.ID, nil
		}
		if item.ID == orderItemID {
			return item.ID, nil
		}
	}
	if orderItemID == "" && len(order.Items) > 0 {
		return order.Items[0].ID, nil
	}
	return "", fmt.Errorf("%w: order item %q not found", ErrOrderInvalidInput, orderItemID)
}

// ApprovePreview accepts a pending proof.
func (s *OrderService) ApprovePreview(ctx context.Context, orderID string, actor domain.Actor, previewID string) (domain.Order, error) {
	return s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionApprovePreview,
		allowed: buyerOnly,
		apply: func(ctx context.Context, order *domain.Order, _ domain.OrderStatus, now time.Time) (transitionRecord, error) {
			preview, err := s.pendingPreview(ctx, order.ID, previewID)
			if err != nil {
				return transitionRecord{}, err
			}
			if err := s.reviewPreview(ctx, *order, &preview, domain.PreviewStatusApproved, "", false, now); err != nil {
				return transitionRecord{}, err
			}
			order.Deadlines.PreviewBy = nil
			return transitionRecord{
				EventType:   domain.HistoryPreviewApproved,
				Title:       "Preview approved",
				Description: "The buyer approved the preview.",
				Metadata:    map[string]any{"previewSubmissionId": preview.ID},
			}, nil
		},
	})
}

// RequestRevision sends a proof back to the seller. It fails without touching the counter once the
// order's revision limit is reached.
func (s *OrderService) RequestRevision(ctx context.Context, orderID string, actor domain.Actor, previewID, feedback string) (domain.Order, error) {
	feedback = sanitizeText(feedback)
	if feedback == "" {
		return domain.Order{}, fmt.Errorf("%w: feedback is required", ErrOrderInvalidInput)
	}
	return s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionRequestRevision,
		allowed: buyerOnly,
		apply: func(ctx context.Context, order *domain.Order, _ domain.OrderStatus, now time.Time) (transitionRecord, error) {
			if order.RevisionCount >= order.RevisionLimit {
				return transitionRecord{}, fmt.Errorf("%w: %d of %d used", ErrRevisionLimitReached, order.RevisionCount, order.RevisionLimit)
			}
			preview, err := s.pendingPreview(ctx, order.ID, previewID)
			if err != nil {
				return transitionRecord{}, err
			}
			if err := s.reviewPreview(ctx, *order, &preview, domain.PreviewStatusChangeRequested, feedback, false, now); err != nil {
				return transitionRecord{}, err
			}
			order.RevisionCount++
			order.Deadlines.PreviewBy = nil
			return transitionRecord{
				EventType:   domain.HistoryRevisionRequested,
				Title:       "Changes requested",
				Description: fmt.Sprintf("The buyer asked for changes (%d of %d revisions used).", order.RevisionCount, order.RevisionLimit),
				Metadata: map[string]any{
					"previewSubmissionId": preview.ID,
					"revisionCount":       order.RevisionCount,
					"revisionLimit":       order.RevisionLimit,
				},
			}, nil
		},
	})
}

func (s *OrderService) pendingPreview(ctx context.Context, orderID, previewID string) (domain.PreviewSubmission, error) {
	previewID = strings.TrimSpace(previewID)
	if previewID == "" {
		return domain.PreviewSubmission{}, fmt.Errorf("%w: preview id is required", ErrPreviewNotFound)
	}
	preview, err := s.previews.FindByID(ctx, orderID, previewID)
	if err != nil {
		return domain.PreviewSubmission{}, mapRepositoryError(err, ErrPreviewNotFound, nil)
	}
	if preview.Status != domain.PreviewStatusPending {
		return domain.PreviewSubmission{}, fmt.Errorf("%w: %s is %s", ErrPreviewNotPending, preview.ID, preview.Status)
	}
	return preview, nil
}

func (s *OrderService) reviewPreview(ctx context.Context, order domain.Order, preview *domain.PreviewSubmission, status domain.PreviewStatus, feedback string, auto bool, now time.Time) error {
	reviewed := now
	preview.Status = status
	preview.ReviewedAt = &reviewed
	preview.BuyerFeedback = feedback
	preview.AutoApproved = auto
	if err := s.previews.Update(ctx, *preview); err != nil {
		return mapRepositoryError(err, ErrPreviewNotFound, ErrOrderConflict)
	}
	return s.journal.previewChanged(ctx, order, *preview, now)
}

// SetRevisionLimit adjusts the order's revision ceiling within [1, MaxRevisionLimit]. It never drops
// below the revisions already used. A real change is noted in the order history; setting the current
// limit again writes nothing.
func (s *OrderService) SetRevisionLimit(ctx context.Context, orderID string, actor domain.Actor, limit int) (domain.Order, error) {
	if limit < 1 || limit > domain.MaxRevisionLimit {
		return domain.Order{}, fmt.Errorf("%w: revision limit must be between 1 and %d", ErrOrderInvalidInput, domain.MaxRevisionLimit)
	}
	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	var updated domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, nil)
		}
		if !actorPermitted(order, actor, sellerOrStaff) {
			return ErrOrderForbidden
		}
		if !order.RequiresPersonalization || order.Status.IsTerminal() {
			return fmt.Errorf("%w: revision limit applies to open personalized orders", ErrOrderInvalidState)
		}
		if limit < order.RevisionCount {
			return fmt.Errorf("%w: %d revisions already used", ErrOrderInvalidInput, order.RevisionCount)
		}
		if limit == order.RevisionLimit {
			updated = order
			return nil
		}
		previous := order.RevisionLimit
		now := s.now()
		order.RevisionLimit = limit
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if err := s.journal.note(txCtx, order, transitionRecord{
			EventType:   domain.HistoryRevisionLimitChanged,
			Title:       "Revision limit changed",
			Description: fmt.Sprintf("Revisions allowed changed from %d to %d.", previous, limit),
			Actor:       actor,
			Metadata:    map[string]any{"previousLimit": previous, "revisionLimit": limit},
		}, now); err != nil {
			return err
		}
		updated = order
		return nil
	})
	return updated, err
}

// StartProduction moves an approved personalized order into production.
func (s *OrderService) StartProduction(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.fulfil(ctx, orderID, actor, domain.OrderActionStartProduction, domain.HistoryProductionStarted,
		"Production started", "The seller started making the order.")
}

// MarkPacked records that the order is packed.
func (s *OrderService) MarkPacked(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.fulfil(ctx, orderID, actor, domain.OrderActionPack, domain.HistoryPacked,
		"Packed", "The order is packed and waiting for pickup.")
}

// MarkDispatched records hand-off to delivery.
func (s *OrderService) MarkDispatched(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.fulfil(ctx, orderID, actor, domain.OrderActionDispatch, domain.HistoryDispatched,
		"Dispatched", "The order is on its way.")
}

// MarkDelivered completes the order.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	return s.fulfil(ctx, orderID, actor, domain.OrderActionDeliver, domain.HistoryDelivered,
		"Delivered", "The order was delivered.")
}

func (s *OrderService) fulfil(ctx context.Context, orderID string, actor domain.Actor, action domain.OrderAction, eventType, title, description string) (domain.Order, error) {
	return s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  action,
		allowed: sellerOrStaff,
		apply: func(_ context.Context, order *domain.Order, next domain.OrderStatus, now time.Time) (transitionRecord, error) {
			if next == domain.OrderStatusDelivered {
				delivered := now
				order.DeliveredAt = &delivered
			}
			return transitionRecord{EventType: eventType, Title: title, Description: description}, nil
		},
	})
}

// Cancel cancels the order and settles the refund after the cancellation commits. Buyers may only
// cancel before the seller accepts.
func (s *OrderService) Cancel(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error) {
	reason = sanitizeText(reason)
	if reason == "" {
		reason = "cancelled by " + string(actor.Kind)
	}
	order, err := s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionCancel,
		allowed: anyActor,
		guard: func(order domain.Order, _ time.Time) error {
			if actor.Kind == domain.ActorBuyer && order.Status != domain.OrderStatusPlaced {
				return fmt.Errorf("%w: buyers can only cancel before the seller accepts", ErrOrderInvalidState)
			}
			return nil
		},
		apply: s.cancelWith(reason, nil),
	})
	if err != nil {
		return domain.Order{}, err
	}
	return s.settleAfterCommit(ctx, order), nil
}

// cancelWith records the cancellation; the refund is owed from this point on.
func (s *OrderService) cancelWith(reason string, metadata map[string]any) func(context.Context, *domain.Order, domain.OrderStatus, time.Time) (transitionRecord, error) {
	return func(_ context.Context, order *domain.Order, _ domain.OrderStatus, now time.Time) (transitionRecord, error) {
		cancelled := now
		order.CancelledAt = &cancelled
		order.CancellationReason = reason
		order.Deadlines = domain.OrderDeadlines{}
		if order.PaymentStatus == domain.PaymentStatusCaptured {
			order.PaymentStatus = domain.PaymentStatusRefundPending
		}
		meta := cloneAnyMap(metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["reason"] = reason
		meta["refundAmount"] = order.Pricing.PayableBeforeWallet()
		return transitionRecord{
			EventType: domain.HistoryCancelled,
			Title:     "Order cancelled",
			Description: fmt.Sprintf("Cancelled: %s. A refund of %s has been initiated.", reason,
				s.money.Format(order.Currency, order.Pricing.PayableBeforeWallet())),
			Metadata: meta,
		}, nil
	}
}

// Refund fully refunds the order on behalf of staff and closes it as REFUNDED.
func (s *OrderService) Refund(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error) {
	reason = sanitizeText(reason)
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: refund reason is required", ErrOrderInvalidInput)
	}
	order, err := s.run(ctx, transition{
		orderID: orderID,
		actor:   actor,
		action:  domain.OrderActionRefund,
		allowed: staffOnly,
		apply: func(_ context.Context, order *domain.Order, _ domain.OrderStatus, _ time.Time) (transitionRecord, error) {
			order.Deadlines = domain.OrderDeadlines{}
			order.CancellationReason = reason
			if order.PaymentStatus == domain.PaymentStatusCaptured {
				order.PaymentStatus = domain.PaymentStatusRefundPending
			}
			return transitionRecord{
				EventType: domain.HistoryRefunded,
				Title:     "Order refunded",
				Description: fmt.Sprintf("Refund of %s issued by support: %s.",
					s.money.Format(order.Currency, order.Pricing.PayableBeforeWallet()), reason),
				Metadata: map[string]any{"reason": reason},
			}, nil
		},
	})
	if err != nil {
		return domain.Order{}, err
	}
	return s.settleAfterCommit(ctx, order), nil
}

func (s *OrderService) settleAfterCommit(ctx context.Context, order domain.Order) domain.Order {
	settled, err := s.SettleRefund(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "order.refund_deferred", map[string]any{
			"order_id":         order.ID,
			"gateway_order_id": order.Payment.GatewayOrderID,
			"error":            err.Error(),
		})
		if refreshed, findErr := s.orders.FindByID(ctx, order.ID); findErr == nil {
			return refreshed
		}
		return order
	}
	return settled
}

// ErrRefundAttemptsExhausted marks an order whose automatic refund retries are used up.
var ErrRefundAttemptsExhausted = errors.New("order: refund attempts exhausted")

// SettleRefund issues the refund owed on an order. It is idempotent: orders that owe nothing are
// returned unchanged, and the gateway call carries a per-order idempotency key.
func (s *OrderService) SettleRefund(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound, nil)
	}
	if !order.PaymentStatus.NeedsRefund() {
		return order, nil
	}
	if order.Payment.RefundAttempts >= s.maxRefunds {
		return order, fmt.Errorf("%w: %d attempts", ErrRefundAttemptsExhausted, order.Payment.RefundAttempts)
	}

	var (
		result    payments.RefundResult
		refundErr error
	)
	if order.Payment.AmountCaptured > 0 && order.Payment.PaymentID != "" {
		result, refundErr = s.gateway.Refund(ctx, order.Payment.Provider, payments.RefundRequest{
			PaymentID:      order.Payment.PaymentID,
			Amount:         order.Payment.AmountCaptured,
			IdempotencyKey: "refund:" + order.ID,
			Reason:         order.CancellationReason,
		})
	}
	if refundErr == nil && order.Payment.WalletReference != "" && s.wallets != nil {
		refundErr = s.wallets.Reverse(ctx, order.Payment.WalletReference)
	}

	now := s.now()
	var settled domain.Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, nil)
		}
		if !current.PaymentStatus.NeedsRefund() {
			settled = current
			return nil
		}
		current.Payment.RefundAttempts++
		if refundErr != nil {
			current.PaymentStatus = domain.PaymentStatusRefundFailed
			current.Payment.LastRefundError = truncateError(refundErr)
		} else {
			refunded := now
			current.PaymentStatus = domain.PaymentStatusRefunded
			current.Payment.RefundID = result.ID
			current.Payment.RefundedAt = &refunded
			current.Payment.LastRefundError = ""
		}
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		settled = current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	fields := map[string]any{
		"order_id":         settled.ID,
		"gateway_order_id": settled.Payment.GatewayOrderID,
		"attempts":         settled.Payment.RefundAttempts,
		"payment_status":   string(settled.PaymentStatus),
	}
	if refundErr != nil {
		fields["error"] = refundErr.Error()
		s.logger(ctx, "order.refund_failed", fields)
		return settled, fmt.Errorf("%w: %v", ErrGatewayUnavailable, refundErr)
	}
	s.logger(ctx, "order.refunded", fields)
	return settled, nil
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}

// ExpireUnaccepted cancels a PLACED order whose accept deadline passed. It is a no-op when the order
// has moved on or the deadline has not passed.
func (s *OrderService) ExpireUnaccepted(ctx context.Context, orderID string) (bool, error) {
	return s.expire(ctx, orderID, domain.OrderStatusPlaced, func(o domain.Order) *time.Time { return o.Deadlines.AcceptBy }, reasonAcceptanceTimeout)
}

// ExpireMissingDetails cancels a CONFIRMED personalized order whose details window passed.
func (s *OrderService) ExpireMissingDetails(ctx context.Context, orderID string) (bool, error) {
	return s.expire(ctx, orderID, domain.OrderStatusConfirmed, func(o domain.Order) *time.Time {
		if !o.RequiresPersonalization || len(o.PersonalizationInput) > 0 {
			return nil
		}
		return o.Deadlines.DetailsBy
	}, reasonDetailsTimeout)
}

func (s *OrderService) expire(ctx context.Context, orderID string, status domain.OrderStatus, deadline func(domain.Order) *time.Time, reason string) (bool, error) {
	order, err := s.run(ctx, transition{
		orderID: orderID,
		actor:   domain.SystemActor,
		action:  domain.OrderActionCancel,
		allowed: systemOnly,
		guard:   dueGuard(status, deadline),
		apply:   s.cancelWith(reason, map[string]any{"automatic": true}),
	})
	if errors.Is(err, errSkipTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.settleAfterCommit(ctx, order)
	return true, nil
}

// AutoApprovePreview approves the latest pending preview of a PREVIEW_READY order whose approval
// window passed.
func (s *OrderService) AutoApprovePreview(ctx context.Context, orderID string) (bool, error) {
	_, err := s.run(ctx, transition{
		orderID: orderID,
		actor:   domain.SystemActor,
		action:  domain.OrderActionApprovePreview,
		allowed: systemOnly,
		guard:   dueGuard(domain.OrderStatusPreviewReady, func(o domain.Order) *time.Time { return o.Deadlines.PreviewBy }),
		apply: func(ctx context.Context, order *domain.Order, _ domain.OrderStatus, now time.Time) (transitionRecord, error) {
			preview, err := s.latestPendingPreview(ctx, order.ID)
			if err != nil {
				return transitionRecord{}, err
			}
			if err := s.reviewPreview(ctx, *order, &preview, domain.PreviewStatusApproved, "", true, now); err != nil {
				return transitionRecord{}, err
			}
			order.Deadlines.PreviewBy = nil
			return transitionRecord{
				EventType:   domain.HistoryPreviewAutoApprove,
				Title:       "Preview approved automatically",
				Description: fmt.Sprintf("The preview was approved automatically because no response arrived in time (%s).", reasonPreviewTimeout),
				Metadata:    map[string]any{"previewSubmissionId": preview.ID, "automatic": true, "reason": reasonPreviewTimeout},
			}, nil
		},
	})
	if errors.Is(err, errSkipTransition) {
		return false, nil
	}
	return err == nil, err
}

func dueGuard(status domain.OrderStatus, deadline func(domain.Order) *time.Time) func(domain.Order, time.Time) error {
	return func(order domain.Order, now time.Time) error {
		if order.Status != status {
			return errSkipTransition
		}
		due := deadline(order)
		if due == nil || due.After(now) {
			return errSkipTransition
		}
		return nil
	}
}

func (s *OrderService) latestPendingPreview(ctx context.Context, orderID string) (domain.PreviewSubmission, error) {
	previews, err := s.previews.ListByOrder(ctx, orderID)
	if err != nil {
		return domain.PreviewSubmission{}, mapRepositoryError(err, nil, nil)
	}
	var latest *domain.PreviewSubmission
	for i := range previews {
		p := &previews[i]
		if p.Status != domain.PreviewStatusPending {
			continue
		}
		if latest == nil || p.SubmittedAt.After(latest.SubmittedAt) {
			latest = p
		}
	}
	if latest == nil {
		return domain.PreviewSubmission{}, ErrPreviewNotFound
	}
	return *latest, nil
}

// GetOrder returns an order visible to the actor.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error) {
	order, err := s.orders.FindByID(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound, nil)
	}
	if !order.OwnedBy(actor) {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrdersQuery narrows the actor's order listing.
type ListOrdersQuery struct {
	Status    []domain.OrderStatus
	PageSize  int
	PageToken string
}

// ListOrders lists the buyer's orders or the seller's queue. Staff see every order.
func (s *OrderService) ListOrders(ctx context.Context, actor domain.Actor, query ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	if err := validateActor(actor); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	filter := repositories.OrderListFilter{
		Status:    query.Status,
		PageSize:  query.PageSize,
		PageToken: query.PageToken,
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = defaultOrderPageSize
	case filter.PageSize > maxOrderPageSize:
		filter.PageSize = maxOrderPageSize
	}
	switch actor.Kind {
	case domain.ActorBuyer:
		filter.BuyerID = actor.ID
	case domain.ActorSeller:
		filter.SellerID = actor.ID
	case domain.ActorStaff:
	default:
		return domain.CursorPage[domain.Order]{}, ErrOrderForbidden
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapRepositoryError(err, nil, nil)
	}
	return page, nil
}

// ListHistory returns the audit trail in commit order.
func (s *OrderService) ListHistory(ctx context.Context, orderID string, actor domain.Actor) ([]domain.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, nil, nil)
	}
	return entries, nil
}

// PreviewView is a preview submission with a short-lived asset URL.
type PreviewView struct {
	Submission domain.PreviewSubmission
	Asset      *storage.SignedURL
}

// ListPreviews returns the order's previews, newest first, with signed read URLs when storage is configured.
func (s *OrderService) ListPreviews(ctx context.Context, orderID string, actor domain.Actor) ([]PreviewView, error) {
	if _, err := s.GetOrder(ctx, orderID, actor); err != nil {
		return nil, err
	}
	previews, err := s.previews.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, nil, nil)
	}
	sort.SliceStable(previews, func(i, j int) bool { return previews[i].SubmittedAt.After(previews[j].SubmittedAt) })
	views := make([]PreviewView, 0, len(previews))
	for _, preview := range previews {
		view := PreviewView{Submission: preview}
		if s.assets != nil {
			signed, err := s.assets.ReadURL(ctx, preview.AssetRef)
			if err != nil {
				s.logger(ctx, "order.preview_url_failed", map[string]any{"order_id": orderID, "preview_id": preview.ID, "error": err.Error()})
			} else {
				view.Asset = &signed
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// PreviewUploadCommand asks for a signed upload URL for a new proof.
type PreviewUploadCommand struct {
	OrderItemID string
	FileName    string
	ContentType string
}

// PreviewUploadURL signs an upload for the seller; the returned object path is later passed to SubmitPreview.
func (s *OrderService) PreviewUploadURL(ctx context.Context, orderID string, actor domain.Actor, cmd PreviewUploadCommand) (storage.SignedURL, error) {
	if s.assets == nil {
		return storage.SignedURL{}, fmt.Errorf("%w: preview storage is not configured", ErrServiceUnavailable)
	}
	if actor.Kind != domain.ActorSeller && actor.Kind != domain.ActorStaff {
		return storage.SignedURL{}, ErrOrderForbidden
	}
	order, err := s.GetOrder(ctx, orderID, actor)
	if err != nil {
		return storage.SignedURL{}, err
	}
	if !order.RequiresPersonalization || order.Status.IsTerminal() {
		return storage.SignedURL{}, fmt.Errorf("%w: order does not take previews", ErrOrderInvalidState)
	}
	itemID, err := previewItem(order, cmd.OrderItemID)
	if err != nil {
		return storage.SignedURL{}, err
	}
	object, err := storage.PreviewObjectPath(order.ID, itemID, strings.ToLower(s.newID()), cmd.FileName)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	signed, err := s.assets.UploadURL(ctx, object, cmd.ContentType)
	if err != nil {
		return storage.SignedURL{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return signed, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
