package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

// PaymentServiceDeps wires payment verification.
type PaymentServiceDeps struct {
	Drafts  repositories.DraftOrderRepository
	Orders  repositories.OrderRepository
	Gateway Gateway
	Creator *OrderCreator
	Clock   func() time.Time
	Logger  Logger
}

// PaymentService is the idempotency guard shared by the client verify path and the webhook path.
// Whichever path arrives first creates the order; the other returns the stored one.
type PaymentService struct {
	drafts  repositories.DraftOrderRepository
	orders  repositories.OrderRepository
	gateway Gateway
	creator *OrderCreator
	now     func() time.Time
	logger  Logger
}

// NewPaymentService validates dependencies.
func NewPaymentService(deps PaymentServiceDeps) (*PaymentService, error) {
	switch {
	case deps.Drafts == nil || deps.Orders == nil:
		return nil, errors.New("payment service: draft and order repositories are required")
	case deps.Gateway == nil:
		return nil, errors.New("payment service: payment gateway is required")
	case deps.Creator == nil:
		return nil, errors.New("payment service: order creator is required")
	}
	return &PaymentService{
		drafts:  deps.Drafts,
		orders:  deps.Orders,
		gateway: deps.Gateway,
		creator: deps.Creator,
		now:     utcClock(deps.Clock),
		logger:  loggerOrNop(deps.Logger),
	}, nil
}

// VerifyPaymentCommand is what the client sends after the gateway checkout completes.
type VerifyPaymentCommand struct {
	BuyerID        string
	DraftID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// PaymentOutcome reports the order and whether this call created it.
type PaymentOutcome struct {
	Order   domain.Order
	Created bool
}

// VerifyPayment checks the gateway signature and creates the order once.
func (s *PaymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (PaymentOutcome, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if gatewayOrderID == "" || paymentID == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: gateway order and payment id are required", ErrPaymentInvalidInput)
	}

	if order, ok, err := s.existing(ctx, gatewayOrderID); err != nil {
		return PaymentOutcome{}, err
	} else if ok {
		if cmd.BuyerID != "" && order.BuyerID != cmd.BuyerID {
			return PaymentOutcome{}, ErrOrderForbidden
		}
		return PaymentOutcome{Order: order}, nil
	}

	draft, err := s.draftFor(ctx, cmd.DraftID, gatewayOrderID)
	if err != nil {
		if order, ok, findErr := s.existing(ctx, gatewayOrderID); findErr == nil && ok {
			return PaymentOutcome{Order: order}, nil
		}
		return PaymentOutcome{}, err
	}
	if cmd.BuyerID != "" && draft.BuyerID != cmd.BuyerID {
		return PaymentOutcome{}, ErrDraftNotFound
	}
	ctx = requestctx.WithOrderScope(ctx, requestctx.OrderScope{
		Actor:          domain.Actor{Kind: domain.ActorBuyer, ID: draft.BuyerID},
		DraftID:        draft.ID,
		GatewayOrderID: gatewayOrderID,
	})

	valid, err := s.gateway.VerifyPayment(ctx, draft.Provider, payments.VerifyRequest{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Signature:      cmd.Signature,
	})
	if err != nil {
		return PaymentOutcome{}, gatewayFailure(err)
	}
	if !valid {
		s.logger(ctx, "payment.signature_invalid", map[string]any{
			"draft_id":         draft.ID,
			"gateway_order_id": gatewayOrderID,
			"payment_id":       paymentID,
		})
		return PaymentOutcome{}, ErrPaymentSignatureInvalid
	}

	return s.settle(ctx, CreateFromDraftCommand{
		DraftID:        draft.ID,
		GatewayOrderID: gatewayOrderID,
		PaymentID:      paymentID,
		Trigger:        TriggerClientVerify,
	})
}

// WebhookResult describes how a webhook delivery was handled.
type WebhookResult struct {
	EventID string
	Type    string
	Ignored bool
	// Refunded is set when a captured payment arrived after its checkout was gone and was returned.
	Refunded bool
	Outcome  PaymentOutcome
}

// HandleWebhook authenticates a gateway callback and, for captured payments, creates the order
// through the same guard as VerifyPayment.
func (s *PaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookResult, error) {
	event, err := s.gateway.ParseWebhook(ctx, provider, payload, headers)
	if err != nil {
		if errors.Is(err, payments.ErrWebhookSignature) {
			s.logger(ctx, "payment.webhook_signature_invalid", map[string]any{"provider": provider})
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentSignatureInvalid, err)
		}
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	result := WebhookResult{EventID: event.EventID, Type: event.Type}
	ctx = requestctx.WithOrderScope(ctx, requestctx.OrderScope{
		Actor:          domain.Actor{Kind: domain.ActorSystem, ID: "webhook:" + provider},
		DraftID:        event.Reference,
		GatewayOrderID: event.GatewayOrderID,
	})
	if !event.Captured || event.GatewayOrderID == "" {
		result.Ignored = true
		return result, nil
	}

	if order, ok, err := s.existing(ctx, event.GatewayOrderID); err != nil {
		return result, err
	} else if ok {
		result.Outcome = PaymentOutcome{Order: order}
		return result, nil
	}

	outcome, err := s.settle(ctx, CreateFromDraftCommand{
		GatewayOrderID: event.GatewayOrderID,
		PaymentID:      event.PaymentID,
		AmountCaptured: event.Amount,
		Trigger:        TriggerWebhook,
	})
	switch {
	case errors.Is(err, ErrDraftExpired):
		// The expiry sweep owns the draft and refunds the payment recorded on it.
		s.logger(ctx, "payment.webhook_draft_expired", map[string]any{
			"gateway_order_id": event.GatewayOrderID,
			"payment_id":       event.PaymentID,
			"event_id":         event.EventID,
		})
		result.Ignored = true
		return result, nil
	case errors.Is(err, ErrDraftNotFound):
		if event.Reference == "" || event.PaymentID == "" {
			// Not opened by this service; acknowledging stops gateway redelivery.
			s.logger(ctx, "payment.webhook_unknown_order", map[string]any{
				"gateway_order_id": event.GatewayOrderID,
				"event_id":         event.EventID,
			})
			result.Ignored = true
			return result, nil
		}
		// The draft expired before the payment landed. A refund failure is returned so the
		// gateway redelivers the event.
		if err := refundOrphanedPayment(ctx, s.gateway, s.logger, orphanedPayment{
			Provider:       provider,
			GatewayOrderID: event.GatewayOrderID,
			PaymentID:      event.PaymentID,
			Amount:         event.Amount,
			DraftID:        event.Reference,
			Reason:         "payment captured after checkout expired",
		}); err != nil {
			return result, err
		}
		result.Refunded = true
		return result, nil
	}
	if err != nil {
		s.logger(ctx, "payment.webhook_settle_failed", map[string]any{
			"gateway_order_id": event.GatewayOrderID,
			"event_id":         event.EventID,
			"error":            err.Error(),
		})
		return result, err
	}
	result.Outcome = outcome
	return result, nil
}

// settle runs the creation transaction; losing the unique-constraint race re-reads the winner.
func (s *PaymentService) settle(ctx context.Context, cmd CreateFromDraftCommand) (PaymentOutcome, error) {
	order, err := s.creator.CreateFromDraft(ctx, cmd)
	if err == nil {
		return PaymentOutcome{Order: order, Created: true}, nil
	}
	if !errors.Is(err, ErrOrderAlreadyExists) && !errors.Is(err, ErrDraftConsumed) {
		return PaymentOutcome{}, err
	}
	stored, ok, findErr := s.existing(ctx, cmd.GatewayOrderID)
	if findErr != nil {
		return PaymentOutcome{}, findErr
	}
	if !ok {
		return PaymentOutcome{}, err
	}
	s.logger(ctx, "payment.duplicate_settlement", map[string]any{
		"order_id":         stored.ID,
		"gateway_order_id": cmd.GatewayOrderID,
		"trigger":          string(cmd.Trigger),
	})
	return PaymentOutcome{Order: stored}, nil
}

func (s *PaymentService) existing(ctx context.Context, gatewayOrderID string) (domain.Order, bool, error) {
	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	switch {
	case err == nil:
		return order, true, nil
	case repositories.IsNotFound(err):
		return domain.Order{}, false, nil
	default:
		return domain.Order{}, false, mapRepositoryError(err, nil, nil)
	}
}

func (s *PaymentService) draftFor(ctx context.Context, draftID, gatewayOrderID string) (domain.DraftOrder, error) {
	var (
		draft domain.DraftOrder
		err   error
	)
	if id := strings.TrimSpace(draftID); id != "" {
		draft, err = s.drafts.FindByID(ctx, id)
	} else {
		draft, err = s.drafts.FindByGatewayOrderID(ctx, gatewayOrderID)
	}
	if err != nil {
		return domain.DraftOrder{}, mapRepositoryError(err, ErrDraftNotFound, nil)
	}
	if draft.GatewayOrderID != gatewayOrderID {
		return domain.DraftOrder{}, fmt.Errorf("%w: gateway order does not match checkout", ErrPaymentInvalidInput)
	}
	return draft, nil
}

// orphanedPayment is a captured payment that can no longer become an order.
type orphanedPayment struct {
	Provider       string
	GatewayOrderID string
	PaymentID      string
	DraftID        string
	Amount         int64
	Reason         string
}

func orphanRefundKey(gatewayOrderID string) string {
	return "refund:" + gatewayOrderID
}

// refundOrphanedPayment returns a captured payment under one idempotency key per gateway order, so
// the expiry sweep and a late webhook settle on the same refund.
func refundOrphanedPayment(ctx context.Context, gateway Gateway, logger Logger, p orphanedPayment) error {
	fields := map[string]any{
		"draft_id":         p.DraftID,
		"gateway_order_id": p.GatewayOrderID,
		"payment_id":       p.PaymentID,
		"amount":           p.Amount,
	}
	result, err := gateway.Refund(ctx, p.Provider, payments.RefundRequest{
		PaymentID:      p.PaymentID,
		Amount:         p.Amount,
		IdempotencyKey: orphanRefundKey(p.GatewayOrderID),
		Reason:         p.Reason,
	})
	if err != nil {
		fields["error"] = err.Error()
		logger(ctx, "payment.orphan_refund_failed", fields)
		return fmt.Errorf("refund orphaned payment: %w", gatewayFailure(err))
	}
	fields["refund_id"] = result.ID
	logger(ctx, "payment.orphan_refunded", fields)
	return nil
}

func gatewayFailure(err error) error {
	if payments.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if errors.Is(err, payments.ErrUnsupportedProvider) {
		return fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	return err
}
