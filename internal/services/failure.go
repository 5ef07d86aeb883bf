package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

var (
	// ErrServiceUnavailable wraps transient repository failures.
	ErrServiceUnavailable = errors.New("service: temporarily unavailable")

	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	ErrPricingOutOfRange   = errors.New("pricing: delivery distance out of range")

	ErrStockInvalidInput = errors.New("stock: invalid input")

	ErrCheckoutInvalidInput      = errors.New("checkout: invalid input")
	ErrCheckoutCartEmpty         = errors.New("checkout: cart is empty")
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	ErrCheckoutPriceDrift        = errors.New("checkout: price changed")
	ErrCheckoutItemUnavailable   = errors.New("checkout: item unavailable")
	ErrCheckoutMultipleSellers   = errors.New("checkout: cart spans multiple sellers")
	ErrDraftNotFound             = errors.New("checkout: draft not found")
	ErrDraftExpired              = errors.New("checkout: draft expired")

	ErrPaymentInvalidInput     = errors.New("payment: invalid input")
	ErrPaymentSignatureInvalid = errors.New("payment: signature invalid")
	ErrPaymentAmountMismatch   = errors.New("payment: captured amount does not match draft")
	ErrGatewayUnavailable      = errors.New("payment: gateway unavailable")

	ErrDraftConsumed      = errors.New("order creation: draft already consumed")
	ErrOrderAlreadyExists = errors.New("order creation: order already exists for gateway order")

	ErrOrderInvalidInput    = errors.New("order: invalid input")
	ErrOrderNotFound        = errors.New("order: not found")
	ErrOrderForbidden       = errors.New("order: actor does not own order")
	ErrOrderInvalidState    = errors.New("order: invalid status transition")
	ErrOrderConflict        = errors.New("order: conflict")
	ErrRevisionLimitReached = errors.New("order: revision limit reached")
	ErrPreviewNotFound      = errors.New("order: preview not found")
	ErrPreviewNotPending    = errors.New("order: preview not pending")

	ErrCartInvalidInput = errors.New("cart: invalid input")
	ErrCartConflict     = errors.New("cart: conflict")
)

// FailureKind groups errors by how a caller should react to them.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureContention FailureKind = "contention"
	FailureExternal   FailureKind = "external"
	FailureIntegrity  FailureKind = "integrity"
	FailureFatal      FailureKind = "fatal"
)

// NextAction is the safe follow-up suggested to the client.
type NextAction string

const (
	NextActionRetry          NextAction = "retry"
	NextActionRefreshCart    NextAction = "refresh_cart"
	NextActionContactSupport NextAction = "contact_support"
	NextActionNone           NextAction = "none"
)

// Failure is the client-safe description of an error.
type Failure struct {
	Kind       FailureKind
	Code       string
	Reason     string
	NextAction NextAction
}

type failureRule struct {
	target  error
	failure Failure
}

var failureRules = []failureRule{
	{ErrPricingInvalidInput, Failure{FailureValidation, "invalid_cart", "The cart contains invalid items or quantities.", NextActionRefreshCart}},
	{ErrPricingOutOfRange, Failure{FailureValidation, "out_of_delivery_range", "This address is outside the seller's delivery range.", NextActionNone}},
	{ErrStockInvalidInput, Failure{FailureValidation, "invalid_stock_request", "The stock request is invalid.", NextActionNone}},
	{ErrCheckoutInvalidInput, Failure{FailureValidation, "invalid_checkout", "The checkout request is incomplete.", NextActionNone}},
	{ErrCheckoutCartEmpty, Failure{FailureValidation, "cart_empty", "Your cart is empty.", NextActionRefreshCart}},
	{ErrCheckoutInsufficientStock, Failure{FailureContention, "insufficient_stock", "Some items are no longer available in the requested quantity.", NextActionRefreshCart}},
	{ErrCheckoutPriceDrift, Failure{FailureIntegrity, "price_changed", "Prices changed since you loaded your cart.", NextActionRefreshCart}},
	{ErrCheckoutItemUnavailable, Failure{FailureValidation, "item_unavailable", "An item in your cart is no longer sold.", NextActionRefreshCart}},
	{ErrCheckoutMultipleSellers, Failure{FailureValidation, "multiple_sellers", "A checkout can only contain items from one shop.", NextActionRefreshCart}},
	{ErrDraftNotFound, Failure{FailureValidation, "checkout_not_found", "This checkout session no longer exists.", NextActionRefreshCart}},
	{ErrDraftExpired, Failure{FailureValidation, "checkout_expired", "This checkout session expired.", NextActionRefreshCart}},
	{ErrPaymentInvalidInput, Failure{FailureValidation, "invalid_payment", "The payment confirmation is incomplete.", NextActionNone}},
	{ErrPaymentSignatureInvalid, Failure{FailureExternal, "payment_signature_invalid", "The payment could not be verified.", NextActionContactSupport}},
	{ErrPaymentAmountMismatch, Failure{FailureIntegrity, "payment_amount_mismatch", "The payment amount does not match the order.", NextActionContactSupport}},
	{ErrGatewayUnavailable, Failure{FailureExternal, "gateway_unavailable", "The payment service is not responding.", NextActionRetry}},
	{ErrDraftConsumed, Failure{FailureContention, "checkout_consumed", "This checkout was already completed.", NextActionNone}},
	{ErrOrderAlreadyExists, Failure{FailureContention, "order_exists", "An order already exists for this payment.", NextActionNone}},
	{ErrOrderInvalidInput, Failure{FailureValidation, "invalid_order_request", "The request is invalid.", NextActionNone}},
	{ErrOrderNotFound, Failure{FailureValidation, "order_not_found", "The order was not found.", NextActionNone}},
	{ErrOrderForbidden, Failure{FailureFatal, "order_forbidden", "You cannot change this order.", NextActionNone}},
	{ErrOrderInvalidState, Failure{FailureValidation, "invalid_transition", "The order cannot move to that state now.", NextActionNone}},
	{ErrOrderConflict, Failure{FailureContention, "order_conflict", "The order was changed by someone else.", NextActionRetry}},
	{ErrRevisionLimitReached, Failure{FailureValidation, "revision_limit_reached", "No revisions remain for this order.", NextActionNone}},
	{ErrPreviewNotFound, Failure{FailureValidation, "preview_not_found", "The preview was not found.", NextActionNone}},
	{ErrPreviewNotPending, Failure{FailureValidation, "preview_not_pending", "The preview was already reviewed.", NextActionNone}},
	{ErrCartInvalidInput, Failure{FailureValidation, "invalid_cart_mutation", "The cart change is invalid.", NextActionRefreshCart}},
	{ErrCartConflict, Failure{FailureContention, "cart_conflict", "Your cart changed on another device.", NextActionRefreshCart}},
	{ErrServiceUnavailable, Failure{FailureExternal, "unavailable", "The service is temporarily unavailable.", NextActionRetry}},
}

// Classify maps any error to a Failure. Unknown errors are fatal with a generic reason so that
// internal details never reach clients.
func Classify(err error) Failure {
	if err == nil {
		return Failure{}
	}
	var stockErr *repositories.InsufficientStockError
	if errors.As(err, &stockErr) {
		return Failure{
			Kind:       FailureContention,
			Code:       "insufficient_stock",
			Reason:     insufficientStockReason(stockErr),
			NextAction: NextActionRefreshCart,
		}
	}
	for _, rule := range failureRules {
		if errors.Is(err, rule.target) {
			return rule.failure
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Failure{FailureExternal, "timeout", "The request timed out.", NextActionRetry}
	case payments.IsTransient(err), repositories.IsUnavailable(err):
		return Failure{FailureExternal, "unavailable", "The service is temporarily unavailable.", NextActionRetry}
	case repositories.IsConflict(err):
		return Failure{FailureContention, "conflict", "The request conflicted with another change.", NextActionRetry}
	}
	return Failure{FailureFatal, "internal", "Something went wrong.", NextActionContactSupport}
}

func insufficientStockReason(err *repositories.InsufficientStockError) string {
	available := err.Available
	if available < 0 {
		available = 0
	}
	if available == 0 {
		return fmt.Sprintf("Item %s is out of stock.", err.Key.ItemID)
	}
	return fmt.Sprintf("Only %d of item %s left; reduce the quantity by %d.", available, err.Key.ItemID, err.Short())
}

// mapRepositoryError converts repository categories into the service's sentinels.
func mapRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict() && conflict != nil:
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
	}
	return err
}
