package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   FailureKind
		code   string
		action NextAction
	}{
		{"price drift", fmt.Errorf("%w: server 100, client 10", ErrCheckoutPriceDrift), FailureIntegrity, "price_changed", NextActionRefreshCart},
		{"gateway", fmt.Errorf("%w: 503", ErrGatewayUnavailable), FailureExternal, "gateway_unavailable", NextActionRetry},
		{"signature", ErrPaymentSignatureInvalid, FailureExternal, "payment_signature_invalid", NextActionContactSupport},
		{"duplicate", ErrOrderAlreadyExists, FailureContention, "order_exists", NextActionNone},
		{"transition", fmt.Errorf("%w: pack from PLACED", ErrOrderInvalidState), FailureValidation, "invalid_transition", NextActionNone},
		{"deadline", context.DeadlineExceeded, FailureExternal, "timeout", NextActionRetry},
		{"transient gateway", &payments.GatewayError{Provider: "razorpay", Temporary: true, Err: errors.New("reset")}, FailureExternal, "unavailable", NextActionRetry},
		{"unknown", errors.New("boom"), FailureFatal, "internal", NextActionContactSupport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != tc.kind || got.Code != tc.code || got.NextAction != tc.action {
				t.Fatalf("Classify(%v) = %+v", tc.err, got)
			}
		})
	}
}

func TestClassifyInsufficientStockNamesTheShortfall(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, &repositories.InsufficientStockError{
		Key:       domain.StockKey{ItemID: itemMug},
		Requested: 3,
		Available: 1,
	})
	got := Classify(err)
	if got.Kind != FailureContention || got.Code != "insufficient_stock" {
		t.Fatalf("unexpected failure %+v", got)
	}
	if !strings.Contains(got.Reason, "Only 1") || !strings.Contains(got.Reason, "by 2") {
		t.Fatalf("expected shortfall in reason, got %q", got.Reason)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != (Failure{}) {
		t.Fatalf("expected zero failure, got %+v", got)
	}
}
