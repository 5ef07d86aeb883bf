package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

type stubPaymentService struct {
	verifyFunc  func(ctx context.Context, cmd services.VerifyPaymentCommand) (services.PaymentOutcome, error)
	webhookFunc func(ctx context.Context, provider string, payload []byte, headers http.Header) (services.WebhookResult, error)
}

func (s *stubPaymentService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.PaymentOutcome, error) {
	return s.verifyFunc(ctx, cmd)
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (services.WebhookResult, error) {
	return s.webhookFunc(ctx, provider, payload, headers)
}

func TestPaymentHandlersVerifyCreatesOrder(t *testing.T) {
	var captured services.VerifyPaymentCommand
	service := &stubPaymentService{
		verifyFunc: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.PaymentOutcome, error) {
			captured = cmd
			return services.PaymentOutcome{
				Order:   domain.Order{ID: "ord_1", BuyerID: cmd.BuyerID, Status: domain.OrderStatusPlaced, PaymentStatus: domain.PaymentStatusCaptured},
				Created: true,
			}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(nil, service).Routes)

	body := `{"draftId":"drf_1","gatewayOrderId":"order_1","paymentId":"pay_1","signature":"abc"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(body)), "buyer-1"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || captured.Signature != "abc" || captured.DraftID != "drf_1" {
		t.Fatalf("unexpected command %#v", captured)
	}
	var resp paymentOutcomePayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Created || resp.Order.ID != "ord_1" || resp.Order.Status != "PLACED" {
		t.Fatalf("unexpected outcome %#v", resp)
	}
}

func TestPaymentHandlersVerifyReplayReturnsOK(t *testing.T) {
	service := &stubPaymentService{
		verifyFunc: func(context.Context, services.VerifyPaymentCommand) (services.PaymentOutcome, error) {
			return services.PaymentOutcome{Order: domain.Order{ID: "ord_1"}}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(nil, service).Routes)

	body := `{"gatewayOrderId":"order_1","paymentId":"pay_1","signature":"abc"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(body)), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestPaymentHandlersVerifyBadSignature(t *testing.T) {
	service := &stubPaymentService{
		verifyFunc: func(context.Context, services.VerifyPaymentCommand) (services.PaymentOutcome, error) {
			return services.PaymentOutcome{}, services.ErrPaymentSignatureInvalid
		},
	}
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(nil, service).Routes)

	body := `{"gatewayOrderId":"order_1","paymentId":"pay_1","signature":"forged"}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(body)), "buyer-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"next_action":"contact_support"`) {
		t.Fatalf("expected contact_support hint, got %s", rr.Body.String())
	}
}

func TestPaymentHandlersVerifyRequiresIDs(t *testing.T) {
	service := &stubPaymentService{}
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(nil, service).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(`{"paymentId":"pay_1"}`)), "buyer-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersForwardRawBody(t *testing.T) {
	payload := `{"event":"payment.captured","payload":{}}`
	service := &stubPaymentService{
		webhookFunc: func(_ context.Context, provider string, body []byte, headers http.Header) (services.WebhookResult, error) {
			if provider != "razorpay" {
				t.Fatalf("unexpected provider %q", provider)
			}
			if string(body) != payload {
				t.Fatalf("body must be forwarded unchanged, got %q", body)
			}
			if headers.Get("X-Razorpay-Signature") != "sig" {
				t.Fatalf("expected signature header forwarded")
			}
			return services.WebhookResult{
				EventID: "evt_1",
				Type:    "payment.captured",
				Outcome: services.PaymentOutcome{Order: domain.Order{ID: "ord_1"}, Created: true},
			}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/Razorpay", strings.NewReader(payload))
	req.Header.Set("X-Razorpay-Signature", "sig")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ack webhookAckPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.OrderID != "ord_1" || ack.Ignored {
		t.Fatalf("unexpected ack %#v", ack)
	}
}

func TestWebhookHandlersIgnoredEvent(t *testing.T) {
	service := &stubPaymentService{
		webhookFunc: func(context.Context, string, []byte, http.Header) (services.WebhookResult, error) {
			return services.WebhookResult{EventID: "evt_2", Type: "payment.failed", Ignored: true}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/razorpay", strings.NewReader(`{}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ignored":true`) {
		t.Fatalf("expected ignored ack, got %s", rr.Body.String())
	}
}

func TestWebhookHandlersRejectsBadSignature(t *testing.T) {
	service := &stubPaymentService{
		webhookFunc: func(context.Context, string, []byte, http.Header) (services.WebhookResult, error) {
			return services.WebhookResult{}, services.ErrPaymentSignatureInvalid
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", strings.NewReader(`{}`)))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersRefundedLatePayment(t *testing.T) {
	service := &stubPaymentService{
		webhookFunc: func(context.Context, string, []byte, http.Header) (services.WebhookResult, error) {
			return services.WebhookResult{EventID: "evt_3", Type: "payment.captured", Refunded: true}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/razorpay", strings.NewReader(`{}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var ack webhookAckPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if !ack.Refunded || ack.Ignored || ack.OrderID != "" {
		t.Fatalf("unexpected ack %#v", ack)
	}
}
