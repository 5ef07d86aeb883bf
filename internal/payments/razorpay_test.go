package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/retry"
)

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func fastPolicy() *retry.Policy {
	p := retry.Default()
	p.Delay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.MaxDuration = time.Second
	return &p
}

func newTestRazorpay(t *testing.T, server *httptest.Server) *RazorpayProvider {
	t.Helper()
	p, err := NewRazorpayProvider(RazorpayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     "secret",
		WebhookSecret: "whsec",
		BaseURL:       server.URL,
		HTTPClient:    server.Client(),
		Retry:         fastPolicy(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestRazorpayOpenOrderRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		if r.URL.Path != "/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["receipt"] != "draft_1" {
			t.Errorf("expected draft receipt, got %v", body["receipt"])
		}
		notes, _ := body["notes"].(map[string]any)
		if notes["draftId"] != "draft_1" || len(notes) != 1 {
			t.Errorf("expected only draftId note, got %v", notes)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order_9", "amount": 50000, "currency": "INR", "receipt": "draft_1"})
	}))
	defer server.Close()

	p := newTestRazorpay(t, server)
	order, err := p.OpenOrder(context.Background(), OpenOrderRequest{
		Amount:   50000,
		Currency: "inr",
		Receipt:  "draft_1",
		Metadata: map[string]string{"draftId": "draft_1"},
	})
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	if order.ID != "order_9" || order.PublicKey != "rzp_test_key" || order.Currency != "INR" {
		t.Fatalf("unexpected order %#v", order)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", calls)
	}
}

func TestRazorpayClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	}))
	defer server.Close()

	p := newTestRazorpay(t, server)
	_, err := p.Refund(context.Background(), RefundRequest{PaymentID: "pay_1", IdempotencyKey: "refund:ord_1"})
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Status != http.StatusBadRequest || IsTransient(err) {
		t.Fatalf("expected non-transient gateway error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRazorpayVerifyPaymentSignature(t *testing.T) {
	p, err := NewRazorpayProvider(RazorpayConfig{KeyID: "k", KeySecret: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	good := sign("secret", "order_1|pay_1")
	ok, err := p.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: good})
	if err != nil || !ok {
		t.Fatalf("expected valid signature, got %v %v", ok, err)
	}
	ok, _ = p.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "order_1", PaymentID: "pay_2", Signature: good})
	if ok {
		t.Fatalf("signature for another payment must fail")
	}
	ok, _ = p.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "order_1", PaymentID: "pay_1", Signature: "zz"})
	if ok {
		t.Fatalf("malformed signature must fail")
	}
}

func TestRazorpayParseWebhook(t *testing.T) {
	p, _ := NewRazorpayProvider(RazorpayConfig{KeyID: "k", KeySecret: "s", WebhookSecret: "whsec"})
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_7","order_id":"order_7","amount":50000,"currency":"inr","status":"captured"}}}}`)

	headers := http.Header{}
	headers.Set(razorpaySignatureHeader, sign("whsec", string(body)))
	headers.Set(razorpayEventIDHeader, "evt_1")
	event, err := p.ParseWebhook(context.Background(), body, headers)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if !event.Captured || event.GatewayOrderID != "order_7" || event.PaymentID != "pay_7" || event.EventID != "evt_1" {
		t.Fatalf("unexpected event %#v", event)
	}

	headers.Set(razorpaySignatureHeader, sign("other", string(body)))
	if _, err := p.ParseWebhook(context.Background(), body, headers); !errors.Is(err, ErrWebhookSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestRazorpayRefundReusesExistingReceipt(t *testing.T) {
	var (
		posts   atomic.Int32
		created []razorpayRefund
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/payments/pay_1/refunds":
			_ = json.NewEncoder(w).Encode(map[string]any{"items": created})
		case r.Method == http.MethodPost && r.URL.Path == "/payments/pay_1/refund":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			receipt, _ := body["receipt"].(string)
			created = append(created, razorpayRefund{ID: "rfnd_1", Amount: 50000, Status: "processed", Receipt: receipt})
			// The refund is stored but the response is lost.
			if posts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(created[len(created)-1])
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()
	p := newTestRazorpay(t, server)

	req := RefundRequest{PaymentID: "pay_1", Amount: 50000, IdempotencyKey: "refund:order_1"}
	result, err := p.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if result.ID != "rfnd_1" {
		t.Fatalf("unexpected refund %#v", result)
	}
	if _, err := p.Refund(context.Background(), req); err != nil {
		t.Fatalf("repeat refund: %v", err)
	}
	if got := posts.Load(); got != 1 {
		t.Fatalf("expected one refund request, got %d", got)
	}
}

func TestRazorpayParseWebhookReadsDraftReference(t *testing.T) {
	p, _ := NewRazorpayProvider(RazorpayConfig{KeyID: "k", KeySecret: "s", WebhookSecret: "whsec"})
	body := []byte(`{"event":"order.paid","payload":{"payment":{"entity":{"id":"pay_8","order_id":"order_8","amount":50000,"currency":"inr","status":"captured"}},"order":{"entity":{"id":"order_8","receipt":"drf_8","notes":[]}}}}`)

	headers := http.Header{}
	headers.Set(razorpaySignatureHeader, sign("whsec", string(body)))
	event, err := p.ParseWebhook(context.Background(), body, headers)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if !event.Captured || event.Reference != "drf_8" {
		t.Fatalf("unexpected event %#v", event)
	}
}
