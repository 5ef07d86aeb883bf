package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/retry"
)

const (
	razorpayDefaultBaseURL   = "https://api.razorpay.com/v1"
	razorpaySignatureHeader  = "X-Razorpay-Signature"
	razorpayEventIDHeader    = "X-Razorpay-Event-Id"
	razorpayMaxResponseBytes = 1 << 20
)

// RazorpayConfig configures the RazorpayProvider.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Retry         *retry.Policy
	Logger        Logger
}

// RazorpayProvider talks to the Razorpay REST API.
type RazorpayProvider struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	timeout       time.Duration
	client        *http.Client
	retry         retry.Policy
	logger        Logger
}

// NewRazorpayProvider validates credentials and builds the provider.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = razorpayDefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	policy := retry.Default()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &RazorpayProvider{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		timeout:       timeout,
		client:        client,
		retry:         policy.WithRetryable(IsTransient),
		logger:        logger,
	}, nil
}

// Name implements Provider.
func (p *RazorpayProvider) Name() string { return ProviderRazorpay }

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// OpenOrder creates a Razorpay order. The receipt carries the draft id.
func (p *RazorpayProvider) OpenOrder(ctx context.Context, req OpenOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}
	body := map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  truncateRunes(req.Receipt, 40),
	}
	if notes := LimitMetadata(req.Metadata); len(notes) > 0 {
		body["notes"] = notes
	}
	var out razorpayOrder
	if err := p.call(ctx, "open order", http.MethodPost, "/orders", body, &out); err != nil {
		return GatewayOrder{}, err
	}
	p.logger(ctx, "payments.razorpay.order.opened", map[string]any{
		"gatewayOrderId": out.ID,
		"receipt":        out.Receipt,
		"amount":         out.Amount,
	})
	return GatewayOrder{
		ID:        out.ID,
		Provider:  ProviderRazorpay,
		Amount:    out.Amount,
		Currency:  strings.ToUpper(out.Currency),
		PublicKey: p.keyID,
	}, nil
}

// VerifyPayment checks the checkout signature: hex HMAC-SHA256 of "orderId|paymentId" keyed with
// the API secret.
func (p *RazorpayProvider) VerifyPayment(_ context.Context, req VerifyRequest) (bool, error) {
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	if orderID == "" || paymentID == "" || strings.TrimSpace(req.Signature) == "" {
		return false, nil
	}
	return validHMAC(p.keySecret, []byte(orderID+"|"+paymentID), req.Signature), nil
}

type razorpayRefund struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Receipt string `json:"receipt"`
}

// Refund issues a refund against a captured payment. A zero amount refunds in full. The refund
// receipt carries the idempotency key; each attempt first looks for a refund already created with
// that receipt, so a retried or repeated call never refunds twice.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundResult{}, errors.New("razorpay: payment id is required")
	}
	receipt := truncateRunes(strings.TrimSpace(req.IdempotencyKey), 40)
	body := map[string]any{}
	if req.Amount > 0 {
		body["amount"] = req.Amount
	}
	if receipt != "" {
		body["receipt"] = receipt
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		body["notes"] = LimitMetadata(map[string]string{"reason": reason})
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return RefundResult{}, fmt.Errorf("razorpay: encode refund: %w", err)
	}

	var (
		out     razorpayRefund
		reused  bool
		refunds = "/payments/" + paymentID + "/refunds"
	)
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		if receipt != "" {
			existing, found, err := p.findRefund(ctx, refunds, receipt)
			if err != nil {
				return err
			}
			if found {
				out, reused = existing, true
				return nil
			}
		}
		return p.send(ctx, "refund", http.MethodPost, "/payments/"+paymentID+"/refund", encoded, &out)
	})
	if err != nil {
		return RefundResult{}, err
	}
	p.logger(ctx, "payments.razorpay.refund.created", map[string]any{
		"paymentId": paymentID,
		"refundId":  out.ID,
		"status":    out.Status,
		"reused":    reused,
	})
	return RefundResult{ID: out.ID, Status: out.Status, Amount: out.Amount}, nil
}

func (p *RazorpayProvider) findRefund(ctx context.Context, path, receipt string) (razorpayRefund, bool, error) {
	var list struct {
		Items []razorpayRefund `json:"items"`
	}
	if err := p.send(ctx, "list refunds", http.MethodGet, path, nil, &list); err != nil {
		return razorpayRefund{}, false, err
	}
	for _, refund := range list.Items {
		if refund.Receipt == receipt && refund.Status != "failed" {
			return refund, true, nil
		}
	}
	return razorpayRefund{}, false, nil
}

type razorpayEntity struct {
	ID       string        `json:"id"`
	OrderID  string        `json:"order_id"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	Status   string        `json:"status"`
	Receipt  string        `json:"receipt"`
	Notes    razorpayNotes `json:"notes"`
}

// razorpayNotes decodes the notes object; Razorpay sends an empty array when no notes are set.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		*n = nil
		return nil
	}
	var notes map[string]string
	if err := json.Unmarshal(data, &notes); err != nil {
		return err
	}
	*n = notes
	return nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity razorpayEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook verifies the body HMAC against the webhook secret and decodes payment events.
func (p *RazorpayProvider) ParseWebhook(_ context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	if p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("razorpay: webhook secret not configured")
	}
	if !validHMAC(p.webhookSecret, payload, headers.Get(razorpaySignatureHeader)) {
		return WebhookEvent{}, ErrWebhookSignature
	}
	var body razorpayWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return WebhookEvent{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	payment := body.Payload.Payment.Entity
	order := body.Payload.Order.Entity
	return WebhookEvent{
		Provider:       ProviderRazorpay,
		EventID:        strings.TrimSpace(headers.Get(razorpayEventIDHeader)),
		Type:           body.Event,
		GatewayOrderID: payment.OrderID,
		PaymentID:      payment.ID,
		Amount:         payment.Amount,
		Currency:       strings.ToUpper(payment.Currency),
		Captured:       payment.Status == "captured" && (body.Event == "payment.captured" || body.Event == "order.paid"),
		Reference:      firstNonBlank(payment.Notes[MetadataDraftID], order.Notes[MetadataDraftID], order.Receipt),
	}, nil
}

func (p *RazorpayProvider) call(ctx context.Context, op, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("razorpay: encode %s: %w", op, err)
		}
		encoded = data
	}
	return p.retry.Do(ctx, func(ctx context.Context) error {
		return p.send(ctx, op, method, path, encoded, out)
	})
}

// send performs a single request.
func (p *RazorpayProvider) send(ctx context.Context, op, method, path string, encoded []byte, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(callCtx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("razorpay: build %s request: %w", op, err)
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &GatewayError{Provider: ProviderRazorpay, Op: op, Temporary: true, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, razorpayMaxResponseBytes))
	if err != nil {
		return &GatewayError{Provider: ProviderRazorpay, Op: op, Temporary: true, Err: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &GatewayError{
			Provider:  ProviderRazorpay,
			Op:        op,
			Status:    resp.StatusCode,
			Temporary: temporaryStatus(resp.StatusCode),
			Err:       errors.New(razorpayErrorDescription(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("razorpay: decode %s response: %w", op, err)
	}
	return nil
}

func razorpayErrorDescription(raw []byte) string {
	var body struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Description != "" {
		return body.Error.Code + ": " + body.Error.Description
	}
	return "unexpected response"
}

func validHMAC(secret string, message []byte, signature string) bool {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), expected)
}
