package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/retry"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeConfig configures the StripeProvider.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Retry         *retry.Policy
	Logger        Logger
	clients       *stripeClients
}

// StripeProvider uses a PaymentIntent as the gateway order.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	retry         retry.Policy
	logger        Logger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents, refunds: sc.Refunds}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}
	policy := retry.Default()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		retry:         policy.WithRetryable(IsTransient),
		logger:        logger,
	}, nil
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return ProviderStripe }

// OpenOrder creates a PaymentIntent keyed by the receipt so retries never open a second intent.
func (p *StripeProvider) OpenOrder(ctx context.Context, req OpenOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("stripe: amount must be positive")
	}
	var intent *stripe.PaymentIntent
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.Amount),
			Currency: stripe.String(strings.ToLower(req.Currency)),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		params.Context = ctx
		if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
			params.SetIdempotencyKey("open:" + receipt)
		}
		p.applyAccount(&params.Params)
		for k, v := range LimitMetadata(req.Metadata) {
			params.AddMetadata(k, v)
		}
		created, err := p.api.intents.New(params)
		if err != nil {
			return stripeGatewayError("open order", err)
		}
		intent = created
		return nil
	})
	if err != nil {
		return GatewayOrder{}, err
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"gatewayOrderId": intent.ID,
		"amount":         intent.Amount,
	})
	return GatewayOrder{
		ID:           intent.ID,
		Provider:     ProviderStripe,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
	}, nil
}

// VerifyPayment retrieves the intent and accepts it only when it succeeded and the client's payment
// id names the intent or its latest charge. Stripe has no client-side signature.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error) {
	intentID := strings.TrimSpace(req.GatewayOrderID)
	if intentID == "" {
		return false, nil
	}
	var intent *stripe.PaymentIntent
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		p.applyAccount(&params.Params)
		got, err := p.api.intents.Get(intentID, params)
		if err != nil {
			return stripeGatewayError("verify payment", err)
		}
		intent = got
		return nil
	})
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return false, nil
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" || paymentID == intent.ID {
		return true, nil
	}
	return intent.LatestCharge != nil && intent.LatestCharge.ID == paymentID, nil
}

// Refund refunds a PaymentIntent. The idempotency key makes retries safe.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundResult{}, errors.New("stripe: payment id is required")
	}
	var refund *stripe.Refund
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.RefundParams{}
		if strings.HasPrefix(paymentID, "ch_") {
			params.Charge = stripe.String(paymentID)
		} else {
			params.PaymentIntent = stripe.String(paymentID)
		}
		params.Context = ctx
		if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
			params.SetIdempotencyKey(key)
		}
		p.applyAccount(&params.Params)
		if req.Amount > 0 {
			params.Amount = stripe.Int64(req.Amount)
		}
		params.Reason = stripe.String(string(stripe.RefundReasonRequestedByCustomer))
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			params.AddMetadata("reason", truncateRunes(reason, maxMetadataValue))
		}
		created, err := p.api.refunds.New(params)
		if err != nil {
			return stripeGatewayError("refund", err)
		}
		refund = created
		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentId": paymentID,
		"refundId":  refund.ID,
		"status":    refund.Status,
	})
	return RefundResult{ID: refund.ID, Status: string(refund.Status), Amount: refund.Amount}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes payment_intent events.
func (p *StripeProvider) ParseWebhook(_ context.Context, payload []byte, headers http.Header) (WebhookEvent, error) {
	if p.webhookSecret == "" {
		return WebhookEvent{}, errors.New("stripe: webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	out := WebhookEvent{Provider: ProviderStripe, EventID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") || event.Data == nil {
		return out, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out.GatewayOrderID = intent.ID
	out.PaymentID = intent.ID
	out.Amount = intent.Amount
	out.Currency = strings.ToUpper(string(intent.Currency))
	out.Captured = event.Type == "payment_intent.succeeded" && intent.Status == stripe.PaymentIntentStatusSucceeded
	out.Reference = strings.TrimSpace(intent.Metadata[MetadataDraftID])
	return out, nil
}

func (p *StripeProvider) applyAccount(params *stripe.Params) {
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

func stripeGatewayError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &GatewayError{
			Provider:  ProviderStripe,
			Op:        op,
			Status:    stripeErr.HTTPStatusCode,
			Temporary: temporaryStatus(stripeErr.HTTPStatusCode) || stripeErr.Type == stripe.ErrorTypeAPI,
			Err:       err,
		}
	}
	return &GatewayError{Provider: ProviderStripe, Op: op, Temporary: true, Err: err}
}
