package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const (
	maxVerifyBodySize  = 4 * 1024
	maxWebhookBodySize = 256 * 1024
)

// PaymentAPI is the payment surface the handlers depend on.
type PaymentAPI interface {
	VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.PaymentOutcome, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (services.WebhookResult, error)
}

// PaymentHandlers exposes client-side payment verification.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments PaymentAPI
	guard    []func(http.Handler) http.Handler
}

// NewPaymentHandlers constructs the buyer payment endpoints.
func NewPaymentHandlers(authn *auth.Authenticator, payments PaymentAPI, guard ...func(http.Handler) http.Handler) *PaymentHandlers {
	return &PaymentHandlers{authn: authn, payments: payments, guard: guard}
}

// Routes registers /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(compact(h.guard)...).Post("/verify", h.verify)
}

type verifyPaymentRequest struct {
	DraftID        string `json:"draftId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId"`
	Signature      string `json:"signature"`
}

type paymentOutcomePayload struct {
	Order   orderPayload `json:"order"`
	Created bool         `json:"created"`
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return
	}

	var req verifyPaymentRequest
	if !decodeJSONBody(w, r, maxVerifyBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.GatewayOrderID) == "" || strings.TrimSpace(req.PaymentID) == "" {
		writeBadRequest(ctx, w, "gatewayOrderId and paymentId are required")
		return
	}

	outcome, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		BuyerID:        identity.UID,
		DraftID:        strings.TrimSpace(req.DraftID),
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		PaymentID:      strings.TrimSpace(req.PaymentID),
		Signature:      strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, paymentOutcomePayload{Order: buildOrder(outcome.Order), Created: outcome.Created})
}

// WebhookHandlers receives gateway callbacks. Requests are authenticated by the gateway signature
// inside the payment service, not by Firebase.
type WebhookHandlers struct {
	payments PaymentAPI
}

// NewWebhookHandlers constructs the gateway webhook endpoints.
func NewWebhookHandlers(payments PaymentAPI) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentEvent)
}

type webhookAckPayload struct {
	EventID string `json:"eventId,omitempty"`
	Type    string `json:"type,omitempty"`
	Ignored  bool   `json:"ignored"`
	Refunded bool   `json:"refunded,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	body, err := readLimitedBody(r, maxWebhookBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	case err != nil:
		writeBadRequest(ctx, w, err.Error())
		return
	}

	result, err := h.payments.HandleWebhook(ctx, provider, body, r.Header)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	ack := webhookAckPayload{EventID: result.EventID, Type: result.Type, Ignored: result.Ignored, Refunded: result.Refunded}
	if !result.Ignored && !result.Refunded {
		ack.OrderID = result.Outcome.Order.ID
	}
	writeJSONResponse(w, http.StatusOK, ack)
}
