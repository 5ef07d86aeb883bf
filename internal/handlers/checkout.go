package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutAPI is the checkout surface the handlers depend on.
type CheckoutAPI interface {
	StartCheckout(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error)
	GetDraft(ctx context.Context, buyerID, draftID string) (domain.DraftOrder, error)
}

// CheckoutHandlers exposes checkout related endpoints for authenticated buyers.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout CheckoutAPI
	guard    []func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication. The guard
// middlewares (typically idempotency) wrap the session-creating endpoint only.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout CheckoutAPI, guard ...func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{authn: authn, checkout: checkout, guard: guard}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.With(compact(h.guard)...).Post("/", h.startCheckout)
	r.Get("/drafts/{draftId}", h.getDraft)
}

type checkoutRequest struct {
	AddressID   string `json:"addressId"`
	CouponCode  string `json:"couponCode"`
	UseWallet   bool   `json:"useWallet"`
	ClientTotal int64  `json:"clientTotal"`
	Provider    string `json:"provider"`
}

func (h *CheckoutHandlers) startCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(ctx, w)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, false, &req) {
		return
	}
	if strings.TrimSpace(req.AddressID) == "" {
		writeBadRequest(ctx, w, "addressId is required")
		return
	}
	if req.ClientTotal < 0 {
		writeBadRequest(ctx, w, "clientTotal must not be negative")
		return
	}

	session, err := h.checkout.StartCheckout(ctx, services.StartCheckoutCommand{
		BuyerID:     identity.UID,
		AddressID:   strings.TrimSpace(req.AddressID),
		CouponCode:  strings.TrimSpace(req.CouponCode),
		UseWallet:   req.UseWallet,
		ClientTotal: req.ClientTotal,
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCheckoutSession(session))
}

func (h *CheckoutHandlers) getDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(ctx, w)
	if !ok {
		return
	}
	draftID := strings.TrimSpace(chi.URLParam(r, "draftId"))
	if draftID == "" {
		writeBadRequest(ctx, w, "draft id is required")
		return
	}
	draft, err := h.checkout.GetDraft(ctx, identity.UID, draftID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildDraft(draft))
}

func (h *CheckoutHandlers) identity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return nil, false
	}
	return identity, true
}

func compact(mws []func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			out = append(out, mw)
		}
	}
	return out
}
