package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

// CartAPI is the cart surface the handlers depend on.
type CartAPI interface {
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)
	ApplyMutation(ctx context.Context, mutation domain.CartMutation) (services.MutationResult, error)
}

// CartHandlers exposes the authenticated buyer's cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts CartAPI
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts CartAPI) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/mutations", h.applyMutation)
}

type cartMutationRequest struct {
	ClientID   string          `json:"clientId"`
	MutationID string          `json:"mutationId"`
	Sequence   int64           `json:"sequence"`
	Op         string          `json:"op"`
	Line       cartLinePayload `json:"line"`
}

type cartMutationResponse struct {
	Cart    cartPayload `json:"cart"`
	Applied bool        `json:"applied"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(ctx, w)
	if !ok {
		return
	}
	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, buildCart(cart))
}

func (h *CartHandlers) applyMutation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.identity(ctx, w)
	if !ok {
		return
	}

	var req cartMutationRequest
	if !decodeJSONBody(w, r, maxCartBodySize, false, &req) {
		return
	}
	op := domain.CartMutationOp(strings.ToLower(strings.TrimSpace(req.Op)))
	switch op {
	case domain.CartOpAdd, domain.CartOpRemove, domain.CartOpSetQuantity, domain.CartOpClear:
	default:
		writeBadRequest(ctx, w, "op must be one of add, remove, set_quantity, clear")
		return
	}

	result, err := h.carts.ApplyMutation(ctx, domain.CartMutation{
		BuyerID:    identity.UID,
		ClientID:   strings.TrimSpace(req.ClientID),
		MutationID: strings.TrimSpace(req.MutationID),
		Sequence:   req.Sequence,
		Op:         op,
		Line:       req.Line.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartHeaders(w, result.Cart)
	writeJSONResponse(w, http.StatusOK, cartMutationResponse{Cart: buildCart(result.Cart), Applied: result.Applied})
}

func (h *CartHandlers) identity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return nil, false
	}
	return identity, true
}

func setCartHeaders(w http.ResponseWriter, cart domain.Cart) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(cart.Version, 10)))
}
