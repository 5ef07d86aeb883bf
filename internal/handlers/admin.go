package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
)

// StockAPI is the inventory surface exposed to staff.
type StockAPI interface {
	SetStock(ctx context.Context, key domain.StockKey, onHand int) (domain.StockLevel, error)
	Available(ctx context.Context, key domain.StockKey, excludingBuyer string) (domain.StockLevel, error)
}

// AdminHandlers exposes staff-only support operations.
type AdminHandlers struct {
	authn  *auth.Authenticator
	orders *OrderHandlers
	stock  StockAPI
}

// NewAdminHandlers constructs the staff endpoints.
func NewAdminHandlers(authn *auth.Authenticator, orders OrderAPI, stock StockAPI) *AdminHandlers {
	return &AdminHandlers{
		authn:  authn,
		orders: NewOrderHandlers(nil, orders),
		stock:  stock,
	}
}

// Routes registers /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff))
	}
	r.Get("/orders", h.orders.list(scopeStaff))
	r.Get("/orders/{orderID}", h.orders.get(scopeStaff))
	r.Get("/orders/{orderID}/history", h.orders.history(scopeStaff))
	r.Post("/orders/{orderID}:cancel", h.orders.cancel(scopeStaff))
	r.Post("/orders/{orderID}:refund", h.refund)
	r.Post("/orders/{orderID}:set-revision-limit", h.orders.setRevisionLimit(scopeStaff))
	r.Get("/stock/{itemID}", h.getStock)
	r.Put("/stock/{itemID}", h.putStock)
}

func (h *AdminHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.orders.actor(ctx, w, scopeStaff)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeBadRequest(ctx, w, "reason is required")
		return
	}
	order, err := h.orders.orders.Refund(ctx, orderID, actor, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrder(order))
}

type stockPayload struct {
	ItemID    string `json:"itemId"`
	VariantID string `json:"variantId,omitempty"`
	OnHand    int    `json:"onHand"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func buildStock(level domain.StockLevel) stockPayload {
	return stockPayload{
		ItemID:    level.Key.ItemID,
		VariantID: level.Key.VariantID,
		OnHand:    level.OnHand,
		Reserved:  level.Reserved,
		Available: level.Available,
		UpdatedAt: formatTime(level.UpdatedAt),
	}
}

type putStockRequest struct {
	VariantID string `json:"variantId"`
	OnHand    *int   `json:"onHand"`
}

func (h *AdminHandlers) stockKey(ctx context.Context, w http.ResponseWriter, r *http.Request, variantID string) (domain.StockKey, bool) {
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock ledger unavailable", http.StatusServiceUnavailable))
		return domain.StockKey{}, false
	}
	if _, ok := h.orders.actor(ctx, w, scopeStaff); !ok {
		return domain.StockKey{}, false
	}
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		writeBadRequest(ctx, w, "item id is required")
		return domain.StockKey{}, false
	}
	return domain.StockKey{ItemID: itemID, VariantID: strings.TrimSpace(variantID)}, true
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, ok := h.stockKey(ctx, w, r, r.URL.Query().Get("variantId"))
	if !ok {
		return
	}
	level, err := h.stock.Available(ctx, key, "")
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStock(level))
}

func (h *AdminHandlers) putStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req putStockRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
		return
	}
	if req.OnHand == nil || *req.OnHand < 0 {
		writeBadRequest(ctx, w, "onHand must be a non-negative integer")
		return
	}
	key, ok := h.stockKey(ctx, w, r, req.VariantID)
	if !ok {
		return
	}
	level, err := h.stock.SetStock(ctx, key, *req.OnHand)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStock(level))
}
