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
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/storage"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderActionBody   = 8 * 1024
	maxDetailsBodySize   = 32 * 1024
)

// OrderAPI is the order surface the handlers depend on.
type OrderAPI interface {
	GetOrder(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, query services.ListOrdersQuery) (domain.CursorPage[domain.Order], error)
	ListHistory(ctx context.Context, orderID string, actor domain.Actor) ([]domain.OrderStatusHistory, error)
	ListPreviews(ctx context.Context, orderID string, actor domain.Actor) ([]services.PreviewView, error)

	Accept(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	Reject(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error)
	SubmitDetails(ctx context.Context, orderID string, actor domain.Actor, details map[string]any) (domain.Order, error)
	PreviewUploadURL(ctx context.Context, orderID string, actor domain.Actor, cmd services.PreviewUploadCommand) (storage.SignedURL, error)
	SubmitPreview(ctx context.Context, orderID string, actor domain.Actor, cmd services.SubmitPreviewCommand) (domain.Order, domain.PreviewSubmission, error)
	ApprovePreview(ctx context.Context, orderID string, actor domain.Actor, previewID string) (domain.Order, error)
	RequestRevision(ctx context.Context, orderID string, actor domain.Actor, previewID, feedback string) (domain.Order, error)
	SetRevisionLimit(ctx context.Context, orderID string, actor domain.Actor, limit int) (domain.Order, error)
	StartProduction(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	MarkPacked(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	MarkDispatched(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID string, actor domain.Actor) (domain.Order, error)
	Cancel(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error)
	Refund(ctx context.Context, orderID string, actor domain.Actor, reason string) (domain.Order, error)
}

// orderScope selects which actor an identity acts as for a route group.
type orderScope int

const (
	scopeBuyer orderScope = iota
	scopeSeller
	scopeStaff
)

// OrderHandlers exposes buyer and seller order endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders OrderAPI
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders OrderAPI) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// BuyerRoutes registers the buyer's /orders endpoints.
func (h *OrderHandlers) BuyerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.list(scopeBuyer))
	r.Get("/{orderID}", h.get(scopeBuyer))
	r.Get("/{orderID}/history", h.history(scopeBuyer))
	r.Get("/{orderID}/previews", h.previews(scopeBuyer))
	r.Post("/{orderID}:submit-details", h.submitDetails)
	r.Post("/{orderID}/previews/{previewID}:approve", h.approvePreview)
	r.Post("/{orderID}/previews/{previewID}:request-revision", h.requestRevision)
	r.Post("/{orderID}:cancel", h.cancel(scopeBuyer))
}

// SellerRoutes registers the seller's /seller/orders endpoints.
func (h *OrderHandlers) SellerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleSeller))
	}
	r.Get("/", h.list(scopeSeller))
	r.Get("/{orderID}", h.get(scopeSeller))
	r.Get("/{orderID}/history", h.history(scopeSeller))
	r.Get("/{orderID}/previews", h.previews(scopeSeller))
	r.Post("/{orderID}:accept", h.simple(scopeSeller, OrderAPI.Accept))
	r.Post("/{orderID}:reject", h.reject)
	r.Post("/{orderID}/previews:upload-url", h.previewUploadURL)
	r.Post("/{orderID}/previews", h.submitPreview)
	r.Post("/{orderID}:set-revision-limit", h.setRevisionLimit(scopeSeller))
	r.Post("/{orderID}:start-production", h.simple(scopeSeller, OrderAPI.StartProduction))
	r.Post("/{orderID}:pack", h.simple(scopeSeller, OrderAPI.MarkPacked))
	r.Post("/{orderID}:dispatch", h.simple(scopeSeller, OrderAPI.MarkDispatched))
	r.Post("/{orderID}:deliver", h.simple(scopeSeller, OrderAPI.MarkDelivered))
}

// actor resolves the identity for the scope, writing the error response when it cannot.
func (h *OrderHandlers) actor(ctx context.Context, w http.ResponseWriter, scope orderScope) (domain.Actor, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return domain.Actor{}, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		writeUnauthenticated(ctx, w)
		return domain.Actor{}, false
	}
	var (
		actor   domain.Actor
		allowed = true
	)
	switch scope {
	case scopeSeller:
		actor, allowed = identity.SellerActor()
	case scopeStaff:
		actor, allowed = identity.StaffActor()
	default:
		actor = identity.BuyerActor()
	}
	if !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity cannot act in this role", http.StatusForbidden))
		return domain.Actor{}, false
	}
	return actor, true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeBadRequest(ctx, w, "order id is required")
		return "", false
	}
	return orderID, true
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) list(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		query := r.URL.Query()

		var statuses []domain.OrderStatus
		for _, raw := range parseFilterValues(query["status"]) {
			status, err := domain.ParseOrderStatus(raw)
			if err != nil {
				writeBadRequest(ctx, w, "status filter contains an unknown value")
				return
			}
			statuses = append(statuses, status)
		}

		pageSize := defaultOrderPageSize
		if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
			size, err := strconv.Atoi(raw)
			if err != nil || size <= 0 {
				writeBadRequest(ctx, w, "pageSize must be a positive integer")
				return
			}
			pageSize = min(size, maxOrderPageSize)
		}

		page, err := h.orders.ListOrders(ctx, actor, services.ListOrdersQuery{
			Status:    statuses,
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("pageToken")),
		})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		resp := orderListResponse{Items: make([]orderSummaryPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
		for _, order := range page.Items {
			resp.Items = append(resp.Items, buildOrderSummary(order))
		}
		writeJSONResponse(w, http.StatusOK, resp)
	}
}

func (h *OrderHandlers) get(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		order, err := h.orders.GetOrder(ctx, orderID, actor)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOrder(order))
	}
}

func (h *OrderHandlers) history(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		entries, err := h.orders.ListHistory(ctx, orderID, actor)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"items": buildHistory(entries)})
	}
}

func (h *OrderHandlers) previews(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		views, err := h.orders.ListPreviews(ctx, orderID, actor)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"items": buildPreviewViews(views)})
	}
}

// simple adapts a body-less transition.
func (h *OrderHandlers) simple(scope orderScope, op func(OrderAPI, context.Context, string, domain.Actor) (domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		order, err := op(h.orders, ctx, orderID, actor)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOrder(order))
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancel(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		var req reasonRequest
		if !decodeJSONBody(w, r, maxOrderActionBody, true, &req) {
			return
		}
		order, err := h.orders.Cancel(ctx, orderID, actor, req.Reason)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOrder(order))
	}
}

func (h *OrderHandlers) reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeSeller)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, true, &req) {
		return
	}
	order, err := h.orders.Reject(ctx, orderID, actor, req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrder(order))
}

type submitDetailsRequest struct {
	Details map[string]any `json:"details"`
}

func (h *OrderHandlers) submitDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeBuyer)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req submitDetailsRequest
	if !decodeJSONBody(w, r, maxDetailsBodySize, false, &req) {
		return
	}
	if len(req.Details) == 0 {
		writeBadRequest(ctx, w, "details are required")
		return
	}
	order, err := h.orders.SubmitDetails(ctx, orderID, actor, req.Details)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrder(order))
}

type previewUploadRequest struct {
	OrderItemID string `json:"orderItemId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type signedURLPayload struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	ExpiresAt string            `json:"expiresAt"`
	Headers   map[string]string `json:"headers,omitempty"`
	AssetRef  string            `json:"assetRef"`
}

func (h *OrderHandlers) previewUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeSeller)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req previewUploadRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
		return
	}
	if strings.TrimSpace(req.FileName) == "" || strings.TrimSpace(req.ContentType) == "" {
		writeBadRequest(ctx, w, "fileName and contentType are required")
		return
	}
	signed, err := h.orders.PreviewUploadURL(ctx, orderID, actor, services.PreviewUploadCommand{
		OrderItemID: strings.TrimSpace(req.OrderItemID),
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, signedURLPayload{
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: formatTime(signed.ExpiresAt),
		Headers:   signed.Headers,
		AssetRef:  signed.Object,
	})
}

type submitPreviewRequest struct {
	OrderItemID string `json:"orderItemId"`
	AssetRef    string `json:"assetRef"`
	Notes       string `json:"notes"`
}

type submitPreviewResponse struct {
	Order   orderPayload   `json:"order"`
	Preview previewPayload `json:"preview"`
}

func (h *OrderHandlers) submitPreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeSeller)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req submitPreviewRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
		return
	}
	if strings.TrimSpace(req.AssetRef) == "" {
		writeBadRequest(ctx, w, "assetRef is required")
		return
	}
	order, preview, err := h.orders.SubmitPreview(ctx, orderID, actor, services.SubmitPreviewCommand{
		OrderItemID: strings.TrimSpace(req.OrderItemID),
		AssetRef:    strings.TrimSpace(req.AssetRef),
		Notes:       req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, submitPreviewResponse{Order: buildOrder(order), Preview: buildPreview(preview)})
}

func (h *OrderHandlers) approvePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeBuyer)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.orders.ApprovePreview(ctx, orderID, actor, strings.TrimSpace(chi.URLParam(r, "previewID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrder(order))
}

type revisionRequest struct {
	Feedback string `json:"feedback"`
}

func (h *OrderHandlers) requestRevision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.actor(ctx, w, scopeBuyer)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req revisionRequest
	if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeBadRequest(ctx, w, "feedback is required")
		return
	}
	order, err := h.orders.RequestRevision(ctx, orderID, actor, strings.TrimSpace(chi.URLParam(r, "previewID")), req.Feedback)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrder(order))
}

type revisionLimitRequest struct {
	Limit int `json:"limit"`
}

func (h *OrderHandlers) setRevisionLimit(scope orderScope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, ok := h.actor(ctx, w, scope)
		if !ok {
			return
		}
		orderID, ok := orderIDParam(ctx, w, r)
		if !ok {
			return
		}
		var req revisionLimitRequest
		if !decodeJSONBody(w, r, maxOrderActionBody, false, &req) {
			return
		}
		order, err := h.orders.SetRevisionLimit(ctx, orderID, actor, req.Limit)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, buildOrder(order))
	}
}

// parseFilterValues accepts both repeated and comma separated query values.
func parseFilterValues(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
