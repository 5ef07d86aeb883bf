package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/storage"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

// stubOrderService records the last call and returns order/err for every transition.
type stubOrderService struct {
	order    domain.Order
	err      error
	page     domain.CursorPage[domain.Order]
	history  []domain.OrderStatusHistory
	previews []services.PreviewView
	signed   storage.SignedURL

	calls     []string
	lastActor domain.Actor
	lastArg   any
	lastQuery services.ListOrdersQuery
}

func (s *stubOrderService) record(name string, actor domain.Actor, arg any) {
	s.calls = append(s.calls, name)
	s.lastActor = actor
	s.lastArg = arg
}

func (s *stubOrderService) GetOrder(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("GetOrder", a, id)
	return s.order, s.err
}

func (s *stubOrderService) ListOrders(_ context.Context, a domain.Actor, q services.ListOrdersQuery) (domain.CursorPage[domain.Order], error) {
	s.record("ListOrders", a, nil)
	s.lastQuery = q
	return s.page, s.err
}

func (s *stubOrderService) ListHistory(_ context.Context, id string, a domain.Actor) ([]domain.OrderStatusHistory, error) {
	s.record("ListHistory", a, id)
	return s.history, s.err
}

func (s *stubOrderService) ListPreviews(_ context.Context, id string, a domain.Actor) ([]services.PreviewView, error) {
	s.record("ListPreviews", a, id)
	return s.previews, s.err
}

func (s *stubOrderService) Accept(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("Accept", a, id)
	return s.order, s.err
}

func (s *stubOrderService) Reject(_ context.Context, _ string, a domain.Actor, reason string) (domain.Order, error) {
	s.record("Reject", a, reason)
	return s.order, s.err
}

func (s *stubOrderService) SubmitDetails(_ context.Context, _ string, a domain.Actor, details map[string]any) (domain.Order, error) {
	s.record("SubmitDetails", a, details)
	return s.order, s.err
}

func (s *stubOrderService) PreviewUploadURL(_ context.Context, _ string, a domain.Actor, cmd services.PreviewUploadCommand) (storage.SignedURL, error) {
	s.record("PreviewUploadURL", a, cmd)
	return s.signed, s.err
}

func (s *stubOrderService) SubmitPreview(_ context.Context, _ string, a domain.Actor, cmd services.SubmitPreviewCommand) (domain.Order, domain.PreviewSubmission, error) {
	s.record("SubmitPreview", a, cmd)
	return s.order, domain.PreviewSubmission{ID: "pv_1", OrderItemID: cmd.OrderItemID, Status: domain.PreviewStatusPending}, s.err
}

func (s *stubOrderService) ApprovePreview(_ context.Context, _ string, a domain.Actor, previewID string) (domain.Order, error) {
	s.record("ApprovePreview", a, previewID)
	return s.order, s.err
}

func (s *stubOrderService) RequestRevision(_ context.Context, _ string, a domain.Actor, previewID, feedback string) (domain.Order, error) {
	s.record("RequestRevision", a, previewID+"|"+feedback)
	return s.order, s.err
}

func (s *stubOrderService) SetRevisionLimit(_ context.Context, _ string, a domain.Actor, limit int) (domain.Order, error) {
	s.record("SetRevisionLimit", a, limit)
	return s.order, s.err
}

func (s *stubOrderService) StartProduction(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("StartProduction", a, id)
	return s.order, s.err
}

func (s *stubOrderService) MarkPacked(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("MarkPacked", a, id)
	return s.order, s.err
}

func (s *stubOrderService) MarkDispatched(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("MarkDispatched", a, id)
	return s.order, s.err
}

func (s *stubOrderService) MarkDelivered(_ context.Context, id string, a domain.Actor) (domain.Order, error) {
	s.record("MarkDelivered", a, id)
	return s.order, s.err
}

func (s *stubOrderService) Cancel(_ context.Context, _ string, a domain.Actor, reason string) (domain.Order, error) {
	s.record("Cancel", a, reason)
	return s.order, s.err
}

func (s *stubOrderService) Refund(_ context.Context, _ string, a domain.Actor, reason string) (domain.Order, error) {
	s.record("Refund", a, reason)
	return s.order, s.err
}

var _ OrderAPI = (*stubOrderService)(nil)

func orderRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", h.BuyerRoutes)
	router.Route("/seller/orders", h.SellerRoutes)
	return router
}

func withSeller(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{
		UID:      "user-9",
		Roles:    []string{auth.RoleBuyer, auth.RoleSeller},
		SellerID: "seller-1",
	}))
}

func sampleOrder() domain.Order {
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	acceptBy := created.Add(5 * time.Minute)
	return domain.Order{
		ID:                      "ord_1",
		Number:                  "WK-000001",
		BuyerID:                 "buyer-1",
		SellerID:                "seller-1",
		Status:                  domain.OrderStatusPlaced,
		PaymentStatus:           domain.PaymentStatusCaptured,
		Currency:                "INR",
		Pricing:                 domain.PricingSnapshot{Currency: "INR", Total: 52900},
		RequiresPersonalization: true,
		Deadlines:               domain.OrderDeadlines{AcceptBy: &acceptBy},
		RevisionLimit:           2,
		RevisionCount:           1,
		Items:                   []domain.OrderItem{{ID: "oi_1", ItemID: "item-1", Name: "Engraved mug", Quantity: 1}},
		CreatedAt:               created,
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	service := &stubOrderService{order: sampleOrder()}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastActor != (domain.Actor{Kind: domain.ActorBuyer, ID: "buyer-1"}) {
		t.Fatalf("expected buyer actor, got %#v", service.lastActor)
	}
	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "PLACED" || resp.RevisionsRemaining != 1 {
		t.Fatalf("unexpected order payload %#v", resp)
	}
	if resp.Deadlines.AcceptBy != "2024-06-01T09:05:00Z" {
		t.Fatalf("unexpected accept deadline %q", resp.Deadlines.AcceptBy)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{err: services.ErrOrderNotFound}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_x", nil), "buyer-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrdersParsesFilters(t *testing.T) {
	service := &stubOrderService{page: domain.CursorPage[domain.Order]{Items: []domain.Order{sampleOrder()}, NextPageToken: "next"}}
	req := withBuyer(httptest.NewRequest(http.MethodGet, "/orders?status=placed,confirmed&pageSize=500&pageToken=abc", nil), "buyer-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	q := service.lastQuery
	if len(q.Status) != 2 || q.Status[0] != domain.OrderStatusPlaced || q.Status[1] != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status filter %v", q.Status)
	}
	if q.PageSize != maxOrderPageSize || q.PageToken != "abc" {
		t.Fatalf("unexpected paging %#v", q)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Total != 52900 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list %#v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	service := &stubOrderService{}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/orders?status=shipped", nil), "buyer-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(service.calls) != 0 {
		t.Fatalf("service must not be called, got %v", service.calls)
	}
}

func TestOrderHandlersSellerRoutesRequireSellerIdentity(t *testing.T) {
	service := &stubOrderService{order: sampleOrder()}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1:accept", nil), "buyer-1"))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	if len(service.calls) != 0 {
		t.Fatalf("service must not be called, got %v", service.calls)
	}
}

func TestOrderHandlersSellerTransitions(t *testing.T) {
	cases := []struct {
		path string
		call string
	}{
		{"/seller/orders/ord_1:accept", "Accept"},
		{"/seller/orders/ord_1:start-production", "StartProduction"},
		{"/seller/orders/ord_1:pack", "MarkPacked"},
		{"/seller/orders/ord_1:dispatch", "MarkDispatched"},
		{"/seller/orders/ord_1:deliver", "MarkDelivered"},
	}
	for _, tc := range cases {
		t.Run(tc.call, func(t *testing.T) {
			service := &stubOrderService{order: sampleOrder()}
			rr := httptest.NewRecorder()
			orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, tc.path, nil)))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if len(service.calls) != 1 || service.calls[0] != tc.call {
				t.Fatalf("expected %s, got %v", tc.call, service.calls)
			}
			if service.lastActor != (domain.Actor{Kind: domain.ActorSeller, ID: "seller-1"}) {
				t.Fatalf("expected seller actor, got %#v", service.lastActor)
			}
		})
	}
}

func TestOrderHandlersInvalidTransitionConflict(t *testing.T) {
	service := &stubOrderService{err: services.ErrOrderInvalidState}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1:pack", nil)))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error":"invalid_transition"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestOrderHandlersRejectWithoutBody(t *testing.T) {
	service := &stubOrderService{order: sampleOrder()}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1:reject", nil)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.calls[0] != "Reject" || service.lastArg != "" {
		t.Fatalf("expected Reject with empty reason, got %v %v", service.calls, service.lastArg)
	}
}

func TestOrderHandlersSubmitDetails(t *testing.T) {
	service := &stubOrderService{order: sampleOrder()}
	body := `{"details":{"engraving":"Happy birthday","font":"serif"}}`
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1:submit-details", strings.NewReader(body)), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	details, ok := service.lastArg.(map[string]any)
	if !ok || details["engraving"] != "Happy birthday" {
		t.Fatalf("unexpected details %#v", service.lastArg)
	}
}

func TestOrderHandlersSubmitDetailsRequiresDetails(t *testing.T) {
	service := &stubOrderService{}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1:submit-details", strings.NewReader(`{"details":{}}`)), "buyer-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersPreviewFlow(t *testing.T) {
	expires := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		order: sampleOrder(),
		signed: storage.SignedURL{
			URL:       "https://storage.googleapis.com/upload",
			Method:    http.MethodPut,
			ExpiresAt: expires,
			Headers:   map[string]string{"Content-Type": "image/png"},
			Object:    "orders/ord_1/items/oi_1/previews/abc/proof.png",
		},
	}
	router := orderRouter(NewOrderHandlers(nil, service))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1/previews:upload-url",
		strings.NewReader(`{"orderItemId":"oi_1","fileName":"proof.png","contentType":"image/png"}`))))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var signed signedURLPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &signed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if signed.AssetRef != service.signed.Object || signed.Method != http.MethodPut {
		t.Fatalf("unexpected signed url %#v", signed)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1/previews",
		strings.NewReader(`{"orderItemId":"oi_1","assetRef":"`+signed.AssetRef+`","notes":"first draft"}`))))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd, ok := service.lastArg.(services.SubmitPreviewCommand)
	if !ok || cmd.AssetRef != signed.AssetRef || cmd.Notes != "first draft" {
		t.Fatalf("unexpected submit command %#v", service.lastArg)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1/previews/pv_1:request-revision",
		strings.NewReader(`{"feedback":"bigger font"}`)), "buyer-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastArg != "pv_1|bigger font" {
		t.Fatalf("unexpected revision args %v", service.lastArg)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1/previews/pv_1:approve", nil), "buyer-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastArg != "pv_1" {
		t.Fatalf("unexpected approve args %v", service.lastArg)
	}
}

func TestOrderHandlersRevisionLimitReached(t *testing.T) {
	service := &stubOrderService{err: services.ErrRevisionLimitReached}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1/previews/pv_1:request-revision",
		strings.NewReader(`{"feedback":"again"}`)), "buyer-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersListPreviewsIncludesAssetURL(t *testing.T) {
	submitted := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		previews: []services.PreviewView{{
			Submission: domain.PreviewSubmission{ID: "pv_1", Status: domain.PreviewStatusPending, SubmittedAt: submitted},
			Asset:      &storage.SignedURL{URL: "https://example.test/read", ExpiresAt: submitted.Add(time.Hour)},
		}},
	}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_1/previews", nil), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Items []previewPayload `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].AssetURL != "https://example.test/read" {
		t.Fatalf("unexpected previews %#v", resp.Items)
	}
}

func TestOrderHandlersHistoryHidesActorIDs(t *testing.T) {
	service := &stubOrderService{
		history: []domain.OrderStatusHistory{{
			ID:        "hst_1",
			EventType: domain.HistoryOrderAccepted,
			ToStatus:  domain.OrderStatusConfirmed,
			Title:     "Order accepted",
			Actor:     domain.Actor{Kind: domain.ActorSeller, ID: "seller-1"},
		}},
	}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_1/history", nil), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "seller-1") {
		t.Fatalf("history must not expose actor ids: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"actorKind":"seller"`) {
		t.Fatalf("expected actor kind in %s", rr.Body.String())
	}
}

func TestOrderHandlersBuyerCancel(t *testing.T) {
	service := &stubOrderService{order: sampleOrder()}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel",
		strings.NewReader(`{"reason":"changed my mind"}`)), "buyer-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.calls[0] != "Cancel" || service.lastArg != "changed my mind" || service.lastActor.Kind != domain.ActorBuyer {
		t.Fatalf("unexpected cancel call %v %v %v", service.calls, service.lastArg, service.lastActor)
	}
}

func TestOrderHandlersForbidden(t *testing.T) {
	service := &stubOrderService{err: services.ErrOrderForbidden}
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, service)).ServeHTTP(rr, withSeller(httptest.NewRequest(http.MethodPost, "/seller/orders/ord_1:accept", nil)))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}
