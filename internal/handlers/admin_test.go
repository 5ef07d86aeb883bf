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
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

type stubStock struct {
	levels map[domain.StockKey]domain.StockLevel
}

func (s *stubStock) SetStock(_ context.Context, key domain.StockKey, onHand int) (domain.StockLevel, error) {
	level := domain.StockLevel{Key: key, OnHand: onHand, Available: onHand}
	s.levels[key] = level
	return level, nil
}

func (s *stubStock) Available(_ context.Context, key domain.StockKey, _ string) (domain.StockLevel, error) {
	return s.levels[key], nil
}

func withStaff(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "ops-1", Roles: []string{auth.RoleStaff}}))
}

func adminRouter(h *AdminHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", h.Routes)
	return router
}

func TestAdminHandlersRefund(t *testing.T) {
	orders := &stubOrderService{order: domain.Order{ID: "ord_1", Status: domain.OrderStatusRefunded, PaymentStatus: domain.PaymentStatusRefunded}}
	router := adminRouter(NewAdminHandlers(nil, orders, &stubStock{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:refund", strings.NewReader(`{"reason":"damaged in transit"}`))))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.calls[0] != "Refund" || orders.lastActor != (domain.Actor{Kind: domain.ActorStaff, ID: "ops-1"}) {
		t.Fatalf("unexpected refund call %v %#v", orders.calls, orders.lastActor)
	}
	if !strings.Contains(rr.Body.String(), `"paymentStatus":"refunded"`) {
		t.Fatalf("expected refunded payment status, got %s", rr.Body.String())
	}
}

func TestAdminHandlersRefundRequiresReason(t *testing.T) {
	orders := &stubOrderService{}
	rr := httptest.NewRecorder()
	adminRouter(NewAdminHandlers(nil, orders, nil)).ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPost, "/admin/orders/ord_1:refund", strings.NewReader(`{"reason":"  "}`))))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if len(orders.calls) != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestAdminHandlersRejectNonStaff(t *testing.T) {
	orders := &stubOrderService{}
	rr := httptest.NewRecorder()
	adminRouter(NewAdminHandlers(nil, orders, nil)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/admin/orders", nil), "buyer-1"))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminHandlersStock(t *testing.T) {
	stock := &stubStock{levels: map[domain.StockKey]domain.StockLevel{}}
	router := adminRouter(NewAdminHandlers(nil, &stubOrderService{}, stock))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPut, "/admin/stock/item-1", strings.NewReader(`{"variantId":"blue","onHand":12}`))))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodGet, "/admin/stock/item-1?variantId=blue", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var level stockPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &level); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if level.OnHand != 12 || level.VariantID != "blue" {
		t.Fatalf("unexpected stock level %#v", level)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withStaff(httptest.NewRequest(http.MethodPut, "/admin/stock/item-1", strings.NewReader(`{"onHand":-1}`))))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative stock, got %d", rr.Code)
	}
}

type stubSweeper struct {
	report services.SweepReport
	err    error
	calls  int
}

func (s *stubSweeper) Sweep(context.Context) (services.SweepReport, error) {
	s.calls++
	return s.report, s.err
}

func TestInternalHandlersSweep(t *testing.T) {
	sweeper := &stubSweeper{report: services.SweepReport{AcceptTimeouts: 2, PreviewAutoApprovals: 1}}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(sweeper).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/sweeps/deadlines", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var report services.SweepReport
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.AcceptTimeouts != 2 || report.PreviewAutoApprovals != 1 || sweeper.calls != 1 {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestInternalHandlersSweepPartialFailure(t *testing.T) {
	sweeper := &stubSweeper{report: services.SweepReport{Failures: 1}}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(sweeper).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/sweeps/deadlines", nil))

	if rr.Code != http.StatusMultiStatus {
		t.Fatalf("expected status 207, got %d", rr.Code)
	}
}

func TestBuyerRateLimit(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	limit := BuyerRateLimit(2, time.Minute, func() time.Time { return now })
	handler := limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(uid string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/checkout", nil), uid))
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := do("buyer-1"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, rr.Code)
		}
	}
	rr := do("buyer-1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := do("buyer-2"); rr.Code != http.StatusNoContent {
		t.Fatalf("other buyers keep their own window, got %d", rr.Code)
	}

	now = now.Add(time.Minute)
	if rr := do("buyer-1"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestBuyerRateLimitDisabled(t *testing.T) {
	if BuyerRateLimit(0, time.Minute, nil) != nil {
		t.Fatal("expected nil middleware for zero limit")
	}
}
