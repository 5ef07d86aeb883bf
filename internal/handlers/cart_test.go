package handlers

import (
	"context"
	"encoding/json"
	"fmt"
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

type stubCartService struct {
	getFunc   func(ctx context.Context, buyerID string) (domain.Cart, error)
	applyFunc func(ctx context.Context, m domain.CartMutation) (services.MutationResult, error)
}

func (s *stubCartService) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	return s.getFunc(ctx, buyerID)
}

func (s *stubCartService) ApplyMutation(ctx context.Context, m domain.CartMutation) (services.MutationResult, error) {
	return s.applyFunc(ctx, m)
}

func cartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func withBuyer(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleBuyer}}))
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	service := &stubCartService{
		getFunc: func(_ context.Context, buyerID string) (domain.Cart, error) {
			if buyerID != "buyer-7" {
				t.Fatalf("unexpected buyer id %q", buyerID)
			}
			return domain.Cart{
				BuyerID: buyerID,
				Version: 4,
				Lines: []domain.CartLine{{
					ItemID:                 "item-1",
					Quantity:               2,
					PersonalizationChoices: map[string]string{"color": "red"},
					AddOns:                 []domain.AddOnSelection{{ID: "wrap", Name: "Gift wrap", Price: 4900}},
				}},
				LastMutation: &domain.CartMutationRef{ClientID: "web", MutationID: "m-4", Sequence: 9},
				UpdatedAt:    updated,
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	cartRouter(NewCartHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/cart", nil), "buyer-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if etag := rr.Header().Get("ETag"); etag != `"4"` {
		t.Fatalf("expected ETag \"4\", got %q", etag)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("expected no-store cache control")
	}

	var resp cartPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Version != 4 || len(resp.Lines) != 1 || resp.Lines[0].AddOns[0].Price != 4900 {
		t.Fatalf("unexpected cart payload %#v", resp)
	}
	if resp.LastMutation == nil || resp.LastMutation.Sequence != 9 {
		t.Fatalf("expected last mutation sequence 9, got %#v", resp.LastMutation)
	}
}

func TestCartHandlersGetCartUnauthenticated(t *testing.T) {
	handler := NewCartHandlers(nil, &stubCartService{})
	rr := httptest.NewRecorder()
	cartRouter(handler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	rr := httptest.NewRecorder()
	cartRouter(NewCartHandlers(nil, nil)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/cart", nil), "buyer-7"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersApplyMutation(t *testing.T) {
	var captured domain.CartMutation
	service := &stubCartService{
		applyFunc: func(_ context.Context, m domain.CartMutation) (services.MutationResult, error) {
			captured = m
			return services.MutationResult{
				Cart:    domain.Cart{BuyerID: m.BuyerID, Version: 5, Lines: []domain.CartLine{m.Line}},
				Applied: true,
			}, nil
		},
	}

	body := `{"clientId":"web","mutationId":"m-5","sequence":10,"op":"ADD","line":{"itemId":"item-1","quantity":1,"addOns":[{"id":"wrap"}]}}`
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/cart/mutations", strings.NewReader(body)), "buyer-7")
	rr := httptest.NewRecorder()
	cartRouter(NewCartHandlers(nil, service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-7" || captured.Op != domain.CartOpAdd || captured.Sequence != 10 {
		t.Fatalf("unexpected mutation %#v", captured)
	}
	if len(captured.Line.AddOns) != 1 || captured.Line.AddOns[0].ID != "wrap" {
		t.Fatalf("expected add-on forwarded, got %#v", captured.Line.AddOns)
	}

	var resp cartMutationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Applied || resp.Cart.Version != 5 {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestCartHandlersApplyMutationRejectsUnknownOp(t *testing.T) {
	service := &stubCartService{
		applyFunc: func(context.Context, domain.CartMutation) (services.MutationResult, error) {
			t.Fatal("service must not be called")
			return services.MutationResult{}, nil
		},
	}
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/cart/mutations", strings.NewReader(`{"op":"merge"}`)), "buyer-7")
	rr := httptest.NewRecorder()
	cartRouter(NewCartHandlers(nil, service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersApplyMutationMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantAction string
	}{
		{"invalid", fmt.Errorf("%w: quantity must be positive", services.ErrCartInvalidInput), http.StatusBadRequest, "invalid_cart_mutation", "refresh_cart"},
		{"conflict", services.ErrCartConflict, http.StatusConflict, "cart_conflict", "refresh_cart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubCartService{
				applyFunc: func(context.Context, domain.CartMutation) (services.MutationResult, error) {
					return services.MutationResult{}, tc.err
				},
			}
			body := `{"clientId":"web","mutationId":"m","sequence":1,"op":"set_quantity","line":{"itemId":"item-1","quantity":0}}`
			req := withBuyer(httptest.NewRequest(http.MethodPost, "/cart/mutations", strings.NewReader(body)), "buyer-7")
			rr := httptest.NewRecorder()
			cartRouter(NewCartHandlers(nil, service)).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var envelope map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("failed to decode error: %v", err)
			}
			if envelope["error"] != tc.wantCode {
				t.Fatalf("expected code %s, got %v", tc.wantCode, envelope["error"])
			}
			if envelope["next_action"] != tc.wantAction {
				t.Fatalf("expected next_action %s, got %v", tc.wantAction, envelope["next_action"])
			}
		})
	}
}
