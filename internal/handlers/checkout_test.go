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
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

type stubCheckoutService struct {
	startFunc func(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error)
	draftFunc func(ctx context.Context, buyerID, draftID string) (domain.DraftOrder, error)
}

func (s *stubCheckoutService) StartCheckout(ctx context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error) {
	return s.startFunc(ctx, cmd)
}

func (s *stubCheckoutService) GetDraft(ctx context.Context, buyerID, draftID string) (domain.DraftOrder, error) {
	return s.draftFunc(ctx, buyerID, draftID)
}

func checkoutRouter(h *CheckoutHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", h.Routes)
	return router
}

func TestCheckoutHandlersStartCheckout(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)
	var captured services.StartCheckoutCommand
	service := &stubCheckoutService{
		startFunc: func(_ context.Context, cmd services.StartCheckoutCommand) (services.CheckoutSession, error) {
			captured = cmd
			return services.CheckoutSession{
				DraftID:        "drf_1",
				GatewayOrderID: "order_rzp_1",
				Provider:       "razorpay",
				Amount:         52900,
				Currency:       "INR",
				ExpiresAt:      expires,
				PublicKey:      "rzp_test_key",
				PriceAdjusted:  true,
				Pricing:        domain.PricingSnapshot{Currency: "INR", Subtotal: 50000, DeliveryFee: 2900, Total: 52900},
			}, nil
		},
	}

	body := `{"addressId":" addr-1 ","couponCode":"WELCOME","useWallet":true,"clientTotal":52000,"provider":"Razorpay"}`
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body)), "buyer-1")
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" || captured.AddressID != "addr-1" || captured.Provider != "razorpay" {
		t.Fatalf("unexpected command %#v", captured)
	}
	if !captured.UseWallet || captured.ClientTotal != 52000 {
		t.Fatalf("expected wallet and client total forwarded, got %#v", captured)
	}

	var resp checkoutSessionPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.GatewayOrderID != "order_rzp_1" || resp.Amount != 52900 || !resp.PriceAdjusted {
		t.Fatalf("unexpected session %#v", resp)
	}
	if resp.ExpiresAt != "2024-06-01T12:15:00Z" {
		t.Fatalf("unexpected expiry %s", resp.ExpiresAt)
	}
}

func TestCheckoutHandlersStartCheckoutRequiresAddress(t *testing.T) {
	service := &stubCheckoutService{
		startFunc: func(context.Context, services.StartCheckoutCommand) (services.CheckoutSession, error) {
			t.Fatal("service must not be called")
			return services.CheckoutSession{}, nil
		},
	}
	req := withBuyer(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"useWallet":false}`)), "buyer-1")
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, service)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCheckoutHandlersStartCheckoutMapsServiceErrors(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{services.ErrCheckoutCartEmpty, http.StatusBadRequest, "cart_empty"},
		{fmt.Errorf("%w: 12km", services.ErrPricingOutOfRange), http.StatusUnprocessableEntity, "out_of_delivery_range"},
		{services.ErrCheckoutPriceDrift, http.StatusConflict, "price_changed"},
		{services.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.wantCode, func(t *testing.T) {
			service := &stubCheckoutService{
				startFunc: func(context.Context, services.StartCheckoutCommand) (services.CheckoutSession, error) {
					return services.CheckoutSession{}, tc.err
				},
			}
			req := withBuyer(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"addressId":"addr-1"}`)), "buyer-1")
			rr := httptest.NewRecorder()
			checkoutRouter(NewCheckoutHandlers(nil, service)).ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), `"error":"`+tc.wantCode+`"`) {
				t.Fatalf("expected code %s in %s", tc.wantCode, rr.Body.String())
			}
		})
	}
}

func TestCheckoutHandlersGuardWrapsStartOnly(t *testing.T) {
	var guarded []string
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded = append(guarded, r.Method)
			next.ServeHTTP(w, r)
		})
	}
	service := &stubCheckoutService{
		startFunc: func(context.Context, services.StartCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{DraftID: "drf_1"}, nil
		},
		draftFunc: func(_ context.Context, buyerID, draftID string) (domain.DraftOrder, error) {
			if buyerID != "buyer-1" || draftID != "drf_1" {
				t.Fatalf("unexpected lookup %s/%s", buyerID, draftID)
			}
			return domain.DraftOrder{ID: draftID, Status: domain.DraftStatusPending}, nil
		},
	}
	router := checkoutRouter(NewCheckoutHandlers(nil, service, guard, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"addressId":"a"}`)), "buyer-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/checkout/drafts/drf_1", nil), "buyer-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"payment_pending"`) {
		t.Fatalf("expected draft status in %s", rr.Body.String())
	}

	if len(guarded) != 1 || guarded[0] != http.MethodPost {
		t.Fatalf("expected guard on POST only, got %v", guarded)
	}
}

func TestCheckoutHandlersGetDraftExpired(t *testing.T) {
	service := &stubCheckoutService{
		draftFunc: func(context.Context, string, string) (domain.DraftOrder, error) {
			return domain.DraftOrder{}, services.ErrDraftExpired
		},
	}
	rr := httptest.NewRecorder()
	checkoutRouter(NewCheckoutHandlers(nil, service)).ServeHTTP(rr, withBuyer(httptest.NewRequest(http.MethodGet, "/checkout/drafts/drf_9", nil), "buyer-1"))

	if rr.Code != http.StatusGone {
		t.Fatalf("expected status 410, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"next_action":"refresh_cart"`) {
		t.Fatalf("expected refresh_cart hint, got %s", rr.Body.String())
	}
}
