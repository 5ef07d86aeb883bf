package di

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/config"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/memory"
)

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return nil, errors.New("invalid token")
}

type nopGateway struct{}

func (nopGateway) OpenOrder(context.Context, payments.PaymentContext, payments.OpenOrderRequest) (payments.GatewayOrder, error) {
	return payments.GatewayOrder{}, errors.New("not implemented")
}

func (nopGateway) VerifyPayment(context.Context, string, payments.VerifyRequest) (bool, error) {
	return false, nil
}

func (nopGateway) Refund(context.Context, string, payments.RefundRequest) (payments.RefundResult, error) {
	return payments.RefundResult{}, errors.New("not implemented")
}

func (nopGateway) ParseWebhook(context.Context, string, []byte, http.Header) (payments.WebhookEvent, error) {
	return payments.WebhookEvent{}, errors.New("not implemented")
}

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	cfg := config.Config{
		Environment:    "test",
		StorageBackend: config.BackendMemory,
		Deadlines:      config.DeadlineConfig{SweepInterval: time.Hour},
		Idempotency:    config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour},
	}
	c, err := NewContainer(context.Background(), cfg, nil,
		WithRegistry(memory.NewRegistry()),
		WithTokenVerifier(rejectingVerifier{}),
		WithGateway(nopGateway{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, c.Close(ctx))
	})
	return c
}

func TestNewContainerWiresServices(t *testing.T) {
	c := newTestContainer(t)

	require.NotNil(t, c.Services.Cart)
	require.NotNil(t, c.Services.Checkout)
	require.NotNil(t, c.Services.Payments)
	require.NotNil(t, c.Services.Orders)
	require.NotNil(t, c.Services.Deadlines)
	require.NotNil(t, c.Hub)
	require.Equal(t, "test", c.Build.Environment)
}

func TestRouterServesHealthAndRequiresAuth(t *testing.T) {
	router := newTestContainer(t).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartAndCloseAreIdempotent(t *testing.T) {
	c := newTestContainer(t)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))
}
