package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

// SweepAPI runs one deadline sweep.
type SweepAPI interface {
	Sweep(ctx context.Context) (services.SweepReport, error)
}

// InternalHandlers exposes scheduler-triggered maintenance endpoints. The router guards the group
// with OIDC; handlers only record the calling service.
type InternalHandlers struct {
	sweeper SweepAPI
}

// NewInternalHandlers constructs the /internal endpoints.
func NewInternalHandlers(sweeper SweepAPI) *InternalHandlers {
	return &InternalHandlers{sweeper: sweeper}
}

// Routes registers /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/deadlines", h.sweepDeadlines)
}

func (h *InternalHandlers) sweepDeadlines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "deadline sweeper unavailable", http.StatusServiceUnavailable))
		return
	}
	caller := "unknown"
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = svc.Email
	}

	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("deadline sweep triggered",
		zap.String("caller", caller),
		zap.Int("failures", report.Failures),
	)
	status := http.StatusOK
	if report.Failures > 0 {
		// Partial success; the scheduler retries on non-2xx.
		status = http.StatusMultiStatus
	}
	writeJSONResponse(w, status, report)
}
