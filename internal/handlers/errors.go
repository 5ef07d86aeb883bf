package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/httpx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/requestctx"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

// statusByCode overrides the kind-based status for failures with a more precise HTTP meaning.
var statusByCode = map[string]int{
	"order_not_found":           http.StatusNotFound,
	"checkout_not_found":        http.StatusNotFound,
	"preview_not_found":         http.StatusNotFound,
	"order_forbidden":           http.StatusForbidden,
	"checkout_expired":          http.StatusGone,
	"invalid_transition":        http.StatusConflict,
	"revision_limit_reached":    http.StatusConflict,
	"preview_not_pending":       http.StatusConflict,
	"out_of_delivery_range":     http.StatusUnprocessableEntity,
	"payment_signature_invalid": http.StatusBadRequest,
	"payment_amount_mismatch":   http.StatusUnprocessableEntity,
	"gateway_unavailable":       http.StatusBadGateway,
	"timeout":                   http.StatusGatewayTimeout,
}

var statusByKind = map[services.FailureKind]int{
	services.FailureValidation: http.StatusBadRequest,
	services.FailureContention: http.StatusConflict,
	services.FailureExternal:   http.StatusServiceUnavailable,
	services.FailureIntegrity:  http.StatusConflict,
	services.FailureFatal:      http.StatusInternalServerError,
}

// writeServiceError turns any service error into the JSON envelope. Only the classified reason
// reaches the client; the raw error is logged.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	failure := services.Classify(err)
	status, ok := statusByCode[failure.Code]
	if !ok {
		status = statusByKind[failure.Kind]
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}

	logger := requestctx.Logger(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("failure", failure.Code), zap.Error(err))
	} else {
		logger.Info("request rejected", zap.String("failure", failure.Code), zap.Error(err))
	}

	httpx.WriteError(ctx, w, httpx.NewError(failure.Code, failure.Reason, status).
		WithNextAction(string(failure.NextAction)).
		WithDetails(map[string]any{"kind": string(failure.Kind)}))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest).WithNextAction("none"))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes the request body, writing the error response itself. An empty
// body is accepted when optional is true.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		writeBadRequest(ctx, w, err.Error())
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeBadRequest(ctx, w, "request body must be valid JSON")
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
