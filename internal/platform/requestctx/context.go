// Package requestctx carries request-scoped values: the zap logger, Cloud Trace metadata and the
// order scope that every order lifecycle log line is tagged with.
package requestctx

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

type contextKey int

const (
	loggerKey contextKey = iota
	traceKey
	scopeKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context parsed from the incoming request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// OrderScope names the checkout or order a call is working on and who asked for it.
type OrderScope struct {
	Actor          domain.Actor
	OrderID        string
	DraftID        string
	GatewayOrderID string
}

// Fields renders the non-empty parts of the scope as zap fields.
func (s OrderScope) Fields() []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if s.OrderID != "" {
		fields = append(fields, zap.String("order_id", s.OrderID))
	}
	if s.DraftID != "" {
		fields = append(fields, zap.String("draft_id", s.DraftID))
	}
	if s.GatewayOrderID != "" {
		fields = append(fields, zap.String("gateway_order_id", s.GatewayOrderID))
	}
	if s.Actor.Kind != "" {
		fields = append(fields, zap.String("actor", string(s.Actor.Kind)+":"+s.Actor.ID))
	}
	return fields
}

func background(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger stores the request logger; nil stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(background(ctx), loggerKey, logger)
}

// Logger returns the request logger or the shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to; callers compare against it to pick their own.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(background(ctx), traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithOrderScope layers scope over the one already on ctx. Empty fields keep the outer value, so a
// draft scoped by the payment path keeps its buyer once the order id is known.
func WithOrderScope(ctx context.Context, scope OrderScope) context.Context {
	merged := Scope(ctx)
	if scope.Actor.Kind != "" {
		merged.Actor = scope.Actor
	}
	if scope.OrderID != "" {
		merged.OrderID = scope.OrderID
	}
	if scope.DraftID != "" {
		merged.DraftID = scope.DraftID
	}
	if scope.GatewayOrderID != "" {
		merged.GatewayOrderID = scope.GatewayOrderID
	}
	return context.WithValue(background(ctx), scopeKey, merged)
}

// Scope returns the order scope on ctx, zero when none was set.
func Scope(ctx context.Context) OrderScope {
	if ctx == nil {
		return OrderScope{}
	}
	scope, _ := ctx.Value(scopeKey).(OrderScope)
	return scope
}
