// Package services holds the order lifecycle: checkout, payment verification, order creation,
// the order state machine, deadline enforcement and change notification.
package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

// Logger is the structured logging hook every service accepts. observability.ServiceLogger adapts zap to it.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger
	}
	return l
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func idGeneratorOrDefault(gen func() string) func() string {
	if gen == nil {
		return func() string { return ulid.Make().String() }
	}
	return gen
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOrNoop(u repositories.UnitOfWork) repositories.UnitOfWork {
	if u == nil {
		return noopUnitOfWork{}
	}
	return u
}

const (
	orderIDPrefix   = "ord_"
	draftIDPrefix   = "drf_"
	previewIDPrefix = "pv_"
	eventIDPrefix   = "evt_"
	itemIDPrefix    = "oi_"
	historyIDPrefix = "hst_"
)
