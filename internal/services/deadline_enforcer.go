package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const defaultSweepBatch = 100

// DeadlineEnforcerDeps wires the sweep.
type DeadlineEnforcerDeps struct {
	Orders    repositories.OrderRepository
	OrderOps  *OrderService
	Checkout  *CheckoutService
	Stock     *StockLedger
	Notifier  *ChangeNotifier
	BatchSize int
	Clock     func() time.Time
	Logger    Logger
}

// DeadlineEnforcer forces the transitions a human actor failed to make in time, plus housekeeping
// for refunds, reservations, drafts and the outbox.
type DeadlineEnforcer struct {
	orders   repositories.OrderRepository
	ops      *OrderService
	checkout *CheckoutService
	stock    *StockLedger
	notifier *ChangeNotifier
	batch    int
	now      func() time.Time
	logger   Logger
}

// NewDeadlineEnforcer validates dependencies. Checkout, stock and notifier are optional.
func NewDeadlineEnforcer(deps DeadlineEnforcerDeps) (*DeadlineEnforcer, error) {
	if deps.Orders == nil {
		return nil, errors.New("deadline enforcer: order repository is required")
	}
	if deps.OrderOps == nil {
		return nil, errors.New("deadline enforcer: order service is required")
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &DeadlineEnforcer{
		orders:   deps.Orders,
		ops:      deps.OrderOps,
		checkout: deps.Checkout,
		stock:    deps.Stock,
		notifier: deps.Notifier,
		batch:    batch,
		now:      utcClock(deps.Clock),
		logger:   loggerOrNop(deps.Logger),
	}, nil
}

// SweepReport counts what each rule did.
type SweepReport struct {
	AcceptTimeouts       int `json:"acceptTimeouts"`
	DetailsTimeouts      int `json:"detailsTimeouts"`
	PreviewAutoApprovals int `json:"previewAutoApprovals"`
	RefundRetries        int `json:"refundRetries"`
	ExpiredReservations  int `json:"expiredReservations"`
	ExpiredDrafts        int `json:"expiredDrafts"`
	RelayedEvents        int `json:"relayedEvents"`
	Failures             int `json:"failures"`
}

// Sweep runs every rule once. Rules are isolated: a failing rule is counted and logged and the
// remaining rules still run. Running Sweep twice in a row leaves the same state as running it once.
func (e *DeadlineEnforcer) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := e.now()

	report.AcceptTimeouts = e.dueRule(ctx, &report, "accept_timeout", repositories.DueFilter{
		Status: domain.OrderStatusPlaced, Deadline: repositories.DeadlineAccept, Before: now, Limit: e.batch,
	}, e.ops.ExpireUnaccepted)
	report.DetailsTimeouts = e.dueRule(ctx, &report, "details_timeout", repositories.DueFilter{
		Status: domain.OrderStatusConfirmed, Deadline: repositories.DeadlineDetails, Before: now, Limit: e.batch,
	}, e.ops.ExpireMissingDetails)
	report.PreviewAutoApprovals = e.dueRule(ctx, &report, "preview_timeout", repositories.DueFilter{
		Status: domain.OrderStatusPreviewReady, Deadline: repositories.DeadlinePreview, Before: now, Limit: e.batch,
	}, e.ops.AutoApprovePreview)
	report.RefundRetries = e.retryRefunds(ctx, &report)

	if e.stock != nil {
		purged, err := e.stock.PurgeExpired(ctx, e.batch)
		if err != nil {
			e.ruleFailed(ctx, &report, "purge_reservations", err)
		}
		report.ExpiredReservations = purged
	}
	if e.checkout != nil {
		drafts, err := e.checkout.ExpireDrafts(ctx, e.batch)
		if err != nil {
			e.ruleFailed(ctx, &report, "expire_drafts", err)
		}
		report.ExpiredDrafts = drafts.Expired
		report.Failures += drafts.Failures
	}
	if e.notifier != nil {
		relayed, err := e.notifier.Relay(ctx, e.batch)
		if err != nil {
			e.ruleFailed(ctx, &report, "relay_events", err)
		}
		report.RelayedEvents = relayed.Published
		report.Failures += relayed.Failed
	}

	e.logger(ctx, "sweep.completed", map[string]any{
		"accept_timeouts":        report.AcceptTimeouts,
		"details_timeouts":       report.DetailsTimeouts,
		"preview_auto_approvals": report.PreviewAutoApprovals,
		"refund_retries":         report.RefundRetries,
		"expired_reservations":   report.ExpiredReservations,
		"expired_drafts":         report.ExpiredDrafts,
		"relayed_events":         report.RelayedEvents,
		"failures":               report.Failures,
	})
	return report, ctx.Err()
}

func (e *DeadlineEnforcer) dueRule(ctx context.Context, report *SweepReport, rule string, filter repositories.DueFilter, apply func(context.Context, string) (bool, error)) int {
	due, err := e.orders.ListDue(ctx, filter)
	if err != nil {
		e.ruleFailed(ctx, report, rule, err)
		return 0
	}
	applied := 0
	for _, order := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := apply(ctx, order.ID)
		if err != nil {
			report.Failures++
			e.logger(ctx, "sweep.order_failed", map[string]any{"rule": rule, "order_id": order.ID, "error": err.Error()})
			continue
		}
		if ok {
			applied++
		}
	}
	return applied
}

func (e *DeadlineEnforcer) retryRefunds(ctx context.Context, report *SweepReport) int {
	due, err := e.orders.ListRefundsDue(ctx, e.batch)
	if err != nil {
		e.ruleFailed(ctx, report, "refund_retry", err)
		return 0
	}
	retried := 0
	for _, order := range due {
		if ctx.Err() != nil {
			break
		}
		settled, err := e.ops.SettleRefund(ctx, order.ID)
		switch {
		case errors.Is(err, ErrRefundAttemptsExhausted):
			e.logger(ctx, "sweep.refund_exhausted", map[string]any{"order_id": order.ID, "attempts": order.Payment.RefundAttempts})
		case err != nil:
			report.Failures++
		case settled.PaymentStatus == domain.PaymentStatusRefunded:
			retried++
		}
	}
	return retried
}

func (e *DeadlineEnforcer) ruleFailed(ctx context.Context, report *SweepReport, rule string, err error) {
	report.Failures++
	e.logger(ctx, "sweep.rule_failed", map[string]any{"rule": rule, "error": err.Error()})
}
