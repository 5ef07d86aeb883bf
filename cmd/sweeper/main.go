// Command sweeper runs one deadline sweep and exits. It is meant for cron-style schedulers that
// cannot call the internal HTTP endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/di"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/observability"
)

const sweepTimeout = 2 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("sweeper")

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	ctx = observability.WithLogger(ctx, logger)

	cfg, build, release, err := di.Bootstrap(ctx, logger, time.Now())
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		return 1
	}
	defer release()

	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(build))
	if err != nil {
		logger.Error("failed to build dependencies", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	report, err := container.Services.Deadlines.Sweep(ctx)
	if err != nil {
		logger.Error("deadline sweep failed", zap.Error(err))
		return 1
	}
	logger.Info("deadline sweep finished",
		zap.Int("accept_timeouts", report.AcceptTimeouts),
		zap.Int("details_timeouts", report.DetailsTimeouts),
		zap.Int("preview_auto_approvals", report.PreviewAutoApprovals),
		zap.Int("refund_retries", report.RefundRetries),
		zap.Int("expired_reservations", report.ExpiredReservations),
		zap.Int("expired_drafts", report.ExpiredDrafts),
		zap.Int("relayed_events", report.RelayedEvents),
		zap.Int("failures", report.Failures),
	)
	if report.Failures > 0 {
		return 2
	}
	return 0
}
