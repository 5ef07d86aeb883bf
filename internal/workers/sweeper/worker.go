// Package sweeper runs the deadline sweep on a timer inside the API process.
package sweeper

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const (
	defaultInterval = time.Minute
	defaultTimeout  = 2 * time.Minute
	maxBackoffSteps = 10
)

// Sweeper runs one pass of every deadline rule.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepReport, error)
}

// Lock elects one replica per tick. Acquire reports false when another replica holds the lock.
type Lock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// Config encapsulates the worker's collaborators.
type Config struct {
	Sweeper  Sweeper
	Lock     Lock
	Clock    clock.Clock
	Interval time.Duration
	Timeout  time.Duration
	Logger   *zap.Logger
	// OnReport, when set, receives every completed report.
	OnReport func(services.SweepReport)
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Sweeper == nil {
		return errors.NotValidf("missing Sweeper")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Interval < 0 {
		return errors.NotValidf("negative Interval")
	}
	return nil
}

// Worker sweeps every Interval. A failed sweep backs off exponentially up to ten intervals;
// the worker itself only stops when killed.
type Worker struct {
	tomb    tomb.Tomb
	cfg     Config
	backoff func(time.Duration, int) time.Duration
	held    bool
}

var _ worker.Worker = (*Worker)(nil)

// New starts the worker.
func New(cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w := &Worker{
		cfg:     cfg,
		backoff: retry.ExpBackoff(cfg.Interval, cfg.Interval*maxBackoffSteps, 2, false),
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

func (w *Worker) loop() error {
	timer := w.cfg.Clock.NewTimer(w.cfg.Interval)
	defer timer.Stop()
	defer w.releaseLock()

	var failures int
	for {
		select {
		case <-w.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			if err := w.runOnce(); err != nil {
				failures++
				w.cfg.Logger.Warn("sweep failed", zap.Error(err), zap.Int("consecutive_failures", failures))
			} else {
				failures = 0
			}
			next := w.cfg.Interval
			if failures > 0 {
				next = w.backoff(0, failures)
			}
			timer.Reset(next)
		}
	}
}

// releaseLock hands the lease back on shutdown so another replica can take over without waiting
// for it to expire. While running, the lease is kept for a full interval.
func (w *Worker) releaseLock() {
	if w.cfg.Lock == nil || !w.held {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.cfg.Lock.Release(ctx); err != nil {
		w.cfg.Logger.Warn("release sweep lock", zap.Error(err))
	}
}

func (w *Worker) runOnce() error {
	ctx, cancel := context.WithTimeout(w.tomb.Context(context.Background()), w.cfg.Timeout)
	defer cancel()

	if w.cfg.Lock != nil {
		held, err := w.cfg.Lock.Acquire(ctx, w.cfg.Interval)
		if err != nil {
			return errors.Annotate(err, "acquire sweep lock")
		}
		if !held {
			w.cfg.Logger.Debug("sweep skipped: another replica holds the lock")
			return nil
		}
		w.held = true
	}

	report, err := w.cfg.Sweeper.Sweep(ctx)
	if w.cfg.OnReport != nil {
		w.cfg.OnReport(report)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if report.Failures > 0 {
		return errors.Errorf("sweep finished with %d failures", report.Failures)
	}
	return nil
}
