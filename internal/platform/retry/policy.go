// Package retry holds the single retry policy used at every external-call boundary (payment
// gateways, event sinks, refunds).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	jujuretry "github.com/juju/retry"
)

// Policy bounds how an operation is retried.
type Policy struct {
	Attempts    int
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxDuration time.Duration
	Clock       clock.Clock
	// Retryable decides whether an error is worth another attempt. Nil retries everything except
	// context cancellation.
	Retryable func(error) bool
	Notify    func(err error, attempt int)
}

// Default is tuned for synchronous gateway calls made while a client waits.
func Default() Policy {
	return Policy{
		Attempts:    3,
		Delay:       200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		MaxDuration: 8 * time.Second,
		Clock:       clock.WallClock,
	}
}

// WithClock returns a copy of the policy using the supplied clock.
func (p Policy) WithClock(c clock.Clock) Policy {
	if c != nil {
		p.Clock = c
	}
	return p
}

// WithRetryable returns a copy of the policy using the supplied classifier.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, or the policy is exhausted. The
// returned error is always the last error produced by fn, never a retry bookkeeping error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("retry: func is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	if p.Delay <= 0 {
		p.Delay = time.Millisecond
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-done:
		}
	}()

	var last error
	err := jujuretry.Call(jujuretry.CallArgs{
		Func: func() error {
			last = fn(ctx)
			return last
		},
		IsFatalError: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			if p.Retryable != nil {
				return !p.Retryable(err)
			}
			return false
		},
		NotifyFunc:  p.Notify,
		Attempts:    p.Attempts,
		Delay:       p.Delay,
		MaxDelay:    p.MaxDelay,
		MaxDuration: p.MaxDuration,
		BackoffFunc: jujuretry.DoubleDelay,
		Clock:       p.Clock,
		Stop:        stop,
	})
	if err == nil {
		return nil
	}
	if last != nil {
		return last
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
