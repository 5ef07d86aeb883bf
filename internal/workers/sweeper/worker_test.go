package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/worker/v4"
	"github.com/stretchr/testify/require"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

const (
	interval    = time.Minute
	waitTimeout = 2 * time.Second
)

type stubSweeper struct {
	calls chan struct{}
	err   error
}

func (s *stubSweeper) Sweep(context.Context) (services.SweepReport, error) {
	s.calls <- struct{}{}
	return services.SweepReport{AcceptTimeouts: 1}, s.err
}

type stubLock struct {
	mu       sync.Mutex
	free     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(context.Context, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquired++
	return l.free, nil
}

func (l *stubLock) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
	return nil
}

func (l *stubLock) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

func expectSweep(t *testing.T, s *stubSweeper) {
	t.Helper()
	select {
	case <-s.calls:
	case <-time.After(waitTimeout):
		t.Fatal("expected a sweep")
	}
}

func expectNoSweep(t *testing.T, s *stubSweeper) {
	t.Helper()
	select {
	case <-s.calls:
		t.Fatal("unexpected sweep")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{Clock: testclock.NewClock(time.Now())})
	require.ErrorContains(t, err, "missing Sweeper")
	_, err = New(Config{Sweeper: &stubSweeper{}})
	require.ErrorContains(t, err, "missing Clock")
}

func TestWorkerSweepsEveryInterval(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	sweeper := &stubSweeper{calls: make(chan struct{}, 4)}
	reports := make(chan services.SweepReport, 4)
	w, err := New(Config{
		Sweeper:  sweeper,
		Clock:    clk,
		Interval: interval,
		OnReport: func(r services.SweepReport) { reports <- r },
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, worker.Stop(w)) }()

	expectNoSweep(t, sweeper)
	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	expectSweep(t, sweeper)
	require.Equal(t, 1, (<-reports).AcceptTimeouts)

	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	expectSweep(t, sweeper)
}

func TestWorkerBacksOffAfterFailure(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	sweeper := &stubSweeper{calls: make(chan struct{}, 4), err: errors.New("firestore unavailable")}
	w, err := New(Config{Sweeper: sweeper, Clock: clk, Interval: interval})
	require.NoError(t, err)
	defer func() { require.NoError(t, worker.Stop(w)) }()

	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	expectSweep(t, sweeper)

	// The worker survives the failure and tries again within the backoff ceiling.
	require.NoError(t, clk.WaitAdvance(interval*maxBackoffSteps, waitTimeout, 1))
	expectSweep(t, sweeper)
}

func TestWorkerSkipsWhenLockHeldElsewhere(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	sweeper := &stubSweeper{calls: make(chan struct{}, 4)}
	lock := &stubLock{}
	w, err := New(Config{Sweeper: sweeper, Lock: lock, Clock: clk, Interval: interval})
	require.NoError(t, err)

	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	expectNoSweep(t, sweeper)

	require.NoError(t, worker.Stop(w))
	acquired, released := lock.counts()
	require.GreaterOrEqual(t, acquired, 1)
	require.Zero(t, released, "a lease never taken is not released")
}

func TestWorkerReleasesLeaseOnStop(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	sweeper := &stubSweeper{calls: make(chan struct{}, 4)}
	lock := &stubLock{free: true}
	w, err := New(Config{Sweeper: sweeper, Lock: lock, Clock: clk, Interval: interval})
	require.NoError(t, err)

	require.NoError(t, clk.WaitAdvance(interval, waitTimeout, 1))
	expectSweep(t, sweeper)

	require.NoError(t, worker.Stop(w))
	_, released := lock.counts()
	require.Equal(t, 1, released)
}
