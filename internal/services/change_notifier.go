package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/events"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const defaultRelayBatch = 100

// EventRelay flushes committed outbox events. Services call it after every commit.
type EventRelay interface {
	RelayPending(ctx context.Context)
}

type nopRelay struct{}

func (nopRelay) RelayPending(context.Context) {}

func relayOrNop(r EventRelay) EventRelay {
	if r == nil {
		return nopRelay{}
	}
	return r
}

// ChangeNotifierDeps wires the notifier.
type ChangeNotifierDeps struct {
	Outbox    repositories.OutboxRepository
	Sinks     []events.Sink
	Clock     func() time.Time
	Logger    Logger
	BatchSize int
}

// ChangeNotifier relays outbox events to every configured sink. An event is marked published only
// when all sinks accepted it; otherwise it stays pending and is retried, so delivery is at least once.
type ChangeNotifier struct {
	outbox repositories.OutboxRepository
	sinks  []events.Sink
	now    func() time.Time
	logger Logger
	batch  int
	mu     sync.Mutex
}

// NewChangeNotifier validates dependencies.
func NewChangeNotifier(deps ChangeNotifierDeps) (*ChangeNotifier, error) {
	if deps.Outbox == nil {
		return nil, errors.New("change notifier: outbox repository is required")
	}
	sinks := make([]events.Sink, 0, len(deps.Sinks))
	for _, sink := range deps.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultRelayBatch
	}
	return &ChangeNotifier{
		outbox: deps.Outbox,
		sinks:  sinks,
		now:    utcClock(deps.Clock),
		logger: loggerOrNop(deps.Logger),
		batch:  batch,
	}, nil
}

// RelayReport counts the outcome of one relay pass.
type RelayReport struct {
	Published int
	Failed    int
}

// Relay publishes up to limit pending events in commit order.
func (n *ChangeNotifier) Relay(ctx context.Context, limit int) (RelayReport, error) {
	if limit <= 0 {
		limit = n.batch
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	var report RelayReport
	pending, err := n.outbox.ListPending(ctx, limit)
	if err != nil {
		return report, mapRepositoryError(err, nil, nil)
	}
	published := make([]string, 0, len(pending))
	for _, event := range pending {
		if err := n.publish(ctx, event); err != nil {
			report.Failed++
			n.logger(ctx, "notifier.publish_failed", map[string]any{
				"event_id": event.ID,
				"order_id": event.OrderID,
				"type":     event.Type,
				"attempts": event.Attempts + 1,
				"error":    err.Error(),
			})
			if recErr := n.outbox.RecordAttempt(ctx, event.ID); recErr != nil {
				n.logger(ctx, "notifier.record_attempt_failed", map[string]any{"event_id": event.ID, "error": recErr.Error()})
			}
			continue
		}
		published = append(published, event.ID)
	}
	if len(published) > 0 {
		if err := n.outbox.MarkPublished(ctx, published, n.now()); err != nil {
			return report, mapRepositoryError(err, nil, nil)
		}
	}
	report.Published = len(published)
	return report, nil
}

// RelayPending flushes one batch and logs failures; the sweep retries whatever remains.
func (n *ChangeNotifier) RelayPending(ctx context.Context) {
	if _, err := n.Relay(ctx, n.batch); err != nil {
		n.logger(ctx, "notifier.relay_failed", map[string]any{"error": err.Error()})
	}
}

func (n *ChangeNotifier) publish(ctx context.Context, event domain.OutboxEvent) error {
	var errs []error
	for _, sink := range n.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
