package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/events"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/memory"
)

func TestChangeNotifierRetriesUntilEverySinkAccepts(t *testing.T) {
	ctx := context.Background()
	reg := memory.NewRegistry()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"evt_1", "evt_2"} {
		if err := reg.Outbox().Append(ctx, domain.OutboxEvent{
			ID:         id,
			Type:       domain.EventOrderStatusChanged,
			OrderID:    "ord_1",
			BuyerID:    testBuyer,
			SellerID:   testSeller,
			Payload:    map[string]any{"newStatus": "PLACED"},
			OccurredAt: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	healthy := &recordingSink{name: "kafka"}
	flaky := &recordingSink{name: "redis"}
	down := true
	flaky.publishFn = func(event domain.OutboxEvent) error {
		if down && event.ID == "evt_2" {
			return errors.New("connection refused")
		}
		return nil
	}
	notifier, err := NewChangeNotifier(ChangeNotifierDeps{
		Outbox: reg.Outbox(),
		Sinks:  []events.Sink{healthy, flaky},
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	report, err := notifier.Relay(ctx, 0)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if report.Published != 1 || report.Failed != 1 {
		t.Fatalf("expected 1 published and 1 failed, got %+v", report)
	}
	pending, err := reg.Outbox().ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "evt_2" || pending[0].Attempts != 1 {
		t.Fatalf("expected evt_2 pending with one attempt, got %+v", pending)
	}

	down = false
	report, err = notifier.Relay(ctx, 0)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if report.Published != 1 || report.Failed != 0 {
		t.Fatalf("expected retry to publish, got %+v", report)
	}
	if got := len(healthy.published()); got != 3 {
		t.Fatalf("expected at-least-once redelivery to the healthy sink, got %d events", got)
	}
	if got := len(flaky.published()); got != 2 {
		t.Fatalf("expected 2 events on the recovered sink, got %d", got)
	}

	report, err = notifier.Relay(ctx, 0)
	if err != nil || report.Published != 0 {
		t.Fatalf("expected nothing left to relay, got %+v, %v", report, err)
	}
}

func TestNewChangeNotifierRequiresOutbox(t *testing.T) {
	if _, err := NewChangeNotifier(ChangeNotifierDeps{}); err == nil {
		t.Fatalf("expected error without outbox")
	}
}
