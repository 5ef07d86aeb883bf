package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/textutil"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const maxFreeTextRunes = 2000

func sanitizeText(raw string) string {
	return textutil.SanitizeText(raw, maxFreeTextRunes)
}

// sanitizeDetails cleans personalization input. Nested values other than strings, numbers and
// booleans are dropped.
func sanitizeDetails(details map[string]any) map[string]any {
	out := make(map[string]any, len(details))
	for key, value := range textutil.SanitizeAnyMap(details, maxFreeTextRunes) {
		key = textutil.SanitizeText(key, maxFreeTextRunes)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case string, bool, float64, int, int64:
			out[key] = v
		}
	}
	return out
}

// moneyFormatter renders minor units for history descriptions.
type moneyFormatter struct {
	printer *message.Printer
}

func newMoneyFormatter(locale string) moneyFormatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.MustParse("en-IN")
	}
	return moneyFormatter{printer: message.NewPrinter(tag)}
}

func (f moneyFormatter) Format(currencyCode string, minor int64) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err != nil {
		return fmt.Sprintf("%d %s", minor, currencyCode)
	}
	scale, _ := currency.Standard.Rounding(unit)
	amount := float64(minor) / math.Pow10(scale)
	return f.printer.Sprint(currency.Symbol(unit.Amount(amount)))
}

// transitionRecord describes one state change: exactly one history row and one outbox event.
type transitionRecord struct {
	EventType   string
	From        domain.OrderStatus
	To          domain.OrderStatus
	Title       string
	Description string
	Actor       domain.Actor
	Metadata    map[string]any
}

// journal writes history entries and outbox events inside the caller's unit of work.
type journal struct {
	history repositories.OrderHistoryRepository
	outbox  repositories.OutboxRepository
	newID   func() string
}

func (j journal) record(ctx context.Context, order domain.Order, rec transitionRecord, at time.Time) error {
	if err := j.append(ctx, order, rec, at); err != nil {
		return err
	}
	return j.emit(ctx, order, domain.EventOrderStatusChanged, map[string]any{
		"orderId":   order.ID,
		"newStatus": string(rec.To),
		"updatedAt": at.Format(time.RFC3339Nano),
	}, at)
}

// note appends a history row for a change that leaves the status alone, so no event is emitted.
func (j journal) note(ctx context.Context, order domain.Order, rec transitionRecord, at time.Time) error {
	rec.From, rec.To = order.Status, order.Status
	return j.append(ctx, order, rec, at)
}

func (j journal) append(ctx context.Context, order domain.Order, rec transitionRecord, at time.Time) error {
	entry := domain.OrderStatusHistory{
		ID:          historyIDPrefix + j.newID(),
		OrderID:     order.ID,
		EventType:   rec.EventType,
		FromStatus:  rec.From,
		ToStatus:    rec.To,
		Title:       rec.Title,
		Description: rec.Description,
		Actor:       rec.Actor,
		Metadata:    cloneAnyMap(rec.Metadata),
		CreatedAt:   at,
	}
	if err := j.history.Append(ctx, entry); err != nil {
		return mapRepositoryError(err, nil, ErrOrderConflict)
	}
	return nil
}

func (j journal) previewChanged(ctx context.Context, order domain.Order, preview domain.PreviewSubmission, at time.Time) error {
	return j.emit(ctx, order, domain.EventPreviewStatusChanged, map[string]any{
		"previewSubmissionId": preview.ID,
		"orderId":             order.ID,
		"status":              string(preview.Status),
		"updatedAt":           at.Format(time.RFC3339Nano),
	}, at)
}

func (j journal) emit(ctx context.Context, order domain.Order, eventType string, payload map[string]any, at time.Time) error {
	if j.outbox == nil {
		return nil
	}
	event := domain.OutboxEvent{
		ID:         eventIDPrefix + j.newID(),
		Type:       eventType,
		OrderID:    order.ID,
		BuyerID:    order.BuyerID,
		SellerID:   order.SellerID,
		Payload:    payload,
		OccurredAt: at,
	}
	if err := j.outbox.Append(ctx, event); err != nil {
		return mapRepositoryError(err, nil, ErrOrderConflict)
	}
	return nil
}
