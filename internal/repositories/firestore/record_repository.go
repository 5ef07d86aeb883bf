package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	previewsCollection = "previewSubmissions"
	historyCollection  = "orderHistory"
	outboxCollection   = "outbox"
)

// PreviewRepository stores preview submissions keyed by order and preview id.
type PreviewRepository struct {
	previews *pfirestore.Collection[previewDocument]
}

var _ repositories.PreviewRepository = (*PreviewRepository)(nil)

// NewPreviewRepository constructs the Firestore preview store.
func NewPreviewRepository(provider *pfirestore.Provider) (*PreviewRepository, error) {
	if provider == nil {
		return nil, errors.New("preview repository requires firestore provider")
	}
	return &PreviewRepository{previews: pfirestore.NewCollection[previewDocument](provider, previewsCollection)}, nil
}

func previewDocID(orderID, previewID string) string { return orderID + "__" + previewID }

func (r *PreviewRepository) Insert(ctx context.Context, preview domain.PreviewSubmission) error {
	return r.previews.Create(ctx, previewDocID(preview.OrderID, preview.ID), previewToDocument(preview))
}

func (r *PreviewRepository) Update(ctx context.Context, preview domain.PreviewSubmission) error {
	id := previewDocID(preview.OrderID, preview.ID)
	_, found, err := r.previews.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return repositories.NotFound("previews.update", "preview %s not found", preview.ID)
	}
	return r.previews.Set(ctx, id, previewToDocument(preview))
}

func (r *PreviewRepository) FindByID(ctx context.Context, orderID, previewID string) (domain.PreviewSubmission, error) {
	doc, found, err := r.previews.Get(ctx, previewDocID(orderID, previewID))
	if err != nil {
		return domain.PreviewSubmission{}, err
	}
	if !found {
		return domain.PreviewSubmission{}, repositories.NotFound("previews.get", "preview %s not found on order %s", previewID, orderID)
	}
	return doc.toDomain(previewID), nil
}

func (r *PreviewRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PreviewSubmission, error) {
	ids, docs, err := r.previews.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("submittedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PreviewSubmission, len(ids))
	prefix := len(orderID) + 2
	for i, id := range ids {
		out[i] = docs[i].toDomain(id[prefix:])
	}
	return out, nil
}

// HistoryRepository is the append-only order audit trail.
type HistoryRepository struct {
	history *pfirestore.Collection[historyDocument]
}

var _ repositories.OrderHistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository constructs the Firestore history store.
func NewHistoryRepository(provider *pfirestore.Provider) (*HistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("history repository requires firestore provider")
	}
	return &HistoryRepository{history: pfirestore.NewCollection[historyDocument](provider, historyCollection)}, nil
}

func (r *HistoryRepository) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return r.history.Create(ctx, entry.ID, historyDocument{
		OrderID:     entry.OrderID,
		EventType:   entry.EventType,
		FromStatus:  string(entry.FromStatus),
		ToStatus:    string(entry.ToStatus),
		Title:       entry.Title,
		Description: entry.Description,
		ActorKind:   string(entry.Actor.Kind),
		ActorID:     entry.Actor.ID,
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt.UTC(),
	})
}

func (r *HistoryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	ids, docs, err := r.history.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderStatusHistory, len(ids))
	for i, id := range ids {
		doc := docs[i]
		out[i] = domain.OrderStatusHistory{
			ID:          id,
			OrderID:     doc.OrderID,
			EventType:   doc.EventType,
			FromStatus:  domain.OrderStatus(doc.FromStatus),
			ToStatus:    domain.OrderStatus(doc.ToStatus),
			Title:       doc.Title,
			Description: doc.Description,
			Actor:       domain.Actor{Kind: domain.ActorKind(doc.ActorKind), ID: doc.ActorID},
			Metadata:    doc.Metadata,
			CreatedAt:   doc.CreatedAt,
		}
	}
	return out, nil
}

// OutboxRepository keeps change events until the relay marks them published.
type OutboxRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.Collection[outboxDocument]
}

var _ repositories.OutboxRepository = (*OutboxRepository)(nil)

// NewOutboxRepository constructs the Firestore outbox.
func NewOutboxRepository(provider *pfirestore.Provider) (*OutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("outbox repository requires firestore provider")
	}
	return &OutboxRepository{provider: provider, events: pfirestore.NewCollection[outboxDocument](provider, outboxCollection)}, nil
}

func (r *OutboxRepository) Append(ctx context.Context, event domain.OutboxEvent) error {
	return r.events.Create(ctx, event.ID, outboxDocument{
		Type:       event.Type,
		OrderID:    event.OrderID,
		BuyerID:    event.BuyerID,
		SellerID:   event.SellerID,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt.UTC(),
		Attempts:   event.Attempts,
	})
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	ids, docs, err := r.events.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("published", "==", false).OrderBy("occurredAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OutboxEvent, len(ids))
	for i, id := range ids {
		out[i] = docs[i].toDomain(id)
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		docs := make(map[string]outboxDocument, len(eventIDs))
		for _, id := range eventIDs {
			doc, found, err := r.events.Get(ctx, id)
			if err != nil {
				return err
			}
			if found {
				docs[id] = doc
			}
		}
		published := at.UTC()
		for id, doc := range docs {
			doc.Published = true
			doc.PublishedAt = &published
			if err := r.events.Set(ctx, id, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OutboxRepository) RecordAttempt(ctx context.Context, eventID string) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, found, err := r.events.Get(ctx, eventID)
		if err != nil {
			return err
		}
		if !found {
			return repositories.NotFound("outbox.attempt", "event %s not found", eventID)
		}
		doc.Attempts++
		return r.events.Set(ctx, eventID, doc)
	})
}
