package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) record() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

// FirestoreStore keeps one document per key, read and written in a transaction.
type FirestoreStore struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[firestoreRecord]
}

// NewFirestoreStore constructs a Firestore-backed store. An empty collection uses the default.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{
		provider: provider,
		records:  pfirestore.NewCollection[firestoreRecord](provider, collection),
	}, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := recordID(key)
	var result Reservation
	err := s.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, found, err := s.records.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found || doc.record().expired(now) {
			record := pendingRecord(key, fingerprint, now, ttl)
			result = Reservation{State: ReservationStateNew, Record: record}
			return s.records.Set(ctx, id, toFirestoreRecord(record))
		}
		result, err = classify(doc.record(), fingerprint)
		return err
	})
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)
	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, found, err := s.records.Get(ctx, id)
		if err != nil {
			return err
		}
		record := Record{Key: key, Fingerprint: fingerprint}
		if found {
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = doc.record()
		}
		return s.records.Set(ctx, id, toFirestoreRecord(complete(record, resp, now.UTC(), ttl)))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	id := recordID(key)
	return s.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, found, err := s.records.Get(ctx, id)
		if err != nil || !found || doc.Fingerprint != fingerprint {
			return err
		}
		return s.records.Delete(ctx, id)
	})
}

// CleanupExpired deletes up to limit expired records.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, _, err := s.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := s.records.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
