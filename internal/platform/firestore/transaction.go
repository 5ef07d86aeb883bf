package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	firestoreOpts := make([]firestore.TransactionOption, 0, 1)
	if cfg.attempts > 0 {
		firestoreOpts = append(firestoreOpts, firestore.MaxAttempts(cfg.attempts))
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestoreOpts...)

	return WrapError("transaction", err)
}

// Tx is the ambient unit of work carried on the context. Firestore requires every read in a
// transaction to happen before the first write, so writes are buffered and flushed when the
// callback returns. Document reads see buffered writes; queries do not.
type Tx struct {
	tx      *firestore.Transaction
	writes  []func(*firestore.Transaction) error
	overlay map[string]overlayEntry
}

type overlayEntry struct {
	value   any
	deleted bool
}

type txContextKey struct{}

// TxFromContext returns the ambient transaction, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	return tx, ok && tx != nil
}

// RunInTx runs fn in a transaction whose handle travels on the context. Calls nested inside an
// existing transaction join it.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return p.RunTransaction(ctx, func(ctx context.Context, raw *firestore.Transaction) error {
		tx := &Tx{tx: raw, overlay: map[string]overlayEntry{}}
		if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
			return err
		}
		for _, write := range tx.writes {
			if err := write(raw); err != nil {
				return err
			}
		}
		return nil
	}, opts...)
}

// GetDoc decodes the document into T. The boolean is false when the document does not exist.
func GetDoc[T any](ctx context.Context, ref *firestore.DocumentRef) (T, bool, error) {
	var out T
	if ref == nil {
		return out, false, errors.New("firestore: document reference is nil")
	}
	var (
		snap *firestore.DocumentSnapshot
		err  error
	)
	if tx, ok := TxFromContext(ctx); ok {
		if entry, hit := tx.overlay[ref.Path]; hit {
			if entry.deleted {
				return out, false, nil
			}
			if typed, ok := entry.value.(T); ok {
				return typed, true, nil
			}
			return out, false, fmt.Errorf("firestore: buffered document %s has unexpected type", ref.Path)
		}
		snap, err = tx.tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return out, false, nil
		}
		return out, false, WrapError("get", err)
	}
	if !snap.Exists() {
		return out, false, nil
	}
	if err := snap.DataTo(&out); err != nil {
		return out, false, fmt.Errorf("firestore: decode %s: %w", ref.Path, err)
	}
	return out, true, nil
}

// QueryDocs runs the query through the ambient transaction when present.
func QueryDocs(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	var (
		snaps []*firestore.DocumentSnapshot
		err   error
	)
	if tx, ok := TxFromContext(ctx); ok {
		snaps, err = tx.tx.Documents(query).GetAll()
	} else {
		snaps, err = query.Documents(ctx).GetAll()
	}
	if err != nil {
		return nil, WrapError("query", err)
	}
	return snaps, nil
}

// CreateDoc inserts a new document, failing with a conflict when it exists.
func CreateDoc(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if tx, ok := TxFromContext(ctx); ok {
		tx.buffer(ref, value, false, func(raw *firestore.Transaction) error { return raw.Create(ref, value) })
		return nil
	}
	_, err := ref.Create(ctx, value)
	return WrapError("create", err)
}

// SetDoc writes the document, replacing any existing content.
func SetDoc(ctx context.Context, ref *firestore.DocumentRef, value any) error {
	if tx, ok := TxFromContext(ctx); ok {
		tx.buffer(ref, value, false, func(raw *firestore.Transaction) error { return raw.Set(ref, value) })
		return nil
	}
	_, err := ref.Set(ctx, value)
	return WrapError("set", err)
}

// DeleteDoc removes the document. Deleting a missing document is not an error.
func DeleteDoc(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := TxFromContext(ctx); ok {
		tx.buffer(ref, nil, true, func(raw *firestore.Transaction) error { return raw.Delete(ref) })
		return nil
	}
	_, err := ref.Delete(ctx)
	return WrapError("delete", err)
}

func (t *Tx) buffer(ref *firestore.DocumentRef, value any, deleted bool, write func(*firestore.Transaction) error) {
	t.overlay[ref.Path] = overlayEntry{value: value, deleted: deleted}
	t.writes = append(t.writes, write)
}
