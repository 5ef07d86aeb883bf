package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection provides typed, transaction-aware access to one Firestore collection. Every method
// joins the ambient transaction started by Provider.RunInTx when one is on the context.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get loads the document; the boolean is false when it does not exist.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		var zero T
		return zero, false, err
	}
	value, found, err := GetDoc[T](ctx, ref)
	if err != nil {
		return value, false, WrapError(c.op("get"), err)
	}
	return value, found, nil
}

// Create inserts the document and reports a conflict when the id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("create"), CreateDoc(ctx, ref, value))
}

// Set replaces the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("set"), SetDoc(ctx, ref, value))
}

// Delete removes the document.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op("delete"), DeleteDoc(ctx, ref))
}

// Query runs a query over the collection and decodes each document, returning ids alongside.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]string, []T, error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	snaps, err := QueryDocs(ctx, query)
	if err != nil {
		return nil, nil, WrapError(c.op("query"), err)
	}
	ids := make([]string, 0, len(snaps))
	values := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, nil, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
		}
		ids = append(ids, snap.Ref.ID)
		values = append(values, value)
	}
	return ids, values, nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}
