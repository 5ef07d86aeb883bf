package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type previewRepo struct{ db db }

func (r previewRepo) Insert(ctx context.Context, preview domain.PreviewSubmission) error {
	doc, err := marshalDoc(preview)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx,
		`INSERT INTO preview_submissions (order_id, id, submitted_at, doc) VALUES ($1, $2, $3, $4)`,
		preview.OrderID, preview.ID, preview.SubmittedAt, doc)
	return mapError("previews.insert", err)
}

func (r previewRepo) Update(ctx context.Context, preview domain.PreviewSubmission) error {
	doc, err := marshalDoc(preview)
	if err != nil {
		return err
	}
	tag, err := r.db.q(ctx).Exec(ctx,
		`UPDATE preview_submissions SET doc = $3 WHERE order_id = $1 AND id = $2`,
		preview.OrderID, preview.ID, doc)
	if err != nil {
		return mapError("previews.update", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NotFound("previews.update", "preview %s not found", preview.ID)
	}
	return nil
}

func (r previewRepo) FindByID(ctx context.Context, orderID, previewID string) (domain.PreviewSubmission, error) {
	return fetchDoc[domain.PreviewSubmission](ctx, r.db.q(ctx), "previews.get",
		fmt.Sprintf("preview %s not found on order %s", previewID, orderID),
		`SELECT doc FROM preview_submissions WHERE order_id = $1 AND id = $2`, orderID, previewID)
}

func (r previewRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.PreviewSubmission, error) {
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc FROM preview_submissions WHERE order_id = $1 ORDER BY submitted_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, mapError("previews.list", err)
	}
	out, err := collectDocs[domain.PreviewSubmission](rows)
	return out, mapError("previews.list", err)
}

type historyRepo struct{ db db }

func (r historyRepo) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	doc, err := marshalDoc(entry)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx,
		`INSERT INTO order_history (id, order_id, created_at, doc) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.OrderID, entry.CreatedAt, doc)
	return mapError("history.append", err)
}

func (r historyRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	rows, err := r.db.q(ctx).Query(ctx, `SELECT doc FROM order_history WHERE order_id = $1 ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, mapError("history.list", err)
	}
	out, err := collectDocs[domain.OrderStatusHistory](rows)
	return out, mapError("history.list", err)
}

type outboxRepo struct{ db db }

func (r outboxRepo) Append(ctx context.Context, event domain.OutboxEvent) error {
	doc, err := marshalDoc(event)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx, `INSERT INTO outbox (id, attempts, doc) VALUES ($1, $2, $3)`, event.ID, event.Attempts, doc)
	return mapError("outbox.append", err)
}

func (r outboxRepo) ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc, attempts FROM outbox WHERE published_at IS NULL ORDER BY seq ASC LIMIT $1`, limit)
	if err != nil {
		return nil, mapError("outbox.pending", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OutboxEvent, error) {
		var (
			data     []byte
			attempts int
			event    domain.OutboxEvent
		)
		if err := row.Scan(&data, &attempts); err != nil {
			return event, err
		}
		if err := unmarshalDoc(data, &event); err != nil {
			return event, err
		}
		event.Attempts = attempts
		return event, nil
	})
	return out, mapError("outbox.pending", err)
}

func (r outboxRepo) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := r.db.q(ctx).Exec(ctx,
		`UPDATE outbox SET published_at = $2, doc = jsonb_set(doc, '{PublishedAt}', to_jsonb($2::timestamptz))
		 WHERE id = ANY($1) AND published_at IS NULL`, eventIDs, at)
	return mapError("outbox.publish", err)
}

func (r outboxRepo) RecordAttempt(ctx context.Context, eventID string) error {
	tag, err := r.db.q(ctx).Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, eventID)
	if err != nil {
		return mapError("outbox.attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NotFound("outbox.attempt", "event %s not found", eventID)
	}
	return nil
}

type cartRepo struct{ db db }

func (r cartRepo) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	return fetchDoc[domain.Cart](ctx, r.db.q(ctx), "carts.get", fmt.Sprintf("cart for %s not found", buyerID),
		`SELECT doc FROM carts WHERE buyer_id = $1`, buyerID)
}

// Save upserts the cart unless the stored version is newer.
func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	doc, err := marshalDoc(cart)
	if err != nil {
		return err
	}
	tag, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO carts (buyer_id, version, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (buyer_id) DO UPDATE SET version = EXCLUDED.version, doc = EXCLUDED.doc
		 WHERE carts.version <= EXCLUDED.version`,
		cart.BuyerID, cart.Version, doc)
	if err != nil {
		return mapError("carts.save", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.Conflict("carts.save", "cart version %d is older than stored", cart.Version)
	}
	return nil
}

type catalogRepo struct{ db db }

func (r catalogRepo) FindItems(ctx context.Context, itemIDs []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.q(ctx).Query(ctx, `SELECT doc FROM catalog_items WHERE id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, mapError("catalog.find", err)
	}
	items, err := collectDocs[domain.CatalogItem](rows)
	if err != nil {
		return nil, mapError("catalog.find", err)
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

func (r catalogRepo) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return repositories.Conflict("catalog.upsert", "item id is required")
	}
	doc, err := marshalDoc(item)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx,
		`INSERT INTO catalog_items (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
		item.ID, doc)
	return mapError("catalog.upsert", err)
}

type couponRepo struct{ db db }

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return fetchDoc[domain.Coupon](ctx, r.db.q(ctx), "coupons.get", fmt.Sprintf("coupon %s not found", code),
		`SELECT doc FROM coupons WHERE code = $1`, code)
}

type addressRepo struct{ db db }

func (r addressRepo) FindByID(ctx context.Context, buyerID, addressID string) (domain.Address, error) {
	return fetchDoc[domain.Address](ctx, r.db.q(ctx), "addresses.get", fmt.Sprintf("address %s not found", addressID),
		`SELECT doc FROM addresses WHERE buyer_id = $1 AND id = $2`, buyerID, addressID)
}

type sellerRepo struct{ db db }

func (r sellerRepo) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	return fetchDoc[domain.Seller](ctx, r.db.q(ctx), "sellers.get", fmt.Sprintf("seller %s not found", sellerID),
		`SELECT doc FROM sellers WHERE id = $1`, sellerID)
}

// walletRepo stores debits as negative amounts; the balance CHECK constraint backs the
// application-level overdraft check.
type walletRepo struct{ db db }

func (r walletRepo) Balance(ctx context.Context, buyerID string) (int64, error) {
	var balance int64
	err := r.db.q(ctx).QueryRow(ctx, `SELECT balance FROM wallets WHERE buyer_id = $1`, buyerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, mapError("wallets.balance", err)
}

func (r walletRepo) Debit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error) {
	return r.apply(ctx, entry, -1)
}

func (r walletRepo) Credit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error) {
	return r.apply(ctx, entry, 1)
}

func (r walletRepo) apply(ctx context.Context, entry domain.WalletEntry, sign int64) (domain.WalletEntry, error) {
	if entry.Reference == "" || entry.Amount <= 0 {
		return domain.WalletEntry{}, repositories.Conflict("wallets.apply", "reference and positive amount are required")
	}
	var out domain.WalletEntry
	err := r.db.inTx(ctx, func(ctx context.Context, q querier) error {
		if _, err := q.Exec(ctx,
			`INSERT INTO wallets (buyer_id, balance) VALUES ($1, 0) ON CONFLICT (buyer_id) DO NOTHING`, entry.BuyerID); err != nil {
			return err
		}
		var balance int64
		if err := q.QueryRow(ctx, `SELECT balance FROM wallets WHERE buyer_id = $1 FOR UPDATE`, entry.BuyerID).Scan(&balance); err != nil {
			return err
		}
		existing := domain.WalletEntry{Reference: entry.Reference}
		err := q.QueryRow(ctx,
			`SELECT buyer_id, amount, reversed, created_at FROM wallet_entries WHERE reference = $1`, entry.Reference,
		).Scan(&existing.BuyerID, &existing.Amount, &existing.Reversed, &existing.CreatedAt)
		found := err == nil
		switch {
		case found:
			if existing.BuyerID != entry.BuyerID {
				return repositories.Conflict("wallets.apply", "reference %s belongs to another buyer", entry.Reference)
			}
			if !existing.Reversed {
				out = existing
				return nil
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}
		delta := sign * entry.Amount
		if balance+delta < 0 {
			return fmt.Errorf("%w: balance %d, debit %d", repositories.ErrInsufficientWallet, balance, entry.Amount)
		}
		if _, err := q.Exec(ctx, `UPDATE wallets SET balance = balance + $2 WHERE buyer_id = $1`, entry.BuyerID, delta); err != nil {
			return err
		}
		if found {
			// A reversed entry is applied again under the same reference.
			if _, err := q.Exec(ctx,
				`UPDATE wallet_entries SET amount = $2, reversed = FALSE, created_at = $3 WHERE reference = $1`,
				entry.Reference, delta, entry.CreatedAt); err != nil {
				return err
			}
		} else if _, err := q.Exec(ctx,
			`INSERT INTO wallet_entries (reference, buyer_id, amount, created_at) VALUES ($1, $2, $3, $4)`,
			entry.Reference, entry.BuyerID, delta, entry.CreatedAt); err != nil {
			return err
		}
		entry.Amount = delta
		out = entry
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientWallet) {
			return domain.WalletEntry{}, err
		}
		return domain.WalletEntry{}, mapError("wallets.apply", err)
	}
	return out, nil
}

func (r walletRepo) Reverse(ctx context.Context, reference string) error {
	err := r.db.inTx(ctx, func(ctx context.Context, q querier) error {
		var (
			buyerID string
			amount  int64
		)
		err := q.QueryRow(ctx,
			`UPDATE wallet_entries SET reversed = TRUE WHERE reference = $1 AND NOT reversed RETURNING buyer_id, amount`,
			reference).Scan(&buyerID, &amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `UPDATE wallets SET balance = balance - $2 WHERE buyer_id = $1`, buyerID, amount)
		return err
	})
	return mapError("wallets.reverse", err)
}

type counterRepo struct{ db db }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.Conflict("counters.next", "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	var value int64
	err := r.db.q(ctx).QueryRow(ctx,
		`INSERT INTO counters (id, current_value) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET current_value = counters.current_value + EXCLUDED.current_value
		 RETURNING current_value`, id, step).Scan(&value)
	if err != nil {
		return 0, mapError("counters.next", err)
	}
	return value, nil
}
