package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type stockRepo struct{ db db }

func reservationID(gatewayOrderID string, key domain.StockKey) string {
	return gatewayOrderID + "/" + key.String()
}

// lockOnHand takes the row lock that serialises every reserve and promote on key. A missing row
// counts as zero on hand.
func lockOnHand(ctx context.Context, q querier, key domain.StockKey) (int, error) {
	var onHand int
	err := q.QueryRow(ctx,
		`SELECT on_hand FROM stock WHERE item_id = $1 AND variant_id = $2 FOR UPDATE`,
		key.ItemID, key.VariantID,
	).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return onHand, err
}

// held sums live holds on key, skipping excludingBuyer and skipGatewayOrder when set.
func held(ctx context.Context, q querier, key domain.StockKey, excludingBuyer, skipGatewayOrder string, now time.Time) (int, error) {
	var total int
	err := q.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM stock_reservations
		 WHERE item_id = $1 AND variant_id = $2 AND expires_at > $3
		   AND ($4 = '' OR buyer_id <> $4)
		   AND ($5 = '' OR gateway_order_id <> $5)`,
		key.ItemID, key.VariantID, now, excludingBuyer, skipGatewayOrder,
	).Scan(&total)
	return total, err
}

func (r stockRepo) Get(ctx context.Context, key domain.StockKey, now time.Time) (domain.StockLevel, error) {
	q := r.db.q(ctx)
	level := domain.StockLevel{Key: key}
	err := q.QueryRow(ctx,
		`SELECT on_hand, updated_at FROM stock WHERE item_id = $1 AND variant_id = $2`,
		key.ItemID, key.VariantID,
	).Scan(&level.OnHand, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLevel{}, repositories.NotFound("stock.get", "stock %s not found", key)
	}
	if err != nil {
		return domain.StockLevel{}, mapError("stock.get", err)
	}
	reserved, err := held(ctx, q, key, "", "", now)
	if err != nil {
		return domain.StockLevel{}, mapError("stock.get", err)
	}
	level.Reserved = reserved
	level.Available = level.OnHand - reserved
	return level, nil
}

func (r stockRepo) Available(ctx context.Context, key domain.StockKey, excludingBuyer string, now time.Time) (int, error) {
	q := r.db.q(ctx)
	var onHand int
	err := q.QueryRow(ctx,
		`SELECT on_hand FROM stock WHERE item_id = $1 AND variant_id = $2`,
		key.ItemID, key.VariantID,
	).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError("stock.available", err)
	}
	reserved, err := held(ctx, q, key, excludingBuyer, "", now)
	if err != nil {
		return 0, mapError("stock.available", err)
	}
	return onHand - reserved, nil
}

// Reserve locks each stock row in key order, checks availability against everyone else's live
// holds, then replaces the buyer's holds on those keys with holds for the gateway order.
func (r stockRepo) Reserve(ctx context.Context, req repositories.ReserveRequest) ([]domain.StockReservation, error) {
	var out []domain.StockReservation
	err := r.db.inTx(ctx, func(ctx context.Context, q querier) error {
		out = out[:0]
		for _, line := range req.Lines {
			onHand, err := lockOnHand(ctx, q, line.Key)
			if err != nil {
				return err
			}
			reserved, err := held(ctx, q, line.Key, req.BuyerID, req.GatewayOrderID, req.Now)
			if err != nil {
				return err
			}
			if available := onHand - reserved; line.Quantity > available {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(available, 0)}
			}
		}
		for _, line := range req.Lines {
			if _, err := q.Exec(ctx,
				`DELETE FROM stock_reservations WHERE buyer_id = $1 AND item_id = $2 AND variant_id = $3`,
				req.BuyerID, line.Key.ItemID, line.Key.VariantID,
			); err != nil {
				return err
			}
			res := domain.StockReservation{
				ID:             reservationID(req.GatewayOrderID, line.Key),
				BuyerID:        req.BuyerID,
				GatewayOrderID: req.GatewayOrderID,
				DraftID:        req.DraftID,
				Key:            line.Key,
				Quantity:       line.Quantity,
				ExpiresAt:      req.ExpiresAt,
				CreatedAt:      req.Now,
			}
			if _, err := q.Exec(ctx,
				`INSERT INTO stock_reservations (id, buyer_id, gateway_order_id, draft_id, item_id, variant_id, qty, expires_at, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (id) DO UPDATE SET qty = EXCLUDED.qty, expires_at = EXCLUDED.expires_at, draft_id = EXCLUDED.draft_id`,
				res.ID, res.BuyerID, res.GatewayOrderID, res.DraftID, res.Key.ItemID, res.Key.VariantID, res.Quantity, res.ExpiresAt, res.CreatedAt,
			); err != nil {
				return err
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("stock.reserve", err)
	}
	return out, nil
}

// Promote decrements on_hand for each line. A live hold of the gateway order covers the line on
// its own; otherwise the line must fit in what other live holds leave over.
func (r stockRepo) Promote(ctx context.Context, req repositories.PromoteRequest) ([]domain.StockReservation, error) {
	var promoted []domain.StockReservation
	err := r.db.inTx(ctx, func(ctx context.Context, q querier) error {
		promoted = promoted[:0]
		holds := make(map[domain.StockKey]domain.StockReservation, len(req.Lines))
		for _, line := range req.Lines {
			onHand, err := lockOnHand(ctx, q, line.Key)
			if err != nil {
				return err
			}
			res, found, err := findReservation(ctx, q, reservationID(req.GatewayOrderID, line.Key))
			if err != nil {
				return err
			}
			limit := onHand
			if !found || !res.Live(req.Now) || res.Quantity < line.Quantity {
				others, err := held(ctx, q, line.Key, req.BuyerID, req.GatewayOrderID, req.Now)
				if err != nil {
					return err
				}
				limit = onHand - others
			}
			if line.Quantity > limit {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(limit, 0)}
			}
			if !found {
				res = domain.StockReservation{ID: reservationID(req.GatewayOrderID, line.Key), BuyerID: req.BuyerID, GatewayOrderID: req.GatewayOrderID, Key: line.Key}
			}
			holds[line.Key] = res
		}
		for _, line := range req.Lines {
			if _, err := q.Exec(ctx,
				`UPDATE stock SET on_hand = on_hand - $3, updated_at = $4 WHERE item_id = $1 AND variant_id = $2`,
				line.Key.ItemID, line.Key.VariantID, line.Quantity, req.Now,
			); err != nil {
				return err
			}
			res := holds[line.Key]
			if _, err := q.Exec(ctx, `DELETE FROM stock_reservations WHERE id = $1`, res.ID); err != nil {
				return err
			}
			res.Quantity = line.Quantity
			promoted = append(promoted, res)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("stock.promote", err)
	}
	return promoted, nil
}

func findReservation(ctx context.Context, q querier, id string) (domain.StockReservation, bool, error) {
	var res domain.StockReservation
	err := q.QueryRow(ctx,
		`SELECT id, buyer_id, gateway_order_id, draft_id, item_id, variant_id, qty, expires_at, created_at
		 FROM stock_reservations WHERE id = $1`, id,
	).Scan(&res.ID, &res.BuyerID, &res.GatewayOrderID, &res.DraftID, &res.Key.ItemID, &res.Key.VariantID, &res.Quantity, &res.ExpiresAt, &res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockReservation{}, false, nil
	}
	if err != nil {
		return domain.StockReservation{}, false, err
	}
	return res, true, nil
}

func (r stockRepo) Release(ctx context.Context, gatewayOrderID string) (int, error) {
	tag, err := r.db.q(ctx).Exec(ctx, `DELETE FROM stock_reservations WHERE gateway_order_id = $1`, gatewayOrderID)
	if err != nil {
		return 0, mapError("stock.release", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r stockRepo) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	tag, err := r.db.q(ctx).Exec(ctx,
		`DELETE FROM stock_reservations WHERE id IN (
			SELECT id FROM stock_reservations WHERE expires_at <= $1 ORDER BY id LIMIT $2
		)`, now, limit,
	)
	if err != nil {
		return 0, mapError("stock.purge", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r stockRepo) SetOnHand(ctx context.Context, key domain.StockKey, onHand int, now time.Time) (domain.StockLevel, error) {
	if strings.TrimSpace(key.ItemID) == "" {
		return domain.StockLevel{}, repositories.Conflict("stock.set", "item id is required")
	}
	if _, err := r.db.q(ctx).Exec(ctx,
		`INSERT INTO stock (item_id, variant_id, on_hand, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (item_id, variant_id) DO UPDATE SET on_hand = EXCLUDED.on_hand, updated_at = EXCLUDED.updated_at`,
		key.ItemID, key.VariantID, onHand, now,
	); err != nil {
		return domain.StockLevel{}, mapError("stock.set", err)
	}
	return r.Get(ctx, key, now)
}
