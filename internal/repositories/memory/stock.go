package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type stockRow struct {
	onHand    int
	updatedAt time.Time
}

type stockRepo struct{ store *Store }

func reservationID(gatewayOrderID string, key domain.StockKey) string {
	return gatewayOrderID + "/" + key.String()
}

// heldBy sums live reservations for key, skipping those owned by excludingBuyer and those
// belonging to skipGatewayOrder.
func heldBy(st *state, key domain.StockKey, excludingBuyer, skipGatewayOrder string, now time.Time) int {
	total := 0
	for _, res := range st.reservations {
		if res.Key != key || !res.Live(now) {
			continue
		}
		if excludingBuyer != "" && res.BuyerID == excludingBuyer {
			continue
		}
		if skipGatewayOrder != "" && res.GatewayOrderID == skipGatewayOrder {
			continue
		}
		total += res.Quantity
	}
	return total
}

func (r stockRepo) Get(ctx context.Context, key domain.StockKey, now time.Time) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := r.store.with(ctx, func(st *state) error {
		row, ok := st.stock[key]
		if !ok {
			return repositories.NotFound("stock.get", "stock %s not found", key)
		}
		reserved := heldBy(st, key, "", "", now)
		level = domain.StockLevel{
			Key:       key,
			OnHand:    row.onHand,
			Reserved:  reserved,
			Available: row.onHand - reserved,
			UpdatedAt: row.updatedAt,
		}
		return nil
	})
	return level, err
}

func (r stockRepo) Available(ctx context.Context, key domain.StockKey, excludingBuyer string, now time.Time) (int, error) {
	var available int
	err := r.store.with(ctx, func(st *state) error {
		row, ok := st.stock[key]
		if !ok {
			available = 0
			return nil
		}
		available = row.onHand - heldBy(st, key, excludingBuyer, "", now)
		return nil
	})
	return available, err
}

func (r stockRepo) Reserve(ctx context.Context, req repositories.ReserveRequest) ([]domain.StockReservation, error) {
	var out []domain.StockReservation
	err := r.store.with(ctx, func(st *state) error {
		for _, line := range req.Lines {
			row := st.stock[line.Key]
			available := row.onHand - heldBy(st, line.Key, req.BuyerID, req.GatewayOrderID, req.Now)
			if line.Quantity > available {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(available, 0)}
			}
		}

		for _, line := range req.Lines {
			for id, res := range st.reservations {
				if res.BuyerID == req.BuyerID && res.Key == line.Key && res.GatewayOrderID != req.GatewayOrderID {
					delete(st.reservations, id)
				}
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
			st.reservations[res.ID] = res
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r stockRepo) Promote(ctx context.Context, req repositories.PromoteRequest) ([]domain.StockReservation, error) {
	var promoted []domain.StockReservation
	err := r.store.with(ctx, func(st *state) error {
		decrements := make(map[domain.StockKey]int, len(req.Lines))
		for _, line := range req.Lines {
			row := st.stock[line.Key]
			res, held := st.reservations[reservationID(req.GatewayOrderID, line.Key)]
			live := held && res.Live(req.Now) && res.Quantity >= line.Quantity
			limit := row.onHand
			if !live {
				limit = row.onHand - heldBy(st, line.Key, req.BuyerID, req.GatewayOrderID, req.Now)
			}
			if line.Quantity > limit {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(limit, 0)}
			}
			decrements[line.Key] = line.Quantity
		}

		for _, line := range req.Lines {
			row := st.stock[line.Key]
			row.onHand -= decrements[line.Key]
			row.updatedAt = req.Now
			st.stock[line.Key] = row

			id := reservationID(req.GatewayOrderID, line.Key)
			res, held := st.reservations[id]
			if !held {
				res = domain.StockReservation{ID: id, BuyerID: req.BuyerID, GatewayOrderID: req.GatewayOrderID, Key: line.Key}
			}
			res.Quantity = line.Quantity
			delete(st.reservations, id)
			promoted = append(promoted, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (r stockRepo) Release(ctx context.Context, gatewayOrderID string) (int, error) {
	released := 0
	err := r.store.with(ctx, func(st *state) error {
		for id, res := range st.reservations {
			if res.GatewayOrderID == gatewayOrderID {
				delete(st.reservations, id)
				released++
			}
		}
		return nil
	})
	return released, err
}

func (r stockRepo) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	purged := 0
	err := r.store.with(ctx, func(st *state) error {
		ids := make([]string, 0)
		for id, res := range st.reservations {
			if !res.Live(now) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			if limit > 0 && purged >= limit {
				break
			}
			delete(st.reservations, id)
			purged++
		}
		return nil
	})
	return purged, err
}

func (r stockRepo) SetOnHand(ctx context.Context, key domain.StockKey, onHand int, now time.Time) (domain.StockLevel, error) {
	if strings.TrimSpace(key.ItemID) == "" {
		return domain.StockLevel{}, repositories.Conflict("stock.set", "item id is required")
	}
	err := r.store.with(ctx, func(st *state) error {
		st.stock[key] = stockRow{onHand: onHand, updatedAt: now}
		return nil
	})
	if err != nil {
		return domain.StockLevel{}, err
	}
	return r.Get(ctx, key, now)
}
