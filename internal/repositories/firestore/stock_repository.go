package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	stockCollection             = "stock"
	stockReservationsCollection = "stockReservations"
)

// stockDocument is written on every reservation against the key, so concurrent reservers for the
// same key contend on it and Firestore serialises them.
type stockDocument struct {
	ItemID    string    `firestore:"itemId"`
	VariantID string    `firestore:"variantId,omitempty"`
	OnHand    int       `firestore:"onHand"`
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type reservationDocument struct {
	BuyerID        string    `firestore:"buyerId"`
	GatewayOrderID string    `firestore:"gatewayOrderId"`
	DraftID        string    `firestore:"draftId,omitempty"`
	StockKey       string    `firestore:"stockKey"`
	ItemID         string    `firestore:"itemId"`
	VariantID      string    `firestore:"variantId,omitempty"`
	Quantity       int       `firestore:"qty"`
	ExpiresAt      time.Time `firestore:"expiresAt"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func (d reservationDocument) toDomain(id string) domain.StockReservation {
	return domain.StockReservation{
		ID:             id,
		BuyerID:        d.BuyerID,
		GatewayOrderID: d.GatewayOrderID,
		DraftID:        d.DraftID,
		Key:            domain.StockKey{ItemID: d.ItemID, VariantID: d.VariantID},
		Quantity:       d.Quantity,
		ExpiresAt:      d.ExpiresAt,
		CreatedAt:      d.CreatedAt,
	}
}

// StockRepository implements the stock ledger on Firestore. Every operation runs inside a
// transaction, joining the caller's unit of work when one is open.
type StockRepository struct {
	provider     *pfirestore.Provider
	stocks       *pfirestore.Collection[stockDocument]
	reservations *pfirestore.Collection[reservationDocument]
}

var _ repositories.StockRepository = (*StockRepository)(nil)

// NewStockRepository constructs the Firestore stock ledger.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:     provider,
		stocks:       pfirestore.NewCollection[stockDocument](provider, stockCollection),
		reservations: pfirestore.NewCollection[reservationDocument](provider, stockReservationsCollection),
	}, nil
}

func stockDocID(key domain.StockKey) string {
	return strings.ReplaceAll(key.String(), "/", "_")
}

func reservationDocID(gatewayOrderID string, key domain.StockKey) string {
	return strings.ReplaceAll(gatewayOrderID, "/", "_") + "__" + stockDocID(key)
}

type keyedReservation struct {
	id  string
	doc reservationDocument
}

func (r *StockRepository) reservationsFor(ctx context.Context, key domain.StockKey) ([]keyedReservation, error) {
	ids, docs, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("stockKey", "==", key.String())
	})
	if err != nil {
		return nil, err
	}
	out := make([]keyedReservation, len(ids))
	for i := range ids {
		out[i] = keyedReservation{id: ids[i], doc: docs[i]}
	}
	return out, nil
}

func heldBy(reservations []keyedReservation, excludingBuyer, skipGatewayOrder string, now time.Time) int {
	total := 0
	for _, res := range reservations {
		if !now.Before(res.doc.ExpiresAt) {
			continue
		}
		if excludingBuyer != "" && res.doc.BuyerID == excludingBuyer {
			continue
		}
		if skipGatewayOrder != "" && res.doc.GatewayOrderID == skipGatewayOrder {
			continue
		}
		total += res.doc.Quantity
	}
	return total
}

func (r *StockRepository) Get(ctx context.Context, key domain.StockKey, now time.Time) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, found, err := r.stocks.Get(ctx, stockDocID(key))
		if err != nil {
			return err
		}
		if !found {
			return repositories.NotFound("stock.get", "stock %s not found", key)
		}
		held, err := r.reservationsFor(ctx, key)
		if err != nil {
			return err
		}
		reserved := heldBy(held, "", "", now)
		level = domain.StockLevel{Key: key, OnHand: doc.OnHand, Reserved: reserved, Available: doc.OnHand - reserved, UpdatedAt: doc.UpdatedAt}
		return nil
	})
	return level, err
}

func (r *StockRepository) Available(ctx context.Context, key domain.StockKey, excludingBuyer string, now time.Time) (int, error) {
	doc, found, err := r.stocks.Get(ctx, stockDocID(key))
	if err != nil || !found {
		return 0, err
	}
	held, err := r.reservationsFor(ctx, key)
	if err != nil {
		return 0, err
	}
	return doc.OnHand - heldBy(held, excludingBuyer, "", now), nil
}

func (r *StockRepository) Reserve(ctx context.Context, req repositories.ReserveRequest) ([]domain.StockReservation, error) {
	var out []domain.StockReservation
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		out = out[:0]
		stocks := make(map[domain.StockKey]stockDocument, len(req.Lines))
		held := make(map[domain.StockKey][]keyedReservation, len(req.Lines))
		for _, line := range req.Lines {
			doc, _, err := r.stocks.Get(ctx, stockDocID(line.Key))
			if err != nil {
				return err
			}
			existing, err := r.reservationsFor(ctx, line.Key)
			if err != nil {
				return err
			}
			available := doc.OnHand - heldBy(existing, req.BuyerID, req.GatewayOrderID, req.Now)
			if line.Quantity > available {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(available, 0)}
			}
			stocks[line.Key] = doc
			held[line.Key] = existing
		}

		for _, line := range req.Lines {
			for _, res := range held[line.Key] {
				if res.doc.BuyerID == req.BuyerID && res.doc.GatewayOrderID != req.GatewayOrderID {
					if err := r.reservations.Delete(ctx, res.id); err != nil {
						return err
					}
				}
			}
			stock := stocks[line.Key]
			stock.ItemID, stock.VariantID = line.Key.ItemID, line.Key.VariantID
			stock.Version++
			if err := r.stocks.Set(ctx, stockDocID(line.Key), stock); err != nil {
				return err
			}

			id := reservationDocID(req.GatewayOrderID, line.Key)
			doc := reservationDocument{
				BuyerID:        req.BuyerID,
				GatewayOrderID: req.GatewayOrderID,
				DraftID:        req.DraftID,
				StockKey:       line.Key.String(),
				ItemID:         line.Key.ItemID,
				VariantID:      line.Key.VariantID,
				Quantity:       line.Quantity,
				ExpiresAt:      req.ExpiresAt.UTC(),
				CreatedAt:      req.Now.UTC(),
			}
			if err := r.reservations.Set(ctx, id, doc); err != nil {
				return err
			}
			out = append(out, doc.toDomain(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StockRepository) Promote(ctx context.Context, req repositories.PromoteRequest) ([]domain.StockReservation, error) {
	var promoted []domain.StockReservation
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		promoted = promoted[:0]
		type plan struct {
			stock stockDocument
			resID string
			res   reservationDocument
			held  bool
		}
		plans := make([]plan, len(req.Lines))
		for i, line := range req.Lines {
			stock, _, err := r.stocks.Get(ctx, stockDocID(line.Key))
			if err != nil {
				return err
			}
			existing, err := r.reservationsFor(ctx, line.Key)
			if err != nil {
				return err
			}
			resID := reservationDocID(req.GatewayOrderID, line.Key)
			p := plan{stock: stock, resID: resID}
			for _, res := range existing {
				if res.id == resID {
					p.res, p.held = res.doc, true
				}
			}
			live := p.held && req.Now.Before(p.res.ExpiresAt) && p.res.Quantity >= line.Quantity
			limit := stock.OnHand
			if !live {
				limit = stock.OnHand - heldBy(existing, req.BuyerID, req.GatewayOrderID, req.Now)
			}
			if line.Quantity > limit {
				return &repositories.InsufficientStockError{Key: line.Key, Requested: line.Quantity, Available: max(limit, 0)}
			}
			plans[i] = p
		}

		for i, line := range req.Lines {
			p := plans[i]
			p.stock.ItemID, p.stock.VariantID = line.Key.ItemID, line.Key.VariantID
			p.stock.OnHand -= line.Quantity
			p.stock.Version++
			p.stock.UpdatedAt = req.Now.UTC()
			if err := r.stocks.Set(ctx, stockDocID(line.Key), p.stock); err != nil {
				return err
			}
			if p.held {
				if err := r.reservations.Delete(ctx, p.resID); err != nil {
					return err
				}
			}
			res := p.res.toDomain(p.resID)
			res.BuyerID, res.GatewayOrderID, res.Key, res.Quantity = req.BuyerID, req.GatewayOrderID, line.Key, line.Quantity
			promoted = append(promoted, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (r *StockRepository) Release(ctx context.Context, gatewayOrderID string) (int, error) {
	released := 0
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		released = 0
		ids, _, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("gatewayOrderId", "==", gatewayOrderID)
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := r.reservations.Delete(ctx, id); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}

func (r *StockRepository) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, _, err := r.reservations.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(ids)
	purged := 0
	for _, id := range ids {
		if err := r.reservations.Delete(ctx, id); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (r *StockRepository) SetOnHand(ctx context.Context, key domain.StockKey, onHand int, now time.Time) (domain.StockLevel, error) {
	if strings.TrimSpace(key.ItemID) == "" {
		return domain.StockLevel{}, repositories.Conflict("stock.set", "item id is required")
	}
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, _, err := r.stocks.Get(ctx, stockDocID(key))
		if err != nil {
			return err
		}
		doc.ItemID, doc.VariantID = key.ItemID, key.VariantID
		doc.OnHand = onHand
		doc.Version++
		doc.UpdatedAt = now.UTC()
		return r.stocks.Set(ctx, stockDocID(key), doc)
	})
	if err != nil {
		return domain.StockLevel{}, err
	}
	return r.Get(ctx, key, now)
}
