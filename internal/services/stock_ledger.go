package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	defaultReservationTTL  = 10 * time.Minute
	defaultMaxLineQuantity = 20
	defaultPurgeBatch      = 200
)

// StockLedgerDeps wires the stock ledger.
type StockLedgerDeps struct {
	Stock           repositories.StockRepository
	Clock           func() time.Time
	Logger          Logger
	ReservationTTL  time.Duration
	MaxLineQuantity int
}

// StockLedger validates and normalises stock requests before handing them to the repository,
// which performs each check-and-write atomically.
type StockLedger struct {
	stock  repositories.StockRepository
	now    func() time.Time
	logger Logger
	ttl    time.Duration
	maxQty int
}

// NewStockLedger validates dependencies.
func NewStockLedger(deps StockLedgerDeps) (*StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock ledger: stock repository is required")
	}
	ttl := deps.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	maxQty := deps.MaxLineQuantity
	if maxQty <= 0 {
		maxQty = defaultMaxLineQuantity
	}
	return &StockLedger{
		stock:  deps.Stock,
		now:    utcClock(deps.Clock),
		logger: loggerOrNop(deps.Logger),
		ttl:    ttl,
		maxQty: maxQty,
	}, nil
}

// ReservationTTL is how long a hold lives.
func (l *StockLedger) ReservationTTL() time.Duration { return l.ttl }

// ReserveCommand holds stock for a gateway order.
type ReserveCommand struct {
	BuyerID        string
	GatewayOrderID string
	DraftID        string
	Lines          []domain.StockLine
}

// PromoteCommand commits a gateway order's holds. Lines re-check availability if a hold lapsed.
type PromoteCommand struct {
	BuyerID        string
	GatewayOrderID string
	Lines          []domain.StockLine
}

// NormalizeLines aggregates, sorts and bounds the requested quantities.
func (l *StockLedger) NormalizeLines(lines []domain.StockLine) ([]domain.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", ErrStockInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.Key.ItemID) == "" {
			return nil, fmt.Errorf("%w: line without item", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, line.Key)
		}
	}
	normalised := domain.NormalizeStockLines(lines)
	for _, line := range normalised {
		if line.Quantity > l.maxQty {
			return nil, fmt.Errorf("%w: quantity %d for %s exceeds %d", ErrStockInvalidInput, line.Quantity, line.Key, l.maxQty)
		}
	}
	return normalised, nil
}

// Available returns the stock level for the key as seen by the buyer: the buyer's own live holds
// are not counted against them.
func (l *StockLedger) Available(ctx context.Context, key domain.StockKey, excludingBuyer string) (domain.StockLevel, error) {
	if strings.TrimSpace(key.ItemID) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: item id is required", ErrStockInvalidInput)
	}
	now := l.now()
	level, err := l.stock.Get(ctx, key, now)
	if err != nil {
		return domain.StockLevel{}, mapRepositoryError(err, nil, nil)
	}
	if excludingBuyer != "" {
		available, err := l.stock.Available(ctx, key, excludingBuyer, now)
		if err != nil {
			return domain.StockLevel{}, mapRepositoryError(err, nil, nil)
		}
		level.Available = available
	}
	return level, nil
}

// Reserve places time-boxed holds for every line or none. A shortfall returns an error matching
// both ErrCheckoutInsufficientStock and *repositories.InsufficientStockError.
func (l *StockLedger) Reserve(ctx context.Context, cmd ReserveCommand) ([]domain.StockReservation, error) {
	if strings.TrimSpace(cmd.BuyerID) == "" || strings.TrimSpace(cmd.GatewayOrderID) == "" {
		return nil, fmt.Errorf("%w: buyer and gateway order are required", ErrStockInvalidInput)
	}
	lines, err := l.NormalizeLines(cmd.Lines)
	if err != nil {
		return nil, err
	}
	now := l.now()
	reservations, err := l.stock.Reserve(ctx, repositories.ReserveRequest{
		BuyerID:        cmd.BuyerID,
		GatewayOrderID: cmd.GatewayOrderID,
		DraftID:        cmd.DraftID,
		Lines:          lines,
		Now:            now,
		ExpiresAt:      now.Add(l.ttl),
	})
	if err != nil {
		return nil, l.stockError(ctx, "stock.reserve.failed", cmd.GatewayOrderID, err)
	}
	l.logger(ctx, "stock.reserved", map[string]any{
		"buyer_id":         cmd.BuyerID,
		"gateway_order_id": cmd.GatewayOrderID,
		"draft_id":         cmd.DraftID,
		"lines":            len(lines),
	})
	return reservations, nil
}

// Promote converts holds into committed decrements. It joins any unit of work carried by ctx.
func (l *StockLedger) Promote(ctx context.Context, cmd PromoteCommand) ([]domain.StockReservation, error) {
	lines, err := l.NormalizeLines(cmd.Lines)
	if err != nil {
		return nil, err
	}
	promoted, err := l.stock.Promote(ctx, repositories.PromoteRequest{
		BuyerID:        cmd.BuyerID,
		GatewayOrderID: cmd.GatewayOrderID,
		Lines:          lines,
		Now:            l.now(),
	})
	if err != nil {
		return nil, l.stockError(ctx, "stock.promote.failed", cmd.GatewayOrderID, err)
	}
	return promoted, nil
}

// Release drops a gateway order's holds; used to compensate a failed checkout.
func (l *StockLedger) Release(ctx context.Context, gatewayOrderID string) (int, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return 0, nil
	}
	released, err := l.stock.Release(ctx, gatewayOrderID)
	if err != nil {
		return 0, mapRepositoryError(err, nil, nil)
	}
	if released > 0 {
		l.logger(ctx, "stock.released", map[string]any{"gateway_order_id": gatewayOrderID, "count": released})
	}
	return released, nil
}

// PurgeExpired deletes lapsed holds.
func (l *StockLedger) PurgeExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatch
	}
	purged, err := l.stock.PurgeExpired(ctx, l.now(), limit)
	if err != nil {
		return 0, mapRepositoryError(err, nil, nil)
	}
	return purged, nil
}

// SetStock overwrites committed stock for a key.
func (l *StockLedger) SetStock(ctx context.Context, key domain.StockKey, onHand int) (domain.StockLevel, error) {
	if strings.TrimSpace(key.ItemID) == "" || onHand < 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: item id and non-negative quantity required", ErrStockInvalidInput)
	}
	level, err := l.stock.SetOnHand(ctx, key, onHand, l.now())
	if err != nil {
		return domain.StockLevel{}, mapRepositoryError(err, nil, nil)
	}
	l.logger(ctx, "stock.set", map[string]any{"key": key.String(), "on_hand": onHand})
	return level, nil
}

func (l *StockLedger) stockError(ctx context.Context, event, gatewayOrderID string, err error) error {
	var short *repositories.InsufficientStockError
	if errors.As(err, &short) {
		l.logger(ctx, "stock.insufficient", map[string]any{
			"gateway_order_id": gatewayOrderID,
			"key":              short.Key.String(),
			"requested":        short.Requested,
			"available":        short.Available,
		})
		return fmt.Errorf("%w: %w", ErrCheckoutInsufficientStock, err)
	}
	l.logger(ctx, event, map[string]any{"gateway_order_id": gatewayOrderID, "error": err.Error()})
	return mapRepositoryError(err, nil, nil)
}
