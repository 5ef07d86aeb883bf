package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

// CartServiceDeps wires the server side of cart reconciliation.
type CartServiceDeps struct {
	UnitOfWork      repositories.UnitOfWork
	Carts           repositories.CartRepository
	Catalog         repositories.CatalogRepository
	Outbox          repositories.OutboxRepository
	Relay           EventRelay
	MaxLineQuantity int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          Logger
}

// CartService applies client cart mutations in per-client sequence order.
type CartService struct {
	uow     repositories.UnitOfWork
	carts   repositories.CartRepository
	catalog repositories.CatalogRepository
	outbox  repositories.OutboxRepository
	relay   EventRelay
	maxQty  int
	now     func() time.Time
	newID   func() string
	logger  Logger
}

// NewCartService validates dependencies.
func NewCartService(deps CartServiceDeps) (*CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	maxQty := deps.MaxLineQuantity
	if maxQty <= 0 {
		maxQty = defaultMaxLineQuantity
	}
	return &CartService{
		uow:     unitOrNoop(deps.UnitOfWork),
		carts:   deps.Carts,
		catalog: deps.Catalog,
		outbox:  deps.Outbox,
		relay:   relayOrNop(deps.Relay),
		maxQty:  maxQty,
		now:     utcClock(deps.Clock),
		newID:   idGeneratorOrDefault(deps.IDGenerator),
		logger:  loggerOrNop(deps.Logger),
	}, nil
}

// GetCart returns the buyer's cart; a buyer without one gets an empty cart at version 0.
func (s *CartService) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return domain.Cart{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}
	return s.load(ctx, buyerID)
}

func (s *CartService) load(ctx context.Context, buyerID string) (domain.Cart, error) {
	cart, err := s.carts.Get(ctx, buyerID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.Cart{BuyerID: buyerID, AppliedSeq: map[string]int64{}}, nil
		}
		return domain.Cart{}, mapRepositoryError(err, nil, ErrCartConflict)
	}
	if cart.AppliedSeq == nil {
		cart.AppliedSeq = map[string]int64{}
	}
	return cart, nil
}

// MutationResult is the cart after a mutation. Applied is false for a replayed mutation.
type MutationResult struct {
	Cart    domain.Cart
	Applied bool
}

// ApplyMutation applies the mutation unless its sequence was already applied for the client, in
// which case the current cart is acknowledged unchanged.
func (s *CartService) ApplyMutation(ctx context.Context, mutation domain.CartMutation) (MutationResult, error) {
	if err := validateMutation(mutation); err != nil {
		return MutationResult{}, err
	}
	if mutation.Op == domain.CartOpAdd {
		if err := s.checkCatalog(ctx, mutation.Line); err != nil {
			return MutationResult{}, err
		}
	}

	var result MutationResult
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.load(txCtx, mutation.BuyerID)
		if err != nil {
			return err
		}
		if mutation.Sequence <= cart.AppliedSeq[mutation.ClientID] {
			result = MutationResult{Cart: cart}
			return nil
		}
		lines, err := s.apply(cart.Lines, mutation)
		if err != nil {
			return err
		}
		now := s.now()
		cart.Lines = lines
		cart.Version++
		cart.AppliedSeq = maps.Clone(cart.AppliedSeq)
		cart.AppliedSeq[mutation.ClientID] = mutation.Sequence
		cart.LastMutation = &domain.CartMutationRef{
			ClientID:   mutation.ClientID,
			MutationID: mutation.MutationID,
			Sequence:   mutation.Sequence,
		}
		cart.UpdatedAt = now
		if err := s.carts.Save(txCtx, cart); err != nil {
			return mapRepositoryError(err, nil, ErrCartConflict)
		}
		if s.outbox != nil {
			if err := s.outbox.Append(txCtx, domain.OutboxEvent{
				ID:      eventIDPrefix + s.newID(),
				Type:    domain.EventCartUpdated,
				BuyerID: cart.BuyerID,
				Payload: map[string]any{
					"cartVersion":      cart.Version,
					"clientId":         mutation.ClientID,
					"originMutationId": mutation.MutationID,
					"sequence":         mutation.Sequence,
					"updatedAt":        now.Format(time.RFC3339Nano),
				},
				OccurredAt: now,
			}); err != nil {
				return mapRepositoryError(err, nil, ErrCartConflict)
			}
		}
		result = MutationResult{Cart: cart, Applied: true}
		return nil
	})
	if err != nil {
		return MutationResult{}, err
	}
	if result.Applied {
		s.logger(ctx, "cart.mutated", map[string]any{
			"buyer_id":    mutation.BuyerID,
			"client_id":   mutation.ClientID,
			"mutation_id": mutation.MutationID,
			"op":          string(mutation.Op),
			"version":     result.Cart.Version,
		})
		s.relay.RelayPending(ctx)
	}
	return result, nil
}

func validateMutation(m domain.CartMutation) error {
	switch {
	case strings.TrimSpace(m.BuyerID) == "":
		return fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	case strings.TrimSpace(m.ClientID) == "" || strings.TrimSpace(m.MutationID) == "":
		return fmt.Errorf("%w: client and mutation ids are required", ErrCartInvalidInput)
	case m.Sequence <= 0:
		return fmt.Errorf("%w: sequence must be positive", ErrCartInvalidInput)
	}
	switch m.Op {
	case domain.CartOpClear:
		return nil
	case domain.CartOpAdd, domain.CartOpRemove, domain.CartOpSetQuantity:
		if strings.TrimSpace(m.Line.ItemID) == "" {
			return fmt.Errorf("%w: item id is required", ErrCartInvalidInput)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown operation %q", ErrCartInvalidInput, m.Op)
}

func (s *CartService) checkCatalog(ctx context.Context, line domain.CartLine) error {
	if s.catalog == nil {
		return nil
	}
	items, err := s.catalog.FindItems(ctx, []string{line.ItemID})
	if err != nil {
		return mapRepositoryError(err, nil, nil)
	}
	item, ok := items[line.ItemID]
	if !ok || !item.Active {
		return fmt.Errorf("%w: %s", ErrCheckoutItemUnavailable, line.ItemID)
	}
	for _, addOn := range line.AddOns {
		if _, ok := item.AddOns[addOn.ID]; !ok {
			return fmt.Errorf("%w: add-on %s not offered", ErrCartInvalidInput, addOn.ID)
		}
	}
	return nil
}

func (s *CartService) apply(lines []domain.CartLine, m domain.CartMutation) ([]domain.CartLine, error) {
	out := slices.Clone(lines)
	idx := slices.IndexFunc(out, func(l domain.CartLine) bool { return l.StockKey() == m.Line.StockKey() })
	switch m.Op {
	case domain.CartOpClear:
		return nil, nil
	case domain.CartOpRemove:
		if idx < 0 {
			return out, nil
		}
		return slices.Delete(out, idx, idx+1), nil
	case domain.CartOpAdd:
		qty := m.Line.Quantity
		if qty <= 0 {
			qty = 1
		}
		if idx >= 0 {
			qty += out[idx].Quantity
		}
		if qty > s.maxQty {
			return nil, fmt.Errorf("%w: quantity %d exceeds %d", ErrCartInvalidInput, qty, s.maxQty)
		}
		line := m.Line
		line.Quantity = qty
		if idx >= 0 {
			out[idx] = line
			return out, nil
		}
		return append(out, line), nil
	case domain.CartOpSetQuantity:
		if idx < 0 {
			return nil, fmt.Errorf("%w: item %s is not in the cart", ErrCartInvalidInput, m.Line.ItemID)
		}
		if m.Line.Quantity <= 0 {
			return slices.Delete(out, idx, idx+1), nil
		}
		if m.Line.Quantity > s.maxQty {
			return nil, fmt.Errorf("%w: quantity %d exceeds %d", ErrCartInvalidInput, m.Line.Quantity, s.maxQty)
		}
		out[idx].Quantity = m.Line.Quantity
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", ErrCartInvalidInput, m.Op)
}
