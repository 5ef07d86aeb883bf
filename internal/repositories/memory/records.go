package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type previewRepo struct{ store *Store }

func previewKey(orderID, previewID string) string { return orderID + "/" + previewID }

func (r previewRepo) Insert(ctx context.Context, preview domain.PreviewSubmission) error {
	return r.store.with(ctx, func(st *state) error {
		key := previewKey(preview.OrderID, preview.ID)
		if _, exists := st.previews[key]; exists {
			return repositories.Conflict("previews.insert", "preview %s already exists", preview.ID)
		}
		st.previews[key] = preview
		return nil
	})
}

func (r previewRepo) Update(ctx context.Context, preview domain.PreviewSubmission) error {
	return r.store.with(ctx, func(st *state) error {
		key := previewKey(preview.OrderID, preview.ID)
		if _, exists := st.previews[key]; !exists {
			return repositories.NotFound("previews.update", "preview %s not found", preview.ID)
		}
		st.previews[key] = preview
		return nil
	})
}

func (r previewRepo) FindByID(ctx context.Context, orderID, previewID string) (domain.PreviewSubmission, error) {
	var out domain.PreviewSubmission
	err := r.store.with(ctx, func(st *state) error {
		preview, ok := st.previews[previewKey(orderID, previewID)]
		if !ok {
			return repositories.NotFound("previews.get", "preview %s not found on order %s", previewID, orderID)
		}
		out = preview
		return nil
	})
	return out, err
}

func (r previewRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.PreviewSubmission, error) {
	var out []domain.PreviewSubmission
	err := r.store.with(ctx, func(st *state) error {
		for _, preview := range st.previews {
			if preview.OrderID == orderID {
				out = append(out, preview)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, err
}

type historyRepo struct{ store *Store }

func (r historyRepo) Append(ctx context.Context, entry domain.OrderStatusHistory) error {
	return r.store.with(ctx, func(st *state) error {
		// History slices are replaced rather than appended in place so snapshots stay intact.
		current := st.history[entry.OrderID]
		next := make([]domain.OrderStatusHistory, len(current), len(current)+1)
		copy(next, current)
		st.history[entry.OrderID] = append(next, cloneHistory(entry))
		return nil
	})
}

func (r historyRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	var out []domain.OrderStatusHistory
	err := r.store.with(ctx, func(st *state) error {
		for _, entry := range st.history[orderID] {
			out = append(out, cloneHistory(entry))
		}
		return nil
	})
	return out, err
}

type outboxRepo struct{ store *Store }

func (r outboxRepo) Append(ctx context.Context, event domain.OutboxEvent) error {
	return r.store.with(ctx, func(st *state) error {
		if _, exists := st.outbox[event.ID]; exists {
			return repositories.Conflict("outbox.append", "event %s already exists", event.ID)
		}
		st.outbox[event.ID] = cloneEvent(event)
		st.outboxOrder = append(st.outboxOrder[:len(st.outboxOrder):len(st.outboxOrder)], event.ID)
		return nil
	})
}

func (r outboxRepo) ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	err := r.store.with(ctx, func(st *state) error {
		for _, id := range st.outboxOrder {
			event, ok := st.outbox[id]
			if !ok || event.PublishedAt != nil {
				continue
			}
			out = append(out, cloneEvent(event))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r outboxRepo) MarkPublished(ctx context.Context, eventIDs []string, at time.Time) error {
	return r.store.with(ctx, func(st *state) error {
		for _, id := range eventIDs {
			event, ok := st.outbox[id]
			if !ok {
				continue
			}
			published := at
			event.PublishedAt = &published
			st.outbox[id] = event
		}
		return nil
	})
}

func (r outboxRepo) RecordAttempt(ctx context.Context, eventID string) error {
	return r.store.with(ctx, func(st *state) error {
		event, ok := st.outbox[eventID]
		if !ok {
			return repositories.NotFound("outbox.attempt", "event %s not found", eventID)
		}
		event.Attempts++
		st.outbox[eventID] = event
		return nil
	})
}

type cartRepo struct{ store *Store }

func (r cartRepo) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	var out domain.Cart
	err := r.store.with(ctx, func(st *state) error {
		cart, ok := st.carts[buyerID]
		if !ok {
			return repositories.NotFound("carts.get", "cart for %s not found", buyerID)
		}
		out = cloneCart(cart)
		return nil
	})
	return out, err
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	return r.store.with(ctx, func(st *state) error {
		if current, ok := st.carts[cart.BuyerID]; ok && current.Version > cart.Version {
			return repositories.Conflict("carts.save", "cart version %d is older than stored %d", cart.Version, current.Version)
		}
		st.carts[cart.BuyerID] = cloneCart(cart)
		return nil
	})
}

type catalogRepo struct{ store *Store }

func (r catalogRepo) FindItems(ctx context.Context, itemIDs []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(itemIDs))
	err := r.store.with(ctx, func(st *state) error {
		for _, id := range itemIDs {
			if item, ok := st.catalog[id]; ok {
				out[id] = cloneCatalogItem(item)
			}
		}
		return nil
	})
	return out, err
}

func (r catalogRepo) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return repositories.Conflict("catalog.upsert", "item id is required")
	}
	return r.store.with(ctx, func(st *state) error {
		st.catalog[item.ID] = cloneCatalogItem(item)
		return nil
	})
}

type couponRepo struct{ store *Store }

func normaliseCode(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var out domain.Coupon
	err := r.store.with(ctx, func(st *state) error {
		coupon, ok := st.coupons[normaliseCode(code)]
		if !ok {
			return repositories.NotFound("coupons.get", "coupon %s not found", code)
		}
		out = coupon
		return nil
	})
	return out, err
}

type addressRepo struct{ store *Store }

func addressKey(buyerID, addressID string) string { return buyerID + "/" + addressID }

func (r addressRepo) FindByID(ctx context.Context, buyerID, addressID string) (domain.Address, error) {
	var out domain.Address
	err := r.store.with(ctx, func(st *state) error {
		address, ok := st.addresses[addressKey(buyerID, addressID)]
		if !ok {
			return repositories.NotFound("addresses.get", "address %s not found", addressID)
		}
		out = address
		return nil
	})
	return out, err
}

type sellerRepo struct{ store *Store }

func (r sellerRepo) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	var out domain.Seller
	err := r.store.with(ctx, func(st *state) error {
		seller, ok := st.sellers[sellerID]
		if !ok {
			return repositories.NotFound("sellers.get", "seller %s not found", sellerID)
		}
		out = seller
		return nil
	})
	return out, err
}

// walletRepo stores debits with a negative amount so Reverse can undo either direction. A reversed
// entry is applied again when its reference is reused.
type walletRepo struct{ store *Store }

func (r walletRepo) Balance(ctx context.Context, buyerID string) (int64, error) {
	var balance int64
	err := r.store.with(ctx, func(st *state) error {
		balance = st.balances[buyerID]
		return nil
	})
	return balance, err
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
	err := r.store.with(ctx, func(st *state) error {
		if existing, ok := st.walletEntries[entry.Reference]; ok {
			if existing.BuyerID != entry.BuyerID {
				return repositories.Conflict("wallets.apply", "reference %s belongs to another buyer", entry.Reference)
			}
			if !existing.Reversed {
				out = existing
				return nil
			}
		}
		delta := sign * entry.Amount
		if st.balances[entry.BuyerID]+delta < 0 {
			return fmt.Errorf("%w: balance %d, debit %d", repositories.ErrInsufficientWallet, st.balances[entry.BuyerID], entry.Amount)
		}
		st.balances[entry.BuyerID] += delta
		entry.Amount = delta
		st.walletEntries[entry.Reference] = entry
		out = entry
		return nil
	})
	return out, err
}

func (r walletRepo) Reverse(ctx context.Context, reference string) error {
	return r.store.with(ctx, func(st *state) error {
		entry, ok := st.walletEntries[reference]
		if !ok || entry.Reversed {
			return nil
		}
		st.balances[entry.BuyerID] -= entry.Amount
		entry.Reversed = true
		st.walletEntries[reference] = entry
		return nil
	})
}

type counterRepo struct{ store *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	var value int64
	err := r.store.with(ctx, func(st *state) error {
		st.counters[counterID] += step
		value = st.counters[counterID]
		return nil
	})
	return value, err
}
