package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	countersCollection      = "counters"
	walletsCollection       = "wallets"
	walletEntriesCollection = "walletEntries"
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.Conflict("counters.next", "counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	var next int64
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, _, err := r.counters.Get(ctx, id)
		if err != nil {
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = r.now().UTC()
		next = doc.CurrentValue
		return r.counters.Set(ctx, id, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

type walletDocument struct {
	Balance   int64     `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type walletEntryDocument struct {
	BuyerID   string    `firestore:"buyerId"`
	Amount    int64     `firestore:"amount"`
	Reversed  bool      `firestore:"reversed"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// WalletRepository keeps a balance document per buyer and one entry per reference. Debits are
// stored as negative amounts.
type WalletRepository struct {
	provider *pfirestore.Provider
	wallets  *pfirestore.Collection[walletDocument]
	entries  *pfirestore.Collection[walletEntryDocument]
}

var _ repositories.WalletRepository = (*WalletRepository)(nil)

// NewWalletRepository constructs the Firestore wallet ledger.
func NewWalletRepository(provider *pfirestore.Provider) (*WalletRepository, error) {
	if provider == nil {
		return nil, errors.New("wallet repository requires firestore provider")
	}
	return &WalletRepository{
		provider: provider,
		wallets:  pfirestore.NewCollection[walletDocument](provider, walletsCollection),
		entries:  pfirestore.NewCollection[walletEntryDocument](provider, walletEntriesCollection),
	}, nil
}

func (r *WalletRepository) Balance(ctx context.Context, buyerID string) (int64, error) {
	doc, _, err := r.wallets.Get(ctx, buyerID)
	return doc.Balance, err
}

func (r *WalletRepository) Debit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error) {
	return r.apply(ctx, entry, -1)
}

func (r *WalletRepository) Credit(ctx context.Context, entry domain.WalletEntry) (domain.WalletEntry, error) {
	return r.apply(ctx, entry, 1)
}

func (r *WalletRepository) apply(ctx context.Context, entry domain.WalletEntry, sign int64) (domain.WalletEntry, error) {
	if entry.Reference == "" || entry.Amount <= 0 {
		return domain.WalletEntry{}, repositories.Conflict("wallets.apply", "reference and positive amount are required")
	}
	var out domain.WalletEntry
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		existing, found, err := r.entries.Get(ctx, entry.Reference)
		if err != nil {
			return err
		}
		if found {
			if existing.BuyerID != entry.BuyerID {
				return repositories.Conflict("wallets.apply", "reference %s belongs to another buyer", entry.Reference)
			}
			if !existing.Reversed {
				out = domain.WalletEntry{Reference: entry.Reference, BuyerID: existing.BuyerID, Amount: existing.Amount, CreatedAt: existing.CreatedAt}
				return nil
			}
		}
		wallet, _, err := r.wallets.Get(ctx, entry.BuyerID)
		if err != nil {
			return err
		}
		delta := sign * entry.Amount
		if wallet.Balance+delta < 0 {
			return fmt.Errorf("%w: balance %d, debit %d", repositories.ErrInsufficientWallet, wallet.Balance, entry.Amount)
		}
		wallet.Balance += delta
		wallet.UpdatedAt = entry.CreatedAt.UTC()
		if err := r.wallets.Set(ctx, entry.BuyerID, wallet); err != nil {
			return err
		}
		doc := walletEntryDocument{BuyerID: entry.BuyerID, Amount: delta, CreatedAt: entry.CreatedAt.UTC()}
		if found {
			// Re-apply a reversed entry under the same reference.
			err = r.entries.Set(ctx, entry.Reference, doc)
		} else {
			err = r.entries.Create(ctx, entry.Reference, doc)
		}
		if err != nil {
			return err
		}
		entry.Amount = delta
		out = entry
		return nil
	})
	return out, err
}

func (r *WalletRepository) Reverse(ctx context.Context, reference string) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		entry, found, err := r.entries.Get(ctx, reference)
		if err != nil {
			return err
		}
		if !found || entry.Reversed {
			return nil
		}
		wallet, _, err := r.wallets.Get(ctx, entry.BuyerID)
		if err != nil {
			return err
		}
		wallet.Balance -= entry.Amount
		entry.Reversed = true
		if err := r.wallets.Set(ctx, entry.BuyerID, wallet); err != nil {
			return err
		}
		return r.entries.Set(ctx, reference, entry)
	})
}
