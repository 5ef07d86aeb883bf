package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const cartsCollection = "carts"

type cartMutationDocument struct {
	ClientID   string `firestore:"clientId"`
	MutationID string `firestore:"mutationId"`
	Sequence   int64  `firestore:"sequence"`
}

type cartDocument struct {
	Lines        []cartLineDocument    `firestore:"lines"`
	Version      int64                 `firestore:"version"`
	AppliedSeq   map[string]int64      `firestore:"appliedSeq,omitempty"`
	LastMutation *cartMutationDocument `firestore:"lastMutation,omitempty"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

// CartRepository stores one cart document per buyer.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs the Firestore cart store.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider, carts: pfirestore.NewCollection[cartDocument](provider, cartsCollection)}, nil
}

func (r *CartRepository) Get(ctx context.Context, buyerID string) (domain.Cart, error) {
	doc, found, err := r.carts.Get(ctx, buyerID)
	if err != nil {
		return domain.Cart{}, err
	}
	if !found {
		return domain.Cart{}, repositories.NotFound("carts.get", "cart for %s not found", buyerID)
	}
	cart := domain.Cart{
		BuyerID:    buyerID,
		Lines:      linesFromDocuments(doc.Lines),
		Version:    doc.Version,
		AppliedSeq: doc.AppliedSeq,
		UpdatedAt:  doc.UpdatedAt,
	}
	if doc.LastMutation != nil {
		cart.LastMutation = &domain.CartMutationRef{
			ClientID:   doc.LastMutation.ClientID,
			MutationID: doc.LastMutation.MutationID,
			Sequence:   doc.LastMutation.Sequence,
		}
	}
	return cart, nil
}

func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, found, err := r.carts.Get(ctx, cart.BuyerID)
		if err != nil {
			return err
		}
		if found && current.Version > cart.Version {
			return repositories.Conflict("carts.save", "cart version %d is older than stored %d", cart.Version, current.Version)
		}
		doc := cartDocument{
			Lines:      linesToDocuments(cart.Lines),
			Version:    cart.Version,
			AppliedSeq: cart.AppliedSeq,
			UpdatedAt:  cart.UpdatedAt.UTC(),
		}
		if ref := cart.LastMutation; ref != nil {
			doc.LastMutation = &cartMutationDocument{ClientID: ref.ClientID, MutationID: ref.MutationID, Sequence: ref.Sequence}
		}
		return r.carts.Set(ctx, cart.BuyerID, doc)
	})
}
