// Package firestore implements the repository contracts on Cloud Firestore. Multi-document
// operations run in a transaction that travels on the context, so service-level units of work and
// single repository calls share the same code path.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

// Registry wires every Firestore repository to one provider.
type Registry struct {
	provider  *pfirestore.Provider
	health    repositories.HealthRepository
	drafts    *DraftRepository
	stock     *StockRepository
	orders    *OrderRepository
	previews  *PreviewRepository
	history   *HistoryRepository
	outbox    *OutboxRepository
	carts     *CartRepository
	catalog   *CatalogRepository
	coupons   *CouponRepository
	addresses *AddressRepository
	sellers   *SellerRepository
	wallets   *WalletRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on the provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider, health: health}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var err error
	reg.drafts, err = NewDraftRepository(provider)
	collect(err)
	reg.stock, err = NewStockRepository(provider)
	collect(err)
	reg.orders, err = NewOrderRepository(provider)
	collect(err)
	reg.previews, err = NewPreviewRepository(provider)
	collect(err)
	reg.history, err = NewHistoryRepository(provider)
	collect(err)
	reg.outbox, err = NewOutboxRepository(provider)
	collect(err)
	reg.carts, err = NewCartRepository(provider)
	collect(err)
	reg.catalog, err = NewCatalogRepository(provider)
	collect(err)
	reg.coupons, err = NewCouponRepository(provider)
	collect(err)
	reg.addresses, err = NewAddressRepository(provider)
	collect(err)
	reg.sellers, err = NewSellerRepository(provider)
	collect(err)
	reg.wallets, err = NewWalletRepository(provider)
	collect(err)
	reg.counters, err = NewCounterRepository(provider)
	collect(err)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Drafts() repositories.DraftOrderRepository    { return r.drafts }
func (r *Registry) Stock() repositories.StockRepository          { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Previews() repositories.PreviewRepository     { return r.previews }
func (r *Registry) History() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) Outbox() repositories.OutboxRepository        { return r.outbox }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository      { return r.catalog }
func (r *Registry) Coupons() repositories.CouponRepository       { return r.coupons }
func (r *Registry) Addresses() repositories.AddressRepository    { return r.addresses }
func (r *Registry) Sellers() repositories.SellerRepository       { return r.sellers }
func (r *Registry) Wallets() repositories.WalletRepository       { return r.wallets }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }
