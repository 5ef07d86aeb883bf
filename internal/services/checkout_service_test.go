package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
)

func TestStartCheckoutOpensDraftAndHoldsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, testBuyer, itemMug, 2)

	session := f.startCheckout(t, testBuyer)
	require.NotEmpty(t, session.DraftID)
	require.Equal(t, "gw_1", session.GatewayOrderID)
	require.Equal(t, payments.ProviderRazorpay, session.Provider)
	require.Equal(t, "INR", session.Currency)
	require.Equal(t, session.Pricing.Total, session.Amount)
	require.False(t, session.PriceAdjusted)

	require.Len(t, f.gateway.opened, 1)
	require.Equal(t, session.DraftID, f.gateway.opened[0].Receipt)
	require.Equal(t, session.Amount, f.gateway.opened[0].Amount)

	draft, err := f.checkout.GetDraft(ctx, testBuyer, session.DraftID)
	require.NoError(t, err)
	require.Equal(t, domain.DraftStatusPending, draft.Status)
	require.Equal(t, "gw_1", draft.GatewayOrderID)
	require.Equal(t, testSeller, draft.SellerID)

	_, err = f.checkout.GetDraft(ctx, "buyer_2", session.DraftID)
	require.ErrorIs(t, err, ErrDraftNotFound)

	level := f.stock(t, itemMug)
	require.Equal(t, 3, level.OnHand)
	require.Equal(t, 2, level.Reserved)
	require.Equal(t, 1, level.Available)
}

func TestStartCheckoutRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.checkout.StartCheckout(context.Background(), StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress})
	require.ErrorIs(t, err, ErrCheckoutCartEmpty)
	require.Empty(t, f.gateway.opened)
}

func TestStartCheckoutCompensatesGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, testBuyer, itemMug, 1)
	f.gateway.openFn = func(context.Context, payments.PaymentContext, payments.OpenOrderRequest) (payments.GatewayOrder, error) {
		return payments.GatewayOrder{}, &payments.GatewayError{Provider: payments.ProviderRazorpay, Op: "open order", Temporary: true, Err: errors.New("503")}
	}

	_, err := f.checkout.StartCheckout(ctx, StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress})
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.Equal(t, NextActionRetry, Classify(err).NextAction)

	level := f.stock(t, itemMug)
	require.Zero(t, level.Reserved)
	require.Equal(t, 3, level.Available)

	f.clock.Advance(defaultDraftTTL * 2)
	expired, err := f.reg.Drafts().ListExpired(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestStartCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, testBuyer, itemMug, 4)

	_, err := f.checkout.StartCheckout(context.Background(), StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress})
	require.ErrorIs(t, err, ErrCheckoutInsufficientStock)
	require.Equal(t, FailureContention, Classify(err).Kind)
	require.Empty(t, f.gateway.opened)
}

func TestStartCheckoutPriceDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addToCart(t, testBuyer, itemMug, 1)
	quoted := f.startCheckout(t, testBuyer).Amount

	_, err := f.checkout.StartCheckout(ctx, StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress, ClientTotal: quoted / 4})
	require.ErrorIs(t, err, ErrCheckoutPriceDrift)

	session, err := f.checkout.StartCheckout(ctx, StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress, ClientTotal: quoted - 5000})
	require.NoError(t, err)
	require.True(t, session.PriceAdjusted)
	require.Equal(t, quoted, session.Amount)

	session, err = f.checkout.StartCheckout(ctx, StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress, ClientTotal: quoted - 50})
	require.NoError(t, err)
	require.False(t, session.PriceAdjusted)
}

func TestStartCheckoutRejectsMultipleSellers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.SeedSeller(domain.Seller{ID: "seller_2", Name: "Clay Co", Latitude: 12.97, Longitude: 77.59, Active: true})
	require.NoError(t, f.reg.Catalog().Upsert(ctx, domain.CatalogItem{
		ID: "item_vase", SellerID: "seller_2", Name: "Vase", Currency: "INR", Price: 30000, Active: true,
	}))
	f.addToCart(t, testBuyer, itemMug, 1)
	f.addToCart(t, testBuyer, "item_vase", 1)

	_, err := f.checkout.StartCheckout(ctx, StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress})
	require.ErrorIs(t, err, ErrCheckoutMultipleSellers)
}

func TestStartCheckoutUnknownAddress(t *testing.T) {
	f := newFixture(t)
	f.addToCart(t, testBuyer, itemMug, 1)
	_, err := f.checkout.StartCheckout(context.Background(), StartCheckoutCommand{BuyerID: testBuyer, AddressID: "addr_missing"})
	require.Error(t, err)
	require.Empty(t, f.gateway.opened)
}

func TestStartCheckoutLastUnitGoesToOneBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.SetStock(ctx, domain.StockKey{ItemID: itemMug}, 1)
	require.NoError(t, err)
	f.reg.SeedAddress(domain.Address{ID: "addr_2", BuyerID: "buyer_2", Latitude: 12.9740, Longitude: 77.5990})
	f.addToCart(t, testBuyer, itemMug, 1)
	f.addToCart(t, "buyer_2", itemMug, 1)

	commands := []StartCheckoutCommand{
		{BuyerID: testBuyer, AddressID: testAddress},
		{BuyerID: "buyer_2", AddressID: "addr_2"},
	}
	errs := make([]error, len(commands))
	var wg sync.WaitGroup
	for i, cmd := range commands {
		wg.Add(1)
		go func(i int, cmd StartCheckoutCommand) {
			defer wg.Done()
			_, errs[i] = f.checkout.StartCheckout(ctx, cmd)
		}(i, cmd)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrCheckoutInsufficientStock)
	}
	require.Equal(t, 1, succeeded)
	level := f.stock(t, itemMug)
	require.Equal(t, 1, level.Reserved)
	require.Zero(t, level.Available)
}

func TestStartCheckoutWalletOnlyKeepsMinimumCharge(t *testing.T) {
	f := newFixture(t)
	f.reg.SeedWallet(testBuyer, 1_000_000)
	f.addToCart(t, testBuyer, itemMug, 1)

	session, err := f.checkout.StartCheckout(context.Background(), StartCheckoutCommand{BuyerID: testBuyer, AddressID: testAddress, UseWallet: true})
	require.NoError(t, err)
	require.Equal(t, int64(minGatewayAmount), session.Amount)
	require.Equal(t, session.Pricing.PayableBeforeWallet()-minGatewayAmount, session.Pricing.WalletDeduction)
}
