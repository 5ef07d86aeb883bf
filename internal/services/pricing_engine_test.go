package services

import (
	"errors"
	"testing"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

func newTestPricingEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(DefaultPricingRules())
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func TestPricingEngineDeliveryFee(t *testing.T) {
	engine := newTestPricingEngine(t)
	cases := []struct {
		name     string
		unit     int64
		distance int
		want     int64
	}{
		{"within base distance", 50000, 2000, 4900},
		{"one started km beyond", 50000, 2001, 5900},
		{"three km beyond", 50000, 5000, 7900},
		{"free above threshold", 99900, 14000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := engine.Price(PriceInput{
				Lines:          []PricedLine{{ItemID: "item_1", Quantity: 1, UnitPrice: tc.unit}},
				DistanceMeters: tc.distance,
			})
			if err != nil {
				t.Fatalf("Price: %v", err)
			}
			if snap.DeliveryFee != tc.want {
				t.Fatalf("expected delivery %d, got %d", tc.want, snap.DeliveryFee)
			}
			if snap.Total != snap.Subtotal+snap.DeliveryFee {
				t.Fatalf("total %d does not add up", snap.Total)
			}
		})
	}
}

func TestPricingEngineAddOnsCouponAndWallet(t *testing.T) {
	engine := newTestPricingEngine(t)
	snap, err := engine.Price(PriceInput{
		Lines: []PricedLine{
			{ItemID: "mug", Quantity: 2, UnitPrice: 20000, AddOnPrice: 5000},
			{ItemID: "card", Quantity: 1, UnitPrice: 10000},
		},
		Coupon:         &domain.Coupon{Code: "save10", Kind: domain.CouponPercent, BasisPoints: 1000, MaxDiscount: 4000, Active: true},
		DistanceMeters: 1000,
		WalletBalance:  3000,
		UseWallet:      true,
	})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if snap.Subtotal != 60000 || snap.AddOnTotal != 10000 {
		t.Fatalf("unexpected subtotal %d add-ons %d", snap.Subtotal, snap.AddOnTotal)
	}
	if snap.Discount != 4000 || snap.CouponCode != "SAVE10" {
		t.Fatalf("expected capped discount 4000, got %d (%s)", snap.Discount, snap.CouponCode)
	}
	if snap.WalletDeduction != 3000 {
		t.Fatalf("expected wallet 3000, got %d", snap.WalletDeduction)
	}
	if want := int64(60000 + 4900 - 4000 - 3000); snap.Total != want {
		t.Fatalf("expected total %d, got %d", want, snap.Total)
	}
	if snap.PayableBeforeWallet() != 60900 {
		t.Fatalf("unexpected payable before wallet %d", snap.PayableBeforeWallet())
	}
}

func TestPricingEngineCouponBounds(t *testing.T) {
	engine := newTestPricingEngine(t)
	price := func(c domain.Coupon) domain.PricingSnapshot {
		snap, err := engine.Price(PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 1, UnitPrice: 3000}}, Coupon: &c})
		if err != nil {
			t.Fatalf("Price: %v", err)
		}
		return snap
	}
	if got := price(domain.Coupon{Code: "BIG", Kind: domain.CouponFlat, Amount: 9000, Active: true}).Discount; got != 3000 {
		t.Fatalf("flat discount must not exceed subtotal, got %d", got)
	}
	if got := price(domain.Coupon{Code: "MIN", Kind: domain.CouponFlat, Amount: 500, MinSubtotal: 5000, Active: true}).Discount; got != 0 {
		t.Fatalf("min subtotal not honoured, got %d", got)
	}
	if got := price(domain.Coupon{Code: "OFF", Kind: domain.CouponFlat, Amount: 500}).Discount; got != 0 {
		t.Fatalf("inactive coupon applied, got %d", got)
	}
}

func TestPricingEngineWalletNeverExceedsPayable(t *testing.T) {
	engine := newTestPricingEngine(t)
	snap, err := engine.Price(PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 1, UnitPrice: 1000}}, WalletBalance: 1_000_000, UseWallet: true})
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if snap.Total != 0 || snap.WalletDeduction != 5900 {
		t.Fatalf("expected wallet to cover payable exactly, got total %d wallet %d", snap.Total, snap.WalletDeduction)
	}
}

func TestPricingEngineValidation(t *testing.T) {
	engine := newTestPricingEngine(t)
	cases := []struct {
		name string
		in   PriceInput
		want error
	}{
		{"empty", PriceInput{}, ErrPricingInvalidInput},
		{"zero quantity", PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 0, UnitPrice: 1}}}, ErrPricingInvalidInput},
		{"negative price", PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 1, UnitPrice: -1}}}, ErrPricingInvalidInput},
		{"mixed currency", PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 1, UnitPrice: 1, Currency: "USD"}}}, ErrPricingInvalidInput},
		{"too far", PriceInput{Lines: []PricedLine{{ItemID: "i", Quantity: 1, UnitPrice: 1}}, DistanceMeters: 15001}, ErrPricingOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Price(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCheckClientTotal(t *testing.T) {
	cases := []struct {
		name        string
		server      int64
		client      int64
		wantDrift   bool
		wantRejects bool
	}{
		{"exact", 50000, 50000, false, false},
		{"within tolerance", 50050, 50000, false, false},
		{"drift proceeds", 52000, 50000, true, false},
		{"gross drift rejected", 120000, 50000, true, true},
		{"no client total", 50000, 0, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drifted, err := CheckClientTotal(tc.server, tc.client, 100)
			if drifted != tc.wantDrift {
				t.Fatalf("expected drift %v, got %v", tc.wantDrift, drifted)
			}
			if (err != nil) != tc.wantRejects || (err != nil && !errors.Is(err, ErrCheckoutPriceDrift)) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
