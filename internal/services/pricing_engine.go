package services

import (
	"fmt"
	"strings"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// PricingRules is the fee schedule applied by the engine.
type PricingRules struct {
	Currency              string
	BaseDeliveryFee       int64
	BaseDistanceMeters    int
	PerKmFee              int64
	FreeDeliveryThreshold int64
	MaxDistanceMeters     int
	// PlatformFeeBasis is charged in basis points of the subtotal.
	PlatformFeeBasis int64
}

// DefaultPricingRules mirrors the configuration defaults.
func DefaultPricingRules() PricingRules {
	return PricingRules{
		Currency:              "INR",
		BaseDeliveryFee:       4900,
		BaseDistanceMeters:    2000,
		PerKmFee:              1000,
		FreeDeliveryThreshold: 99900,
		MaxDistanceMeters:     15000,
	}
}

// PricedLine is a cart line resolved against the catalog.
type PricedLine struct {
	ItemID     string
	VariantID  string
	Quantity   int
	UnitPrice  int64
	AddOnPrice int64
	Currency   string
}

// PriceInput is everything the engine needs; callers resolve coupons, distance and balances.
type PriceInput struct {
	Lines          []PricedLine
	Coupon         *domain.Coupon
	DistanceMeters int
	WalletBalance  int64
	UseWallet      bool
	Currency       string
}

// PricingEngine is pure: it never reads repositories or the clock, so the same input always
// prices to the same snapshot.
type PricingEngine struct {
	rules PricingRules
}

// NewPricingEngine validates the rules.
func NewPricingEngine(rules PricingRules) (*PricingEngine, error) {
	if rules.BaseDeliveryFee < 0 || rules.PerKmFee < 0 || rules.PlatformFeeBasis < 0 {
		return nil, fmt.Errorf("%w: fees must not be negative", ErrPricingInvalidInput)
	}
	if rules.BaseDistanceMeters < 0 || rules.MaxDistanceMeters <= 0 {
		return nil, fmt.Errorf("%w: distance bounds must be positive", ErrPricingInvalidInput)
	}
	rules.Currency = strings.ToUpper(strings.TrimSpace(rules.Currency))
	if rules.Currency == "" {
		rules.Currency = "INR"
	}
	return &PricingEngine{rules: rules}, nil
}

// Rules returns the configured fee schedule.
func (e *PricingEngine) Rules() PricingRules { return e.rules }

// Price computes the itemised breakdown.
func (e *PricingEngine) Price(in PriceInput) (domain.PricingSnapshot, error) {
	currency, err := e.validate(in)
	if err != nil {
		return domain.PricingSnapshot{}, err
	}

	snapshot := domain.PricingSnapshot{
		Currency:       currency,
		DistanceMeters: in.DistanceMeters,
		Lines:          make([]domain.LinePricing, 0, len(in.Lines)),
	}
	for _, line := range in.Lines {
		qty := int64(line.Quantity)
		lineTotal := (line.UnitPrice + line.AddOnPrice) * qty
		snapshot.Subtotal += lineTotal
		snapshot.AddOnTotal += line.AddOnPrice * qty
		snapshot.Lines = append(snapshot.Lines, domain.LinePricing{
			ItemID:     line.ItemID,
			VariantID:  line.VariantID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			AddOnTotal: line.AddOnPrice * qty,
			Total:      lineTotal,
		})
	}

	snapshot.DeliveryFee = e.deliveryFee(snapshot.Subtotal, in.DistanceMeters)
	snapshot.PlatformFee = snapshot.Subtotal * e.rules.PlatformFeeBasis / 10000

	if in.Coupon != nil {
		snapshot.Discount = couponDiscount(*in.Coupon, snapshot.Subtotal)
		if snapshot.Discount > 0 {
			snapshot.CouponCode = strings.ToUpper(in.Coupon.Code)
		}
	}

	payable := snapshot.Subtotal + snapshot.DeliveryFee + snapshot.PlatformFee - snapshot.Discount
	if in.UseWallet && in.WalletBalance > 0 {
		snapshot.WalletDeduction = min(in.WalletBalance, payable)
	}
	snapshot.Total = payable - snapshot.WalletDeduction
	return snapshot, nil
}

func (e *PricingEngine) validate(in PriceInput) (string, error) {
	if len(in.Lines) == 0 {
		return "", fmt.Errorf("%w: cart is empty", ErrPricingInvalidInput)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = e.rules.Currency
	}
	for _, line := range in.Lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return "", fmt.Errorf("%w: line without item", ErrPricingInvalidInput)
		}
		if line.Quantity <= 0 {
			return "", fmt.Errorf("%w: quantity for %s must be positive", ErrPricingInvalidInput, line.ItemID)
		}
		if line.UnitPrice < 0 || line.AddOnPrice < 0 {
			return "", fmt.Errorf("%w: negative price for %s", ErrPricingInvalidInput, line.ItemID)
		}
		if lc := strings.ToUpper(strings.TrimSpace(line.Currency)); lc != "" && lc != currency {
			return "", fmt.Errorf("%w: mixed currencies %s and %s", ErrPricingInvalidInput, currency, lc)
		}
	}
	if in.DistanceMeters < 0 {
		return "", fmt.Errorf("%w: negative distance", ErrPricingInvalidInput)
	}
	if in.DistanceMeters > e.rules.MaxDistanceMeters {
		return "", fmt.Errorf("%w: %dm exceeds %dm", ErrPricingOutOfRange, in.DistanceMeters, e.rules.MaxDistanceMeters)
	}
	if in.WalletBalance < 0 {
		return "", fmt.Errorf("%w: negative wallet balance", ErrPricingInvalidInput)
	}
	return currency, nil
}

// deliveryFee charges the base fee for the first BaseDistanceMeters and PerKmFee for every
// started kilometre beyond it.
func (e *PricingEngine) deliveryFee(subtotal int64, distance int) int64 {
	if e.rules.FreeDeliveryThreshold > 0 && subtotal >= e.rules.FreeDeliveryThreshold {
		return 0
	}
	fee := e.rules.BaseDeliveryFee
	if extra := distance - e.rules.BaseDistanceMeters; extra > 0 {
		km := int64((extra + 999) / 1000)
		fee += km * e.rules.PerKmFee
	}
	return fee
}

// couponDiscount assumes the caller already checked expiry.
func couponDiscount(c domain.Coupon, subtotal int64) int64 {
	if !c.Active || subtotal <= 0 || subtotal < c.MinSubtotal {
		return 0
	}
	var discount int64
	switch c.Kind {
	case domain.CouponPercent:
		discount = subtotal * c.BasisPoints / 10000
		if c.MaxDiscount > 0 && discount > c.MaxDiscount {
			discount = c.MaxDiscount
		}
	case domain.CouponFlat:
		discount = c.Amount
	}
	if discount < 0 {
		return 0
	}
	return min(discount, subtotal)
}

// CheckClientTotal compares the client's displayed total to the server amount. It reports whether
// the amounts drifted beyond tolerance and returns ErrCheckoutPriceDrift when the drift exceeds half
// the client amount, which only happens when the client priced a materially different cart.
func CheckClientTotal(server, client, tolerance int64) (drifted bool, err error) {
	if client <= 0 {
		return false, nil
	}
	diff := server - client
	if diff < 0 {
		diff = -diff
	}
	if diff <= tolerance {
		return false, nil
	}
	if diff*2 > client {
		return true, fmt.Errorf("%w: server %d, client %d", ErrCheckoutPriceDrift, server, client)
	}
	return true, nil
}
