package domain

import (
	"sort"
	"strings"
	"time"
)

// StockKey identifies a stock row. VariantID is empty for items without variants.
type StockKey struct {
	ItemID    string
	VariantID string
}

// String renders the key as used in document ids and log fields.
func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ItemID
	}
	return k.ItemID + ":" + k.VariantID
}

// StockLevel summarises committed stock and live holds for one key.
type StockLevel struct {
	Key       StockKey
	OnHand    int
	Reserved  int
	Available int
	UpdatedAt time.Time
}

// StockReservation is a time-boxed soft lock on inventory.
type StockReservation struct {
	ID             string
	BuyerID        string
	GatewayOrderID string
	DraftID        string
	Key            StockKey
	Quantity       int
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Live reports whether the reservation still holds stock at the given instant.
func (r StockReservation) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// StockLine is a requested quantity for one stock key.
type StockLine struct {
	Key      StockKey
	Quantity int
}

// NormalizeStockLines aggregates duplicate keys and sorts the result so that locks are always
// taken in the same order.
func NormalizeStockLines(lines []StockLine) []StockLine {
	totals := make(map[StockKey]int, len(lines))
	for _, line := range lines {
		key := StockKey{ItemID: strings.TrimSpace(line.Key.ItemID), VariantID: strings.TrimSpace(line.Key.VariantID)}
		totals[key] += line.Quantity
	}
	out := make([]StockLine, 0, len(totals))
	for key, qty := range totals {
		out = append(out, StockLine{Key: key, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// AddOnSelection is an optional extra attached to a cart line.
type AddOnSelection struct {
	ID    string
	Name  string
	Price int64
}

// CartLine is one entry of a cart or a draft snapshot.
type CartLine struct {
	ItemID                 string
	VariantID              string
	Quantity               int
	PersonalizationChoices map[string]string
	AddOns                 []AddOnSelection
}

// StockKey returns the ledger key for the line.
func (l CartLine) StockKey() StockKey {
	return StockKey{ItemID: l.ItemID, VariantID: l.VariantID}
}

// Cart is the server-authoritative cart owned by a buyer.
type Cart struct {
	BuyerID      string
	Lines        []CartLine
	Version      int64
	AppliedSeq   map[string]int64
	LastMutation *CartMutationRef
	UpdatedAt    time.Time
}

// CartMutationRef identifies the last mutation applied to a cart.
type CartMutationRef struct {
	ClientID   string
	MutationID string
	Sequence   int64
}

// CartMutationOp enumerates cart mutation operations.
type CartMutationOp string

const (
	CartOpAdd         CartMutationOp = "add"
	CartOpRemove      CartMutationOp = "remove"
	CartOpSetQuantity CartMutationOp = "set_quantity"
	CartOpClear       CartMutationOp = "clear"
)

// CartMutation is a client intent tagged with its per-client monotonic sequence number.
type CartMutation struct {
	BuyerID    string
	ClientID   string
	MutationID string
	Sequence   int64
	Op         CartMutationOp
	Line       CartLine
}

// LinePricing is the priced view of one cart line.
type LinePricing struct {
	ItemID     string
	VariantID  string
	Quantity   int
	UnitPrice  int64
	AddOnTotal int64
	Total      int64
}

// PricingSnapshot is the itemised result of pricing a cart.
type PricingSnapshot struct {
	Currency        string
	Subtotal        int64
	AddOnTotal      int64
	DeliveryFee     int64
	PlatformFee     int64
	Discount        int64
	WalletDeduction int64
	Total           int64
	CouponCode      string
	DistanceMeters  int
	Lines           []LinePricing
	PricedAt        time.Time
}

// PayableBeforeWallet returns the amount owed before any wallet deduction.
func (p PricingSnapshot) PayableBeforeWallet() int64 {
	return p.Total + p.WalletDeduction
}

// DraftStatus tracks where a draft is in the checkout flow.
type DraftStatus string

const (
	DraftStatusOpen    DraftStatus = "open"
	DraftStatusPending DraftStatus = "payment_pending"
	// DraftStatusExpiring marks a draft claimed by the expiry sweep; it can no longer become an order.
	DraftStatusExpiring DraftStatus = "expiring"
)

// DraftOrder is the ephemeral staging record between cart finalisation and payment verification.
type DraftOrder struct {
	ID                      string
	BuyerID                 string
	SellerID                string
	Lines                   []CartLine
	AddressID               string
	Pricing                 PricingSnapshot
	UseWallet               bool
	RequiresPersonalization bool
	RevisionLimit           int
	Provider                string
	GatewayOrderID          string
	CapturedPaymentID       string
	Status                  DraftStatus
	CreatedAt               time.Time
	UpdatedAt               time.Time
	ExpiresAt               time.Time
}

// Expired reports whether the draft outlived its expiry.
func (d DraftOrder) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// CatalogItem is the current catalog view of a sellable item used for pricing.
type CatalogItem struct {
	ID                      string
	SellerID                string
	Name                    string
	Currency                string
	Price                   int64
	VariantPrices           map[string]int64
	AddOns                  map[string]AddOnSelection
	Active                  bool
	RequiresPersonalization bool
	PersonalizationFields   []string
	RevisionLimit           int
}

// PriceFor resolves the unit price for a variant, falling back to the base price.
func (c CatalogItem) PriceFor(variantID string) int64 {
	if variantID != "" {
		if price, ok := c.VariantPrices[variantID]; ok {
			return price
		}
	}
	return c.Price
}

// CouponKind enumerates coupon calculation methods.
type CouponKind string

const (
	CouponPercent CouponKind = "percent"
	CouponFlat    CouponKind = "flat"
)

// Coupon is a discount definition applied by the pricing engine.
type Coupon struct {
	Code        string
	Kind        CouponKind
	BasisPoints int64
	Amount      int64
	MaxDiscount int64
	MinSubtotal int64
	ExpiresAt   *time.Time
	Active      bool
}

// Usable reports whether the coupon is active and unexpired at the instant.
func (c Coupon) Usable(now time.Time) bool {
	if !c.Active {
		return false
	}
	return c.ExpiresAt == nil || now.Before(*c.ExpiresAt)
}

// Address is a buyer delivery location.
type Address struct {
	ID        string
	BuyerID   string
	Label     string
	Latitude  float64
	Longitude float64
}

// WalletEntry records an idempotent wallet movement keyed by reference.
type WalletEntry struct {
	Reference string
	BuyerID   string
	Amount    int64
	Reversed  bool
	CreatedAt time.Time
}

// Seller is a storefront; its location anchors delivery distance.
type Seller struct {
	ID        string
	Name      string
	Latitude  float64
	Longitude float64
	Active    bool
}
