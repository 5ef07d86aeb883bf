package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	catalogCollection   = "catalogItems"
	couponsCollection   = "coupons"
	addressesCollection = "addresses"
	sellersCollection   = "sellers"
)

type catalogDocument struct {
	SellerID                string                   `firestore:"sellerId"`
	Name                    string                   `firestore:"name"`
	Currency                string                   `firestore:"currency"`
	Price                   int64                    `firestore:"price"`
	VariantPrices           map[string]int64         `firestore:"variantPrices,omitempty"`
	AddOns                  map[string]addOnDocument `firestore:"addOns,omitempty"`
	Active                  bool                     `firestore:"active"`
	RequiresPersonalization bool                     `firestore:"requiresPersonalization"`
	PersonalizationFields   []string                 `firestore:"personalizationFields,omitempty"`
	RevisionLimit           int                      `firestore:"revisionLimit"`
}

// CatalogRepository reads the catalog used for pricing.
type CatalogRepository struct {
	items *pfirestore.Collection[catalogDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs the Firestore catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{items: pfirestore.NewCollection[catalogDocument](provider, catalogCollection)}, nil
}

func (r *CatalogRepository) FindItems(ctx context.Context, itemIDs []string) (map[string]domain.CatalogItem, error) {
	out := make(map[string]domain.CatalogItem, len(itemIDs))
	for _, id := range itemIDs {
		if _, seen := out[id]; seen {
			continue
		}
		doc, found, err := r.items.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		addOns := make(map[string]domain.AddOnSelection, len(doc.AddOns))
		for key, addOn := range doc.AddOns {
			addOns[key] = domain.AddOnSelection{ID: addOn.ID, Name: addOn.Name, Price: addOn.Price}
		}
		out[id] = domain.CatalogItem{
			ID:                      id,
			SellerID:                doc.SellerID,
			Name:                    doc.Name,
			Currency:                doc.Currency,
			Price:                   doc.Price,
			VariantPrices:           doc.VariantPrices,
			AddOns:                  addOns,
			Active:                  doc.Active,
			RequiresPersonalization: doc.RequiresPersonalization,
			PersonalizationFields:   doc.PersonalizationFields,
			RevisionLimit:           doc.RevisionLimit,
		}
	}
	return out, nil
}

func (r *CatalogRepository) Upsert(ctx context.Context, item domain.CatalogItem) error {
	if strings.TrimSpace(item.ID) == "" {
		return repositories.Conflict("catalog.upsert", "item id is required")
	}
	addOns := make(map[string]addOnDocument, len(item.AddOns))
	for key, addOn := range item.AddOns {
		addOns[key] = addOnDocument{ID: addOn.ID, Name: addOn.Name, Price: addOn.Price}
	}
	return r.items.Set(ctx, item.ID, catalogDocument{
		SellerID:                item.SellerID,
		Name:                    item.Name,
		Currency:                item.Currency,
		Price:                   item.Price,
		VariantPrices:           item.VariantPrices,
		AddOns:                  addOns,
		Active:                  item.Active,
		RequiresPersonalization: item.RequiresPersonalization,
		PersonalizationFields:   item.PersonalizationFields,
		RevisionLimit:           item.RevisionLimit,
	})
}

type couponDocument struct {
	Kind        string     `firestore:"kind"`
	BasisPoints int64      `firestore:"basisPoints"`
	Amount      int64      `firestore:"amount"`
	MaxDiscount int64      `firestore:"maxDiscount"`
	MinSubtotal int64      `firestore:"minSubtotal"`
	ExpiresAt   *time.Time `firestore:"expiresAt,omitempty"`
	Active      bool       `firestore:"active"`
}

// CouponRepository resolves coupons by upper-cased code.
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs the Firestore coupon reader.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{coupons: pfirestore.NewCollection[couponDocument](provider, couponsCollection)}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Coupon{}, repositories.NotFound("coupons.get", "coupon code is empty")
	}
	doc, found, err := r.coupons.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if !found {
		return domain.Coupon{}, repositories.NotFound("coupons.get", "coupon %s not found", code)
	}
	return domain.Coupon{
		Code:        code,
		Kind:        domain.CouponKind(doc.Kind),
		BasisPoints: doc.BasisPoints,
		Amount:      doc.Amount,
		MaxDiscount: doc.MaxDiscount,
		MinSubtotal: doc.MinSubtotal,
		ExpiresAt:   doc.ExpiresAt,
		Active:      doc.Active,
	}, nil
}

type locationDocument struct {
	OwnerID   string  `firestore:"ownerId"`
	Label     string  `firestore:"label"`
	Latitude  float64 `firestore:"lat"`
	Longitude float64 `firestore:"lng"`
	Active    bool    `firestore:"active"`
}

// AddressRepository resolves buyer addresses.
type AddressRepository struct {
	addresses *pfirestore.Collection[locationDocument]
}

// NewAddressRepository constructs the Firestore address reader.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{addresses: pfirestore.NewCollection[locationDocument](provider, addressesCollection)}, nil
}

func (r *AddressRepository) FindByID(ctx context.Context, buyerID, addressID string) (domain.Address, error) {
	doc, found, err := r.addresses.Get(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	if !found || doc.OwnerID != buyerID {
		return domain.Address{}, repositories.NotFound("addresses.get", "address %s not found", addressID)
	}
	return domain.Address{ID: addressID, BuyerID: buyerID, Label: doc.Label, Latitude: doc.Latitude, Longitude: doc.Longitude}, nil
}

// SellerRepository resolves seller storefronts.
type SellerRepository struct {
	sellers *pfirestore.Collection[locationDocument]
}

// NewSellerRepository constructs the Firestore seller reader.
func NewSellerRepository(provider *pfirestore.Provider) (*SellerRepository, error) {
	if provider == nil {
		return nil, errors.New("seller repository requires firestore provider")
	}
	return &SellerRepository{sellers: pfirestore.NewCollection[locationDocument](provider, sellersCollection)}, nil
}

func (r *SellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	doc, found, err := r.sellers.Get(ctx, sellerID)
	if err != nil {
		return domain.Seller{}, err
	}
	if !found {
		return domain.Seller{}, repositories.NotFound("sellers.get", "seller %s not found", sellerID)
	}
	return domain.Seller{ID: sellerID, Name: doc.Label, Latitude: doc.Latitude, Longitude: doc.Longitude, Active: doc.Active}, nil
}
