package handlers

import (
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type cartLinePayload struct {
	ItemID          string            `json:"itemId"`
	VariantID       string            `json:"variantId,omitempty"`
	Quantity        int               `json:"quantity"`
	Personalization map[string]string `json:"personalization,omitempty"`
	AddOns          []addOnPayload    `json:"addOns,omitempty"`
}

type addOnPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Price int64  `json:"price,omitempty"`
}

func (p cartLinePayload) toDomain() domain.CartLine {
	line := domain.CartLine{
		ItemID:                 p.ItemID,
		VariantID:              p.VariantID,
		Quantity:               p.Quantity,
		PersonalizationChoices: p.Personalization,
	}
	for _, a := range p.AddOns {
		line.AddOns = append(line.AddOns, domain.AddOnSelection{ID: a.ID})
	}
	return line
}

func buildCartLines(lines []domain.CartLine) []cartLinePayload {
	out := make([]cartLinePayload, 0, len(lines))
	for _, l := range lines {
		p := cartLinePayload{
			ItemID:          l.ItemID,
			VariantID:       l.VariantID,
			Quantity:        l.Quantity,
			Personalization: l.PersonalizationChoices,
		}
		for _, a := range l.AddOns {
			p.AddOns = append(p.AddOns, addOnPayload{ID: a.ID, Name: a.Name, Price: a.Price})
		}
		out = append(out, p)
	}
	return out
}

type cartPayload struct {
	Version      int64             `json:"version"`
	Lines        []cartLinePayload `json:"lines"`
	LastMutation *mutationPayload  `json:"lastMutation,omitempty"`
	UpdatedAt    string            `json:"updatedAt,omitempty"`
}

type mutationPayload struct {
	ClientID   string `json:"clientId"`
	MutationID string `json:"mutationId"`
	Sequence   int64  `json:"sequence"`
}

func buildCart(cart domain.Cart) cartPayload {
	p := cartPayload{
		Version:   cart.Version,
		Lines:     buildCartLines(cart.Lines),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	if m := cart.LastMutation; m != nil {
		p.LastMutation = &mutationPayload{ClientID: m.ClientID, MutationID: m.MutationID, Sequence: m.Sequence}
	}
	return p
}

type pricingPayload struct {
	Currency        string `json:"currency"`
	Subtotal        int64  `json:"subtotal"`
	AddOnTotal      int64  `json:"addOnTotal"`
	DeliveryFee     int64  `json:"deliveryFee"`
	PlatformFee     int64  `json:"platformFee"`
	Discount        int64  `json:"discount"`
	WalletDeduction int64  `json:"walletDeduction"`
	Total           int64  `json:"total"`
	CouponCode      string `json:"couponCode,omitempty"`
	DistanceMeters  int    `json:"distanceMeters"`
}

func buildPricing(p domain.PricingSnapshot) pricingPayload {
	return pricingPayload{
		Currency:        p.Currency,
		Subtotal:        p.Subtotal,
		AddOnTotal:      p.AddOnTotal,
		DeliveryFee:     p.DeliveryFee,
		PlatformFee:     p.PlatformFee,
		Discount:        p.Discount,
		WalletDeduction: p.WalletDeduction,
		Total:           p.Total,
		CouponCode:      p.CouponCode,
		DistanceMeters:  p.DistanceMeters,
	}
}

type checkoutSessionPayload struct {
	DraftID        string         `json:"draftId"`
	GatewayOrderID string         `json:"gatewayOrderId"`
	Provider       string         `json:"provider"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	ExpiresAt      string         `json:"expiresAt"`
	PublicKey      string         `json:"publicKey,omitempty"`
	ClientSecret   string         `json:"clientSecret,omitempty"`
	PriceAdjusted  bool           `json:"priceAdjusted"`
	Pricing        pricingPayload `json:"pricing"`
}

func buildCheckoutSession(s services.CheckoutSession) checkoutSessionPayload {
	return checkoutSessionPayload{
		DraftID:        s.DraftID,
		GatewayOrderID: s.GatewayOrderID,
		Provider:       s.Provider,
		Amount:         s.Amount,
		Currency:       s.Currency,
		ExpiresAt:      formatTime(s.ExpiresAt),
		PublicKey:      s.PublicKey,
		ClientSecret:   s.ClientSecret,
		PriceAdjusted:  s.PriceAdjusted,
		Pricing:        buildPricing(s.Pricing),
	}
}

type draftPayload struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Lines          []cartLinePayload `json:"lines"`
	AddressID      string            `json:"addressId"`
	Pricing        pricingPayload    `json:"pricing"`
	GatewayOrderID string            `json:"gatewayOrderId,omitempty"`
	Provider       string            `json:"provider,omitempty"`
	ExpiresAt      string            `json:"expiresAt"`
}

func buildDraft(d domain.DraftOrder) draftPayload {
	return draftPayload{
		ID:             d.ID,
		Status:         string(d.Status),
		Lines:          buildCartLines(d.Lines),
		AddressID:      d.AddressID,
		Pricing:        buildPricing(d.Pricing),
		GatewayOrderID: d.GatewayOrderID,
		Provider:       d.Provider,
		ExpiresAt:      formatTime(d.ExpiresAt),
	}
}

type orderItemPayload struct {
	ID                      string            `json:"id"`
	ItemID                  string            `json:"itemId"`
	VariantID               string            `json:"variantId,omitempty"`
	Name                    string            `json:"name"`
	Quantity                int               `json:"quantity"`
	UnitPrice               int64             `json:"unitPrice"`
	AddOnTotal              int64             `json:"addOnTotal"`
	TotalPrice              int64             `json:"totalPrice"`
	RequiresPersonalization bool              `json:"requiresPersonalization"`
	Selections              map[string]string `json:"selections,omitempty"`
	FulfillmentStatus       string            `json:"fulfillmentStatus,omitempty"`
}

type orderDeadlinesPayload struct {
	AcceptBy  string `json:"acceptBy,omitempty"`
	DetailsBy string `json:"detailsBy,omitempty"`
	PreviewBy string `json:"previewBy,omitempty"`
}

type orderPayload struct {
	ID                      string                `json:"id"`
	Number                  string                `json:"number"`
	BuyerID                 string                `json:"buyerId"`
	SellerID                string                `json:"sellerId"`
	Status                  string                `json:"status"`
	PaymentStatus           string                `json:"paymentStatus"`
	Currency                string                `json:"currency"`
	Pricing                 pricingPayload        `json:"pricing"`
	RequiresPersonalization bool                  `json:"requiresPersonalization"`
	Personalization         map[string]any        `json:"personalization,omitempty"`
	Deadlines               orderDeadlinesPayload `json:"deadlines"`
	RevisionCount           int                   `json:"revisionCount"`
	RevisionLimit           int                   `json:"revisionLimit"`
	RevisionsRemaining      int                   `json:"revisionsRemaining"`
	CancellationReason      string                `json:"cancellationReason,omitempty"`
	Items                   []orderItemPayload    `json:"items"`
	CreatedAt               string                `json:"createdAt"`
	UpdatedAt               string                `json:"updatedAt,omitempty"`
	AcceptedAt              string                `json:"acceptedAt,omitempty"`
	DeliveredAt             string                `json:"deliveredAt,omitempty"`
	CancelledAt             string                `json:"cancelledAt,omitempty"`
}

func buildOrder(o domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemPayload{
			ID:                      it.ID,
			ItemID:                  it.ItemID,
			VariantID:               it.VariantID,
			Name:                    it.Name,
			Quantity:                it.Quantity,
			UnitPrice:               it.UnitPrice,
			AddOnTotal:              it.AddOnTotal,
			TotalPrice:              it.TotalPrice,
			RequiresPersonalization: it.RequiresPersonalization,
			Selections:              it.Selections,
			FulfillmentStatus:       string(it.FulfillmentStatus),
		})
	}
	return orderPayload{
		ID:                      o.ID,
		Number:                  o.Number,
		BuyerID:                 o.BuyerID,
		SellerID:                o.SellerID,
		Status:                  string(o.Status),
		PaymentStatus:           string(o.PaymentStatus),
		Currency:                o.Currency,
		Pricing:                 buildPricing(o.Pricing),
		RequiresPersonalization: o.RequiresPersonalization,
		Personalization:         o.PersonalizationInput,
		Deadlines: orderDeadlinesPayload{
			AcceptBy:  formatTimePtr(o.Deadlines.AcceptBy),
			DetailsBy: formatTimePtr(o.Deadlines.DetailsBy),
			PreviewBy: formatTimePtr(o.Deadlines.PreviewBy),
		},
		RevisionCount:      o.RevisionCount,
		RevisionLimit:      o.RevisionLimit,
		RevisionsRemaining: o.RevisionsRemaining(),
		CancellationReason: o.CancellationReason,
		Items:              items,
		CreatedAt:          formatTime(o.CreatedAt),
		UpdatedAt:          formatTime(o.UpdatedAt),
		AcceptedAt:         formatTimePtr(o.AcceptedAt),
		DeliveredAt:        formatTimePtr(o.DeliveredAt),
		CancelledAt:        formatTimePtr(o.CancelledAt),
	}
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"createdAt"`
}

func buildOrderSummary(o domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            o.ID,
		Number:        o.Number,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Currency:      o.Currency,
		Total:         o.Pricing.Total,
		CreatedAt:     formatTime(o.CreatedAt),
	}
}

type historyPayload struct {
	ID          string         `json:"id"`
	EventType   string         `json:"eventType"`
	FromStatus  string         `json:"fromStatus,omitempty"`
	ToStatus    string         `json:"toStatus"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	ActorKind   string         `json:"actorKind"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"createdAt"`
}

// buildHistory omits actor ids; clients only learn which party acted.
func buildHistory(entries []domain.OrderStatusHistory) []historyPayload {
	out := make([]historyPayload, 0, len(entries))
	for _, h := range entries {
		out = append(out, historyPayload{
			ID:          h.ID,
			EventType:   h.EventType,
			FromStatus:  string(h.FromStatus),
			ToStatus:    string(h.ToStatus),
			Title:       h.Title,
			Description: h.Description,
			ActorKind:   string(h.Actor.Kind),
			Metadata:    h.Metadata,
			CreatedAt:   formatTime(h.CreatedAt),
		})
	}
	return out
}

type previewPayload struct {
	ID             string `json:"id"`
	OrderItemID    string `json:"orderItemId"`
	Status         string `json:"status"`
	SellerNotes    string `json:"sellerNotes,omitempty"`
	BuyerFeedback  string `json:"buyerFeedback,omitempty"`
	RevisionNumber int    `json:"revisionNumber"`
	AutoApproved   bool   `json:"autoApproved"`
	SubmittedAt    string `json:"submittedAt"`
	ReviewedAt     string `json:"reviewedAt,omitempty"`
	AssetURL       string `json:"assetUrl,omitempty"`
	AssetExpiresAt string `json:"assetExpiresAt,omitempty"`
}

func buildPreview(p domain.PreviewSubmission) previewPayload {
	return previewPayload{
		ID:             p.ID,
		OrderItemID:    p.OrderItemID,
		Status:         string(p.Status),
		SellerNotes:    p.SellerNotes,
		BuyerFeedback:  p.BuyerFeedback,
		RevisionNumber: p.RevisionNumber,
		AutoApproved:   p.AutoApproved,
		SubmittedAt:    formatTime(p.SubmittedAt),
		ReviewedAt:     formatTimePtr(p.ReviewedAt),
	}
}

func buildPreviewViews(views []services.PreviewView) []previewPayload {
	out := make([]previewPayload, 0, len(views))
	for _, v := range views {
		p := buildPreview(v.Submission)
		if v.Asset != nil {
			p.AssetURL = v.Asset.URL
			p.AssetExpiresAt = formatTime(v.Asset.ExpiresAt)
		}
		out = append(out, p)
	}
	return out
}
