package firestore

import (
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

type addOnDocument struct {
	ID    string `firestore:"id"`
	Name  string `firestore:"name"`
	Price int64  `firestore:"price"`
}

func addOnsToDocuments(addOns []domain.AddOnSelection) []addOnDocument {
	if len(addOns) == 0 {
		return nil
	}
	out := make([]addOnDocument, len(addOns))
	for i, addOn := range addOns {
		out[i] = addOnDocument{ID: addOn.ID, Name: addOn.Name, Price: addOn.Price}
	}
	return out
}

func addOnsFromDocuments(docs []addOnDocument) []domain.AddOnSelection {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.AddOnSelection, len(docs))
	for i, doc := range docs {
		out[i] = domain.AddOnSelection{ID: doc.ID, Name: doc.Name, Price: doc.Price}
	}
	return out
}

type cartLineDocument struct {
	ItemID          string            `firestore:"itemId"`
	VariantID       string            `firestore:"variantId,omitempty"`
	Quantity        int               `firestore:"qty"`
	Personalization map[string]string `firestore:"personalization,omitempty"`
	AddOns          []addOnDocument   `firestore:"addOns,omitempty"`
}

func linesToDocuments(lines []domain.CartLine) []cartLineDocument {
	out := make([]cartLineDocument, len(lines))
	for i, line := range lines {
		out[i] = cartLineDocument{
			ItemID:          line.ItemID,
			VariantID:       line.VariantID,
			Quantity:        line.Quantity,
			Personalization: line.PersonalizationChoices,
			AddOns:          addOnsToDocuments(line.AddOns),
		}
	}
	return out
}

func linesFromDocuments(docs []cartLineDocument) []domain.CartLine {
	out := make([]domain.CartLine, len(docs))
	for i, doc := range docs {
		out[i] = domain.CartLine{
			ItemID:                 doc.ItemID,
			VariantID:              doc.VariantID,
			Quantity:               doc.Quantity,
			PersonalizationChoices: doc.Personalization,
			AddOns:                 addOnsFromDocuments(doc.AddOns),
		}
	}
	return out
}

type linePricingDocument struct {
	ItemID     string `firestore:"itemId"`
	VariantID  string `firestore:"variantId,omitempty"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
	AddOnTotal int64  `firestore:"addOnTotal"`
	Total      int64  `firestore:"total"`
}

type pricingDocument struct {
	Currency        string                `firestore:"currency"`
	Subtotal        int64                 `firestore:"subtotal"`
	AddOnTotal      int64                 `firestore:"addOnTotal"`
	DeliveryFee     int64                 `firestore:"deliveryFee"`
	PlatformFee     int64                 `firestore:"platformFee"`
	Discount        int64                 `firestore:"discount"`
	WalletDeduction int64                 `firestore:"walletDeduction"`
	Total           int64                 `firestore:"total"`
	CouponCode      string                `firestore:"couponCode,omitempty"`
	DistanceMeters  int                   `firestore:"distanceMeters"`
	Lines           []linePricingDocument `firestore:"lines"`
	PricedAt        time.Time             `firestore:"pricedAt"`
}

func pricingToDocument(p domain.PricingSnapshot) pricingDocument {
	lines := make([]linePricingDocument, len(p.Lines))
	for i, line := range p.Lines {
		lines[i] = linePricingDocument(line)
	}
	return pricingDocument{
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
		Lines:           lines,
		PricedAt:        p.PricedAt.UTC(),
	}
}

func (d pricingDocument) toDomain() domain.PricingSnapshot {
	lines := make([]domain.LinePricing, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.LinePricing(line)
	}
	return domain.PricingSnapshot{
		Currency:        d.Currency,
		Subtotal:        d.Subtotal,
		AddOnTotal:      d.AddOnTotal,
		DeliveryFee:     d.DeliveryFee,
		PlatformFee:     d.PlatformFee,
		Discount:        d.Discount,
		WalletDeduction: d.WalletDeduction,
		Total:           d.Total,
		CouponCode:      d.CouponCode,
		DistanceMeters:  d.DistanceMeters,
		Lines:           lines,
		PricedAt:        d.PricedAt,
	}
}

type draftDocument struct {
	BuyerID                 string             `firestore:"buyerId"`
	SellerID                string             `firestore:"sellerId"`
	Lines                   []cartLineDocument `firestore:"lines"`
	AddressID               string             `firestore:"addressId"`
	Pricing                 pricingDocument    `firestore:"pricing"`
	UseWallet               bool               `firestore:"useWallet"`
	RequiresPersonalization bool               `firestore:"requiresPersonalization"`
	RevisionLimit           int                `firestore:"revisionLimit"`
	Provider                string             `firestore:"provider,omitempty"`
	GatewayOrderID          string             `firestore:"gatewayOrderId,omitempty"`
	CapturedPaymentID       string             `firestore:"capturedPaymentId,omitempty"`
	Status                  string             `firestore:"status"`
	CreatedAt               time.Time          `firestore:"createdAt"`
	UpdatedAt               time.Time          `firestore:"updatedAt"`
	ExpiresAt               time.Time          `firestore:"expiresAt"`
}

func draftToDocument(d domain.DraftOrder) draftDocument {
	return draftDocument{
		BuyerID:                 d.BuyerID,
		SellerID:                d.SellerID,
		Lines:                   linesToDocuments(d.Lines),
		AddressID:               d.AddressID,
		Pricing:                 pricingToDocument(d.Pricing),
		UseWallet:               d.UseWallet,
		RequiresPersonalization: d.RequiresPersonalization,
		RevisionLimit:           d.RevisionLimit,
		Provider:                d.Provider,
		GatewayOrderID:          d.GatewayOrderID,
		CapturedPaymentID:       d.CapturedPaymentID,
		Status:                  string(d.Status),
		CreatedAt:               d.CreatedAt.UTC(),
		UpdatedAt:               d.UpdatedAt.UTC(),
		ExpiresAt:               d.ExpiresAt.UTC(),
	}
}

func (d draftDocument) toDomain(id string) domain.DraftOrder {
	return domain.DraftOrder{
		ID:                      id,
		BuyerID:                 d.BuyerID,
		SellerID:                d.SellerID,
		Lines:                   linesFromDocuments(d.Lines),
		AddressID:               d.AddressID,
		Pricing:                 d.Pricing.toDomain(),
		UseWallet:               d.UseWallet,
		RequiresPersonalization: d.RequiresPersonalization,
		RevisionLimit:           d.RevisionLimit,
		Provider:                d.Provider,
		GatewayOrderID:          d.GatewayOrderID,
		CapturedPaymentID:       d.CapturedPaymentID,
		Status:                  domain.DraftStatus(d.Status),
		CreatedAt:               d.CreatedAt,
		UpdatedAt:               d.UpdatedAt,
		ExpiresAt:               d.ExpiresAt,
	}
}

type orderItemDocument struct {
	ID                      string            `firestore:"id"`
	ItemID                  string            `firestore:"itemId"`
	VariantID               string            `firestore:"variantId,omitempty"`
	Name                    string            `firestore:"name"`
	Quantity                int               `firestore:"qty"`
	UnitPrice               int64             `firestore:"unitPrice"`
	AddOnTotal              int64             `firestore:"addOnTotal"`
	TotalPrice              int64             `firestore:"totalPrice"`
	RequiresPersonalization bool              `firestore:"requiresPersonalization"`
	PersonalizationDetails  map[string]any    `firestore:"personalizationDetails,omitempty"`
	Selections              map[string]string `firestore:"selections,omitempty"`
	AddOns                  []addOnDocument   `firestore:"addOns,omitempty"`
	FulfillmentStatus       string            `firestore:"fulfillmentStatus"`
}

type orderPaymentDocument struct {
	Provider        string     `firestore:"provider"`
	GatewayOrderID  string     `firestore:"gatewayOrderId"`
	PaymentID       string     `firestore:"paymentId"`
	AmountCaptured  int64      `firestore:"amountCaptured"`
	WalletDebited   int64      `firestore:"walletDebited"`
	WalletReference string     `firestore:"walletReference,omitempty"`
	RefundID        string     `firestore:"refundId,omitempty"`
	RefundedAt      *time.Time `firestore:"refundedAt,omitempty"`
	RefundAttempts  int        `firestore:"refundAttempts"`
	LastRefundError string     `firestore:"lastRefundError,omitempty"`
}

type orderDocument struct {
	Number                  string               `firestore:"number"`
	BuyerID                 string               `firestore:"buyerId"`
	SellerID                string               `firestore:"sellerId"`
	DraftID                 string               `firestore:"draftId"`
	AddressID               string               `firestore:"addressId"`
	Status                  string               `firestore:"status"`
	PaymentStatus           string               `firestore:"paymentStatus"`
	NeedsRefund             bool                 `firestore:"needsRefund"`
	Currency                string               `firestore:"currency"`
	Pricing                 pricingDocument      `firestore:"pricing"`
	RequiresPersonalization bool                 `firestore:"requiresPersonalization"`
	PersonalizationInput    map[string]any       `firestore:"personalizationInput,omitempty"`
	AcceptBy                *time.Time           `firestore:"acceptBy,omitempty"`
	DetailsBy               *time.Time           `firestore:"detailsBy,omitempty"`
	PreviewBy               *time.Time           `firestore:"previewBy,omitempty"`
	RevisionCount           int                  `firestore:"revisionCount"`
	RevisionLimit           int                  `firestore:"revisionLimit"`
	CancellationReason      string               `firestore:"cancellationReason,omitempty"`
	Payment                 orderPaymentDocument `firestore:"payment"`
	Items                   []orderItemDocument  `firestore:"items"`
	CreatedAt               time.Time            `firestore:"createdAt"`
	UpdatedAt               time.Time            `firestore:"updatedAt"`
	AcceptedAt              *time.Time           `firestore:"acceptedAt,omitempty"`
	DeliveredAt             *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt             *time.Time           `firestore:"cancelledAt,omitempty"`
}

func orderToDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ID:                      item.ID,
			ItemID:                  item.ItemID,
			VariantID:               item.VariantID,
			Name:                    item.Name,
			Quantity:                item.Quantity,
			UnitPrice:               item.UnitPrice,
			AddOnTotal:              item.AddOnTotal,
			TotalPrice:              item.TotalPrice,
			RequiresPersonalization: item.RequiresPersonalization,
			PersonalizationDetails:  item.PersonalizationDetails,
			Selections:              item.Selections,
			AddOns:                  addOnsToDocuments(item.AddOns),
			FulfillmentStatus:       string(item.FulfillmentStatus),
		}
	}
	return orderDocument{
		Number:                  o.Number,
		BuyerID:                 o.BuyerID,
		SellerID:                o.SellerID,
		DraftID:                 o.DraftID,
		AddressID:               o.AddressID,
		Status:                  string(o.Status),
		PaymentStatus:           string(o.PaymentStatus),
		NeedsRefund:             o.PaymentStatus.NeedsRefund(),
		Currency:                o.Currency,
		Pricing:                 pricingToDocument(o.Pricing),
		RequiresPersonalization: o.RequiresPersonalization,
		PersonalizationInput:    o.PersonalizationInput,
		AcceptBy:                utcPtr(o.Deadlines.AcceptBy),
		DetailsBy:               utcPtr(o.Deadlines.DetailsBy),
		PreviewBy:               utcPtr(o.Deadlines.PreviewBy),
		RevisionCount:           o.RevisionCount,
		RevisionLimit:           o.RevisionLimit,
		CancellationReason:      o.CancellationReason,
		Payment: orderPaymentDocument{
			Provider:        o.Payment.Provider,
			GatewayOrderID:  o.Payment.GatewayOrderID,
			PaymentID:       o.Payment.PaymentID,
			AmountCaptured:  o.Payment.AmountCaptured,
			WalletDebited:   o.Payment.WalletDebited,
			WalletReference: o.Payment.WalletReference,
			RefundID:        o.Payment.RefundID,
			RefundedAt:      utcPtr(o.Payment.RefundedAt),
			RefundAttempts:  o.Payment.RefundAttempts,
			LastRefundError: o.Payment.LastRefundError,
		},
		Items:       items,
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   o.UpdatedAt.UTC(),
		AcceptedAt:  utcPtr(o.AcceptedAt),
		DeliveredAt: utcPtr(o.DeliveredAt),
		CancelledAt: utcPtr(o.CancelledAt),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ID:                      item.ID,
			OrderID:                 id,
			ItemID:                  item.ItemID,
			VariantID:               item.VariantID,
			Name:                    item.Name,
			Quantity:                item.Quantity,
			UnitPrice:               item.UnitPrice,
			AddOnTotal:              item.AddOnTotal,
			TotalPrice:              item.TotalPrice,
			RequiresPersonalization: item.RequiresPersonalization,
			PersonalizationDetails:  item.PersonalizationDetails,
			Selections:              item.Selections,
			AddOns:                  addOnsFromDocuments(item.AddOns),
			FulfillmentStatus:       domain.OrderStatus(item.FulfillmentStatus),
		}
	}
	return domain.Order{
		ID:                      id,
		Number:                  d.Number,
		BuyerID:                 d.BuyerID,
		SellerID:                d.SellerID,
		DraftID:                 d.DraftID,
		AddressID:               d.AddressID,
		Status:                  domain.OrderStatus(d.Status),
		PaymentStatus:           domain.PaymentStatus(d.PaymentStatus),
		Currency:                d.Currency,
		Pricing:                 d.Pricing.toDomain(),
		RequiresPersonalization: d.RequiresPersonalization,
		PersonalizationInput:    d.PersonalizationInput,
		Deadlines: domain.OrderDeadlines{
			AcceptBy:  d.AcceptBy,
			DetailsBy: d.DetailsBy,
			PreviewBy: d.PreviewBy,
		},
		RevisionCount:      d.RevisionCount,
		RevisionLimit:      d.RevisionLimit,
		CancellationReason: d.CancellationReason,
		Payment: domain.OrderPayment{
			Provider:        d.Payment.Provider,
			GatewayOrderID:  d.Payment.GatewayOrderID,
			PaymentID:       d.Payment.PaymentID,
			AmountCaptured:  d.Payment.AmountCaptured,
			WalletDebited:   d.Payment.WalletDebited,
			WalletReference: d.Payment.WalletReference,
			RefundID:        d.Payment.RefundID,
			RefundedAt:      d.Payment.RefundedAt,
			RefundAttempts:  d.Payment.RefundAttempts,
			LastRefundError: d.Payment.LastRefundError,
		},
		Items:       items,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		AcceptedAt:  d.AcceptedAt,
		DeliveredAt: d.DeliveredAt,
		CancelledAt: d.CancelledAt,
	}
}

type previewDocument struct {
	OrderID        string     `firestore:"orderId"`
	OrderItemID    string     `firestore:"orderItemId"`
	AssetRef       string     `firestore:"assetRef"`
	Status         string     `firestore:"status"`
	SellerNotes    string     `firestore:"sellerNotes,omitempty"`
	BuyerFeedback  string     `firestore:"buyerFeedback,omitempty"`
	RevisionNumber int        `firestore:"revisionNumber"`
	SubmittedAt    time.Time  `firestore:"submittedAt"`
	ReviewedAt     *time.Time `firestore:"reviewedAt,omitempty"`
	AutoApproved   bool       `firestore:"autoApproved"`
}

func previewToDocument(p domain.PreviewSubmission) previewDocument {
	return previewDocument{
		OrderID:        p.OrderID,
		OrderItemID:    p.OrderItemID,
		AssetRef:       p.AssetRef,
		Status:         string(p.Status),
		SellerNotes:    p.SellerNotes,
		BuyerFeedback:  p.BuyerFeedback,
		RevisionNumber: p.RevisionNumber,
		SubmittedAt:    p.SubmittedAt.UTC(),
		ReviewedAt:     utcPtr(p.ReviewedAt),
		AutoApproved:   p.AutoApproved,
	}
}

func (d previewDocument) toDomain(id string) domain.PreviewSubmission {
	return domain.PreviewSubmission{
		ID:             id,
		OrderID:        d.OrderID,
		OrderItemID:    d.OrderItemID,
		AssetRef:       d.AssetRef,
		Status:         domain.PreviewStatus(d.Status),
		SellerNotes:    d.SellerNotes,
		BuyerFeedback:  d.BuyerFeedback,
		RevisionNumber: d.RevisionNumber,
		SubmittedAt:    d.SubmittedAt,
		ReviewedAt:     d.ReviewedAt,
		AutoApproved:   d.AutoApproved,
	}
}

type historyDocument struct {
	OrderID     string         `firestore:"orderId"`
	EventType   string         `firestore:"eventType"`
	FromStatus  string         `firestore:"fromStatus,omitempty"`
	ToStatus    string         `firestore:"toStatus"`
	Title       string         `firestore:"title"`
	Description string         `firestore:"description"`
	ActorKind   string         `firestore:"actorKind"`
	ActorID     string         `firestore:"actorId"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
}

type outboxDocument struct {
	Type        string         `firestore:"type"`
	OrderID     string         `firestore:"orderId,omitempty"`
	BuyerID     string         `firestore:"buyerId"`
	SellerID    string         `firestore:"sellerId,omitempty"`
	Payload     map[string]any `firestore:"payload"`
	OccurredAt  time.Time      `firestore:"occurredAt"`
	Published   bool           `firestore:"published"`
	PublishedAt *time.Time     `firestore:"publishedAt,omitempty"`
	Attempts    int            `firestore:"attempts"`
}

func (d outboxDocument) toDomain(id string) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:          id,
		Type:        d.Type,
		OrderID:     d.OrderID,
		BuyerID:     d.BuyerID,
		SellerID:    d.SellerID,
		Payload:     d.Payload,
		OccurredAt:  d.OccurredAt,
		PublishedAt: d.PublishedAt,
		Attempts:    d.Attempts,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
