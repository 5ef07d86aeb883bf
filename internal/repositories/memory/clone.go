package memory

import (
	"maps"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	if lines == nil {
		return nil
	}
	out := make([]domain.CartLine, len(lines))
	for i, line := range lines {
		line.PersonalizationChoices = maps.Clone(line.PersonalizationChoices)
		line.AddOns = append([]domain.AddOnSelection(nil), line.AddOns...)
		out[i] = line
	}
	return out
}

func clonePricing(p domain.PricingSnapshot) domain.PricingSnapshot {
	p.Lines = append([]domain.LinePricing(nil), p.Lines...)
	return p
}

func cloneDraft(d domain.DraftOrder) domain.DraftOrder {
	d.Lines = cloneLines(d.Lines)
	d.Pricing = clonePricing(d.Pricing)
	return d
}

func cloneTime(t *domain.OrderDeadlines) domain.OrderDeadlines {
	out := domain.OrderDeadlines{}
	if t.AcceptBy != nil {
		v := *t.AcceptBy
		out.AcceptBy = &v
	}
	if t.DetailsBy != nil {
		v := *t.DetailsBy
		out.DetailsBy = &v
	}
	if t.PreviewBy != nil {
		v := *t.PreviewBy
		out.PreviewBy = &v
	}
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	o.Pricing = clonePricing(o.Pricing)
	o.PersonalizationInput = maps.Clone(o.PersonalizationInput)
	o.Deadlines = cloneTime(&o.Deadlines)
	if o.Items != nil {
		items := make([]domain.OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.PersonalizationDetails = maps.Clone(item.PersonalizationDetails)
			item.Selections = maps.Clone(item.Selections)
			item.AddOns = append([]domain.AddOnSelection(nil), item.AddOns...)
			items[i] = item
		}
		o.Items = items
	}
	return o
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Lines = cloneLines(c.Lines)
	c.AppliedSeq = maps.Clone(c.AppliedSeq)
	if c.LastMutation != nil {
		ref := *c.LastMutation
		c.LastMutation = &ref
	}
	return c
}

func cloneHistory(h domain.OrderStatusHistory) domain.OrderStatusHistory {
	h.Metadata = maps.Clone(h.Metadata)
	return h
}

func cloneEvent(e domain.OutboxEvent) domain.OutboxEvent {
	e.Payload = maps.Clone(e.Payload)
	return e
}

func cloneCatalogItem(item domain.CatalogItem) domain.CatalogItem {
	item.VariantPrices = maps.Clone(item.VariantPrices)
	item.AddOns = maps.Clone(item.AddOns)
	item.PersonalizationFields = append([]string(nil), item.PersonalizationFields...)
	return item
}
