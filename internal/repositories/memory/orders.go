package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/pagination"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type orderRepo struct{ store *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.store.with(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return repositories.Conflict("orders.insert", "order %s already exists", order.ID)
		}
		if gw := order.Payment.GatewayOrderID; gw != "" {
			if existing, taken := st.gatewayOrders[gw]; taken {
				return repositories.Conflict("orders.insert", "gateway order %s already bound to order %s", gw, existing)
			}
			st.gatewayOrders[gw] = order.ID
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.store.with(ctx, func(st *state) error {
		current, ok := st.orders[order.ID]
		if !ok {
			return repositories.NotFound("orders.update", "order %s not found", order.ID)
		}
		if current.Payment.GatewayOrderID != order.Payment.GatewayOrderID {
			return repositories.Conflict("orders.update", "gateway order id of %s is immutable", order.ID)
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.with(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return repositories.NotFound("orders.get", "order %s not found", orderID)
		}
		out = cloneOrder(order)
		return nil
	})
	return out, err
}

func (r orderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	var out domain.Order
	err := r.store.with(ctx, func(st *state) error {
		orderID, ok := st.gatewayOrders[gatewayOrderID]
		if !ok {
			return repositories.NotFound("orders.get", "no order for gateway order %s", gatewayOrderID)
		}
		out = cloneOrder(st.orders[orderID])
		return nil
	})
	return out, err
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.ClampPageSize(filter.PageSize)

	var matched []domain.Order
	err = r.store.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
				continue
			}
			if filter.SellerID != "" && order.SellerID != filter.SellerID {
				continue
			}
			if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
				continue
			}
			if !cursor.After(order.CreatedAt, order.ID) {
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func deadlineOf(order domain.Order, field repositories.DeadlineField) *time.Time {
	switch field {
	case repositories.DeadlineAccept:
		return order.Deadlines.AcceptBy
	case repositories.DeadlineDetails:
		return order.Deadlines.DetailsBy
	case repositories.DeadlinePreview:
		return order.Deadlines.PreviewBy
	}
	return nil
}

func (r orderRepo) ListDue(ctx context.Context, filter repositories.DueFilter) ([]domain.Order, error) {
	var due []domain.Order
	err := r.store.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.Status != filter.Status {
				continue
			}
			deadline := deadlineOf(order, filter.Deadline)
			if deadline == nil || deadline.After(filter.Before) {
				continue
			}
			due = append(due, cloneOrder(order))
		}
		return nil
	})
	sort.Slice(due, func(i, j int) bool {
		return deadlineOf(due[i], filter.Deadline).Before(*deadlineOf(due[j], filter.Deadline))
	})
	if filter.Limit > 0 && len(due) > filter.Limit {
		due = due[:filter.Limit]
	}
	return due, err
}

func (r orderRepo) ListRefundsDue(ctx context.Context, limit int) ([]domain.Order, error) {
	var due []domain.Order
	err := r.store.with(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.PaymentStatus.NeedsRefund() {
				due = append(due, cloneOrder(order))
			}
		}
		return nil
	})
	sort.Slice(due, func(i, j int) bool { return due[i].UpdatedAt.Before(due[j].UpdatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, err
}
