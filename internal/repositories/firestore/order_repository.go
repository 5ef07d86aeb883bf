package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/pagination"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

const (
	ordersCollection        = "orders"
	gatewayOrdersCollection = "gatewayOrders"
	draftsCollection        = "draftOrders"
)

// gatewayClaimDocument enforces one order per gateway order id: it is created with Create in the
// same transaction as the order, so a second claim fails at commit with AlreadyExists.
type gatewayClaimDocument struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// OrderRepository persists orders as single documents carrying their line items.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	claims   *pfirestore.Collection[gatewayClaimDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the Firestore order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		claims:   pfirestore.NewCollection[gatewayClaimDocument](provider, gatewayOrdersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if gw := order.Payment.GatewayOrderID; gw != "" {
			claim, taken, err := r.claims.Get(ctx, gw)
			if err != nil {
				return err
			}
			if taken {
				return repositories.Conflict("orders.insert", "gateway order %s already bound to order %s", gw, claim.OrderID)
			}
			if err := r.claims.Create(ctx, gw, gatewayClaimDocument{OrderID: order.ID, ClaimedAt: order.CreatedAt.UTC()}); err != nil {
				return err
			}
		}
		return r.orders.Create(ctx, order.ID, orderToDocument(order))
	})
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, found, err := r.orders.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if !found {
			return repositories.NotFound("orders.update", "order %s not found", order.ID)
		}
		if current.Payment.GatewayOrderID != order.Payment.GatewayOrderID {
			return repositories.Conflict("orders.update", "gateway order id of %s is immutable", order.ID)
		}
		return r.orders.Set(ctx, order.ID, orderToDocument(order))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, found, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, repositories.NotFound("orders.get", "order %s not found", orderID)
	}
	return doc.toDomain(orderID), nil
}

func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	claim, found, err := r.claims.Get(ctx, gatewayOrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, repositories.NotFound("orders.get", "no order for gateway order %s", gatewayOrderID)
	}
	return r.FindByID(ctx, claim.OrderID)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.ClampPageSize(filter.PageSize)

	ids, docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.BuyerID != "" {
			q = q.Where("buyerId", "==", filter.BuyerID)
		}
		if filter.SellerID != "" {
			q = q.Where("sellerId", "==", filter.SellerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, status := range filter.Status {
				statuses[i] = string(status)
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if cursor.ID != "" {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(ids))}
	for i, id := range ids {
		if i == size {
			last := page.Items[size-1]
			token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, docs[i].toDomain(id))
	}
	return page, nil
}

var deadlineFields = map[repositories.DeadlineField]string{
	repositories.DeadlineAccept:  "acceptBy",
	repositories.DeadlineDetails: "detailsBy",
	repositories.DeadlinePreview: "previewBy",
}

func (r *OrderRepository) ListDue(ctx context.Context, filter repositories.DueFilter) ([]domain.Order, error) {
	field, ok := deadlineFields[filter.Deadline]
	if !ok {
		return nil, repositories.Conflict("orders.listDue", "unknown deadline %q", filter.Deadline)
	}
	ids, docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(filter.Status)).
			Where(field, "<=", filter.Before.UTC()).
			OrderBy(field, firestore.Asc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, len(ids))
	for i, id := range ids {
		out[i] = docs[i].toDomain(id)
	}
	return out, nil
}

func (r *OrderRepository) ListRefundsDue(ctx context.Context, limit int) ([]domain.Order, error) {
	ids, docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("needsRefund", "==", true).OrderBy("updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Order, len(ids))
	for i, id := range ids {
		out[i] = docs[i].toDomain(id)
	}
	return out, nil
}

// DraftRepository persists checkout drafts.
type DraftRepository struct {
	drafts *pfirestore.Collection[draftDocument]
}

var _ repositories.DraftOrderRepository = (*DraftRepository)(nil)

// NewDraftRepository constructs the Firestore draft store.
func NewDraftRepository(provider *pfirestore.Provider) (*DraftRepository, error) {
	if provider == nil {
		return nil, errors.New("draft repository requires firestore provider")
	}
	return &DraftRepository{drafts: pfirestore.NewCollection[draftDocument](provider, draftsCollection)}, nil
}

func (r *DraftRepository) Insert(ctx context.Context, draft domain.DraftOrder) error {
	return r.drafts.Create(ctx, draft.ID, draftToDocument(draft))
}

func (r *DraftRepository) Update(ctx context.Context, draft domain.DraftOrder) error {
	_, found, err := r.drafts.Get(ctx, draft.ID)
	if err != nil {
		return err
	}
	if !found {
		return repositories.NotFound("drafts.update", "draft %s not found", draft.ID)
	}
	return r.drafts.Set(ctx, draft.ID, draftToDocument(draft))
}

func (r *DraftRepository) FindByID(ctx context.Context, draftID string) (domain.DraftOrder, error) {
	doc, found, err := r.drafts.Get(ctx, draftID)
	if err != nil {
		return domain.DraftOrder{}, err
	}
	if !found {
		return domain.DraftOrder{}, repositories.NotFound("drafts.get", "draft %s not found", draftID)
	}
	return doc.toDomain(draftID), nil
}

func (r *DraftRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.DraftOrder, error) {
	ids, docs, err := r.drafts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.DraftOrder{}, err
	}
	if len(ids) == 0 {
		return domain.DraftOrder{}, repositories.NotFound("drafts.get", "no draft for gateway order %s", gatewayOrderID)
	}
	return docs[0].toDomain(ids[0]), nil
}

func (r *DraftRepository) Delete(ctx context.Context, draftID string) error {
	_, found, err := r.drafts.Get(ctx, draftID)
	if err != nil {
		return err
	}
	if !found {
		return repositories.NotFound("drafts.delete", "draft %s not found", draftID)
	}
	return r.drafts.Delete(ctx, draftID)
}

func (r *DraftRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DraftOrder, error) {
	ids, docs, err := r.drafts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("expiresAt", "<=", now.UTC()).OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.DraftOrder, len(ids))
	for i, id := range ids {
		out[i] = docs[i].toDomain(id)
	}
	return out, nil
}
