package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/pagination"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// collectDocs decodes the doc column of every row into T.
func collectDocs[T any](rows pgx.Rows) ([]T, error) {
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := unmarshalDoc(data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// fetchDoc loads one doc column; notFound is returned as a repository not-found error.
func fetchDoc[T any](ctx context.Context, q querier, op, notFound, sql string, args ...any) (T, error) {
	var zero T
	var data []byte
	err := q.QueryRow(ctx, sql, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, repositories.NotFound(op, "%s", notFound)
	}
	if err != nil {
		return zero, mapError(op, err)
	}
	var v T
	if err := unmarshalDoc(data, &v); err != nil {
		return zero, err
	}
	return v, nil
}

type orderRepo struct{ db db }

func orderArgs(order domain.Order) ([]any, error) {
	doc, err := marshalDoc(order)
	if err != nil {
		return nil, err
	}
	return []any{
		order.ID, order.BuyerID, order.SellerID, nullable(order.Payment.GatewayOrderID), string(order.Status),
		order.PaymentStatus.NeedsRefund(), order.Deadlines.AcceptBy, order.Deadlines.DetailsBy, order.Deadlines.PreviewBy,
		order.CreatedAt, order.UpdatedAt, doc,
	}, nil
}

// Insert relies on the UNIQUE gateway_order_id column; a duplicate surfaces as a conflict.
func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx,
		`INSERT INTO orders (id, buyer_id, seller_id, gateway_order_id, status, needs_refund, accept_by, details_by, preview_by, created_at, updated_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, args...)
	return mapError("orders.insert", err)
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	args, err := orderArgs(order)
	if err != nil {
		return err
	}
	tag, err := r.db.q(ctx).Exec(ctx,
		`UPDATE orders SET buyer_id = $2, seller_id = $3, status = $5, needs_refund = $6, accept_by = $7,
		        details_by = $8, preview_by = $9, created_at = $10, updated_at = $11, doc = $12
		 WHERE id = $1 AND gateway_order_id IS NOT DISTINCT FROM $4`, args...)
	if err != nil {
		return mapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, order.ID); err != nil {
			return err
		}
		return repositories.Conflict("orders.update", "gateway order id of %s is immutable", order.ID)
	}
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return fetchDoc[domain.Order](ctx, r.db.q(ctx), "orders.get", fmt.Sprintf("order %s not found", orderID),
		`SELECT doc FROM orders WHERE id = $1`, orderID)
}

func (r orderRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return fetchDoc[domain.Order](ctx, r.db.q(ctx), "orders.get", fmt.Sprintf("no order for gateway order %s", gatewayOrderID),
		`SELECT doc FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.ClampPageSize(filter.PageSize)
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}
	var after *time.Time
	if cursor.ID != "" {
		after = &cursor.CreatedAt
	}
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc FROM orders
		 WHERE ($1 = '' OR buyer_id = $1)
		   AND ($2 = '' OR seller_id = $2)
		   AND (cardinality($3::text[]) = 0 OR status = ANY($3))
		   AND ($4::timestamptz IS NULL OR created_at < $4 OR (created_at = $4 AND id > $5))
		 ORDER BY created_at DESC, id ASC
		 LIMIT $6`,
		filter.BuyerID, filter.SellerID, statuses, after, cursor.ID, size+1)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("orders.list", err)
	}
	matched, err := collectDocs[domain.Order](rows)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapError("orders.list", err)
	}
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

var deadlineColumns = map[repositories.DeadlineField]string{
	repositories.DeadlineAccept:  "accept_by",
	repositories.DeadlineDetails: "details_by",
	repositories.DeadlinePreview: "preview_by",
}

func (r orderRepo) ListDue(ctx context.Context, filter repositories.DueFilter) ([]domain.Order, error) {
	column, ok := deadlineColumns[filter.Deadline]
	if !ok {
		return nil, fmt.Errorf("orders.due: unknown deadline %q", filter.Deadline)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc FROM orders WHERE status = $1 AND `+column+` IS NOT NULL AND `+column+` <= $2
		 ORDER BY `+column+` ASC LIMIT $3`,
		string(filter.Status), filter.Before, limit)
	if err != nil {
		return nil, mapError("orders.due", err)
	}
	due, err := collectDocs[domain.Order](rows)
	return due, mapError("orders.due", err)
}

func (r orderRepo) ListRefundsDue(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc FROM orders WHERE needs_refund ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, mapError("orders.refunds", err)
	}
	due, err := collectDocs[domain.Order](rows)
	return due, mapError("orders.refunds", err)
}

type draftRepo struct{ db db }

func (r draftRepo) Insert(ctx context.Context, draft domain.DraftOrder) error {
	doc, err := marshalDoc(draft)
	if err != nil {
		return err
	}
	_, err = r.db.q(ctx).Exec(ctx,
		`INSERT INTO draft_orders (id, buyer_id, gateway_order_id, expires_at, doc) VALUES ($1, $2, $3, $4, $5)`,
		draft.ID, draft.BuyerID, nullable(draft.GatewayOrderID), draft.ExpiresAt, doc)
	return mapError("drafts.insert", err)
}

func (r draftRepo) Update(ctx context.Context, draft domain.DraftOrder) error {
	doc, err := marshalDoc(draft)
	if err != nil {
		return err
	}
	tag, err := r.db.q(ctx).Exec(ctx,
		`UPDATE draft_orders SET buyer_id = $2, gateway_order_id = $3, expires_at = $4, doc = $5 WHERE id = $1`,
		draft.ID, draft.BuyerID, nullable(draft.GatewayOrderID), draft.ExpiresAt, doc)
	if err != nil {
		return mapError("drafts.update", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NotFound("drafts.update", "draft %s not found", draft.ID)
	}
	return nil
}

func (r draftRepo) FindByID(ctx context.Context, draftID string) (domain.DraftOrder, error) {
	return fetchDoc[domain.DraftOrder](ctx, r.db.q(ctx), "drafts.get", fmt.Sprintf("draft %s not found", draftID),
		r.db.forUpdate(ctx, `SELECT doc FROM draft_orders WHERE id = $1`), draftID)
}

func (r draftRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.DraftOrder, error) {
	return fetchDoc[domain.DraftOrder](ctx, r.db.q(ctx), "drafts.get", fmt.Sprintf("no draft for gateway order %s", gatewayOrderID),
		`SELECT doc FROM draft_orders WHERE gateway_order_id = $1 LIMIT 1`, gatewayOrderID)
}

func (r draftRepo) Delete(ctx context.Context, draftID string) error {
	tag, err := r.db.q(ctx).Exec(ctx, `DELETE FROM draft_orders WHERE id = $1`, draftID)
	if err != nil {
		return mapError("drafts.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.NotFound("drafts.delete", "draft %s not found", draftID)
	}
	return nil
}

func (r draftRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DraftOrder, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.db.q(ctx).Query(ctx,
		`SELECT doc FROM draft_orders WHERE expires_at <= $1 ORDER BY expires_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, mapError("drafts.expired", err)
	}
	drafts, err := collectDocs[domain.DraftOrder](rows)
	return drafts, mapError("drafts.expired", err)
}
