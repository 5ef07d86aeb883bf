package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
)

type draftRepo struct{ store *Store }

func (r draftRepo) Insert(ctx context.Context, draft domain.DraftOrder) error {
	return r.store.with(ctx, func(st *state) error {
		if _, exists := st.drafts[draft.ID]; exists {
			return repositories.Conflict("drafts.insert", "draft %s already exists", draft.ID)
		}
		st.drafts[draft.ID] = cloneDraft(draft)
		return nil
	})
}

func (r draftRepo) Update(ctx context.Context, draft domain.DraftOrder) error {
	return r.store.with(ctx, func(st *state) error {
		if _, exists := st.drafts[draft.ID]; !exists {
			return repositories.NotFound("drafts.update", "draft %s not found", draft.ID)
		}
		st.drafts[draft.ID] = cloneDraft(draft)
		return nil
	})
}

func (r draftRepo) FindByID(ctx context.Context, draftID string) (domain.DraftOrder, error) {
	var out domain.DraftOrder
	err := r.store.with(ctx, func(st *state) error {
		draft, ok := st.drafts[draftID]
		if !ok {
			return repositories.NotFound("drafts.get", "draft %s not found", draftID)
		}
		out = cloneDraft(draft)
		return nil
	})
	return out, err
}

func (r draftRepo) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.DraftOrder, error) {
	var out domain.DraftOrder
	err := r.store.with(ctx, func(st *state) error {
		for _, draft := range st.drafts {
			if gatewayOrderID != "" && draft.GatewayOrderID == gatewayOrderID {
				out = cloneDraft(draft)
				return nil
			}
		}
		return repositories.NotFound("drafts.get", "no draft for gateway order %s", gatewayOrderID)
	})
	return out, err
}

func (r draftRepo) Delete(ctx context.Context, draftID string) error {
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.drafts[draftID]; !ok {
			return repositories.NotFound("drafts.delete", "draft %s not found", draftID)
		}
		delete(st.drafts, draftID)
		return nil
	})
}

func (r draftRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.DraftOrder, error) {
	var out []domain.DraftOrder
	err := r.store.with(ctx, func(st *state) error {
		for _, draft := range st.drafts {
			if draft.Expired(now) {
				out = append(out, cloneDraft(draft))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
