package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

// Roles carried in the Firebase custom claim.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleStaff  = "staff"
)

// Identity captures the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID      string
	Email    string
	Roles    []string
	SellerID string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// BuyerActor is the actor used for buyer-facing endpoints.
func (i *Identity) BuyerActor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	return domain.Actor{Kind: domain.ActorBuyer, ID: i.UID}
}

// SellerActor returns the seller actor when the identity operates a storefront.
func (i *Identity) SellerActor() (domain.Actor, bool) {
	if i == nil || !i.HasRole(RoleSeller) || strings.TrimSpace(i.SellerID) == "" {
		return domain.Actor{}, false
	}
	return domain.Actor{Kind: domain.ActorSeller, ID: i.SellerID}, true
}

// StaffActor returns the staff actor for back-office operations.
func (i *Identity) StaffActor() (domain.Actor, bool) {
	if i == nil || !i.HasRole(RoleStaff) {
		return domain.Actor{}, false
	}
	return domain.Actor{Kind: domain.ActorStaff, ID: i.UID}, true
}

// Actors lists every actor the identity may act as, most privileged last.
func (i *Identity) Actors() []domain.Actor {
	if i == nil {
		return nil
	}
	actors := []domain.Actor{i.BuyerActor()}
	if seller, ok := i.SellerActor(); ok {
		actors = append(actors, seller)
	}
	if staff, ok := i.StaffActor(); ok {
		actors = append(actors, staff)
	}
	return actors
}

type contextKey string

const identityContextKey contextKey = "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
