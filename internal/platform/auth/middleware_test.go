package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/devwyshkit/wyshkit-tiru-sub001/internal/domain"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_SellerIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"role":      []interface{}{"Seller"},
				"seller_id": "seller-9",
				"email":     "maker@example.com",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleSeller)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seller, ok := identity.SellerActor()
		if !ok || seller != (domain.Actor{Kind: domain.ActorSeller, ID: "seller-9"}) {
			t.Fatalf("unexpected seller actor %+v", seller)
		}
		if identity.BuyerActor().ID != "uid-123" {
			t.Fatalf("expected buyer actor to use uid")
		}
		if _, ok := identity.StaffActor(); ok {
			t.Fatalf("seller must not be staff")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called, status %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("unexpected token forwarded: %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_RejectsMissingRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]interface{}{}}}
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	handler := NewAuthenticator(&stubTokenVerifier{}).RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_WrapsVerifierFailure(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")})
	_, err := authn.Authenticate(context.Background(), "token")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestRolesFromClaims_MapForm(t *testing.T) {
	roles := rolesFromClaims(map[string]interface{}{
		"role": map[string]interface{}{"staff": true, "seller": false},
	}, "role")
	if len(roles) != 1 || roles[0] != RoleStaff {
		t.Fatalf("unexpected roles %v", roles)
	}
}
