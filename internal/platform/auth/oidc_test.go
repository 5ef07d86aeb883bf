package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

func newJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     kid,
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSCache_CachesKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server, hits := newJWKSServer(t, key, "k1")
	cache := NewJWKSCache(server.URL)

	for i := 0; i < 3; i++ {
		if _, err := cache.Key(context.Background(), "k1"); err != nil {
			t.Fatalf("key lookup: %v", err)
		}
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
}

func TestRequireOIDC_AcceptsSchedulerToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server, _ := newJWKSServer(t, key, "k1")
	validator := NewOIDCValidator(NewJWKSCache(server.URL), "https://api.example.com/internal/sweep",
		[]string{"https://accounts.google.com"}, []string{"scheduler@proj.iam.gserviceaccount.com"})

	raw := signToken(t, key, "k1", jwt.MapClaims{
		"iss":   "https://accounts.google.com",
		"aud":   "https://api.example.com/internal/sweep",
		"sub":   "1234",
		"email": "scheduler@proj.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	var seen *ServiceIdentity
	handler := validator.RequireOIDC()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || seen == nil {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
	if seen.Email != "scheduler@proj.iam.gserviceaccount.com" {
		t.Fatalf("unexpected service identity %+v", seen)
	}
}

func TestRequireOIDC_RejectsWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	server, _ := newJWKSServer(t, key, "k1")
	validator := NewOIDCValidator(NewJWKSCache(server.URL), "https://api.example.com/internal/sweep", nil, nil)

	raw := signToken(t, key, "k1", jwt.MapClaims{
		"aud": "https://elsewhere.example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	handler := validator.RequireOIDC()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
