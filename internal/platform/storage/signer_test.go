package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func serviceAccountJSON(t *testing.T, email string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	raw, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "wyshkit-test",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"client_email":   email,
		"token_uri":      "https://oauth2.googleapis.com/token",
	})
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return raw, key
}

func TestPreviewSignerSignsWithServiceAccountKey(t *testing.T) {
	raw, key := serviceAccountJSON(t, "previews@wyshkit-test.iam.gserviceaccount.com")

	signer, err := LoadPreviewSigner(string(raw))
	if err != nil {
		t.Fatalf("LoadPreviewSigner: %v", err)
	}
	if signer.Email() != "previews@wyshkit-test.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %q", signer.Email())
	}

	payload := []byte("GOOG4-RSA-SHA256\n20261018T000000Z")
	sig, err := signer.SignBytes(context.Background(), payload)
	if err != nil {
		t.Fatalf("SignBytes: %v", err)
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestPreviewSignerLoadsKeyFile(t *testing.T) {
	raw, _ := serviceAccountJSON(t, "svc@wyshkit-test.iam.gserviceaccount.com")
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	signer, err := LoadPreviewSigner(path)
	if err != nil {
		t.Fatalf("LoadPreviewSigner: %v", err)
	}

	client, err := NewClient(signer, "wyshkit-previews")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	signed, err := client.ReadURL(context.Background(), "orders/ord_1/previews/1.png")
	if err != nil {
		t.Fatalf("ReadURL: %v", err)
	}
	if !strings.Contains(signed.URL, "X-Goog-Credential=svc%40wyshkit-test.iam.gserviceaccount.com") {
		t.Fatalf("url not issued for the key's account: %s", signed.URL)
	}
	if !signed.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected a future expiry, got %v", signed.ExpiresAt)
	}
}

func TestPreviewSignerRejectsBadKeys(t *testing.T) {
	if _, err := LoadPreviewSigner("  "); !errors.Is(err, errEmptyKey) {
		t.Fatalf("expected empty key error, got %v", err)
	}
	if _, err := ParsePreviewSigner([]byte(`{"type":"service_account","client_email":"svc@example.com","private_key":"nope"}`)); err == nil {
		t.Fatalf("expected a non-PEM key to be rejected")
	}
	if _, err := LoadPreviewSigner(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected a missing key file to be rejected")
	}

	var nilSigner *KeySigner
	if _, err := nilSigner.SignBytes(context.Background(), []byte("x")); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}
}
