package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

// Signer signs the V4 string-to-sign for preview URLs.
type Signer interface {
	// Email is the GoogleAccessID the URL is issued under.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

var errEmptyKey = errors.New("storage: preview signing key is empty")

// KeySigner signs with the private key of the service account that owns the preview bucket.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// LoadPreviewSigner accepts the API_STORAGE_SIGNED_URL_KEY value: either the service account JSON
// itself or a path to it.
func LoadPreviewSigner(value string) (*KeySigner, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errEmptyKey
	}
	if strings.HasPrefix(value, "{") {
		return ParsePreviewSigner([]byte(value))
	}
	raw, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("storage: read preview signing key: %w", err)
	}
	return ParsePreviewSigner(raw)
}

// ParsePreviewSigner reads a service account JSON key.
func ParsePreviewSigner(raw []byte) (*KeySigner, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errEmptyKey
	}
	conf, err := google.JWTConfigFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("storage: decode preview signing key: %w", err)
	}
	email := strings.TrimSpace(conf.Email)
	if email == "" {
		return nil, errors.New("storage: preview signing key has no client_email")
	}
	key, err := rsaKey(conf.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: key}, nil
}

func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes is RSASSA-PKCS1-v1_5 over SHA-256, the GOOG4-RSA-SHA256 scheme.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errNoSigner
	}
	if len(payload) == 0 {
		return nil, errors.New("storage: nothing to sign")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign preview url: %w", err)
	}
	return sig, nil
}

func rsaKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("storage: preview signing key is not PEM encoded")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: preview signing key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse preview signing key: %w", err)
	}
	return key, nil
}
