package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func newTestClient(t *testing.T, signer *fakeSigner, now time.Time) *Client {
	t.Helper()
	client, err := NewClient(signer, "wyshkit-previews", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestUploadURLSignsPut(t *testing.T) {
	signer := &fakeSigner{email: "previews@example.iam.gserviceaccount.com"}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, signer, now)

	res, err := client.UploadURL(context.Background(), "previews/orders/ord_1/items/it_1/up_1/proof.png", "image/PNG")
	if err != nil {
		t.Fatalf("UploadURL: %v", err)
	}
	if res.Method != "PUT" {
		t.Fatalf("expected PUT, got %s", res.Method)
	}
	if !res.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	if res.Headers["Content-Type"] != "image/png" {
		t.Fatalf("expected normalised content type header, got %v", res.Headers)
	}
	if res.Headers["x-goog-content-length-range"] != "0,20971520" {
		t.Fatalf("expected size range header, got %v", res.Headers)
	}
	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(parsed.RawQuery, "X-Goog-Signature=") {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if len(signer.payloads) != 1 {
		t.Fatalf("expected one signing call, got %d", len(signer.payloads))
	}
}

func TestUploadURLRejectsContentType(t *testing.T) {
	client := newTestClient(t, &fakeSigner{email: "svc@example.com"}, time.Now())
	_, err := client.UploadURL(context.Background(), "previews/orders/o/items/i/u/x.exe", "application/x-msdownload")
	if !errors.Is(err, errContentTypeDenied) {
		t.Fatalf("expected content type error, got %v", err)
	}
}

func TestReadURLIsInline(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	client := newTestClient(t, &fakeSigner{email: "svc@example.com"}, now)
	res, err := client.ReadURL(context.Background(), "previews/orders/o/items/i/u/proof.jpg")
	if err != nil {
		t.Fatalf("ReadURL: %v", err)
	}
	if res.Method != "GET" || !res.ExpiresAt.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("unexpected result %#v", res)
	}
	if !strings.Contains(res.URL, "response-content-disposition=inline") {
		t.Fatalf("expected inline disposition in %s", res.URL)
	}
}

func TestReadURLPropagatesSignerError(t *testing.T) {
	boom := errors.New("kms unavailable")
	client := newTestClient(t, &fakeSigner{email: "svc@example.com", err: boom}, time.Now())
	if _, err := client.ReadURL(context.Background(), "previews/orders/o/items/i/u/p.png"); !errors.Is(err, boom) {
		t.Fatalf("expected signer error, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, "bucket"); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
	if _, err := NewClient(&fakeSigner{email: "svc@example.com"}, " "); !errors.Is(err, errInvalidBucket) {
		t.Fatalf("expected bucket error, got %v", err)
	}
	if _, err := NewClient(&fakeSigner{email: "svc@example.com"}, "b", WithReadExpiry(time.Hour)); !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected expiry error, got %v", err)
	}
}
