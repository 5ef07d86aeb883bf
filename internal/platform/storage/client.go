package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultUploadExpiry = 15 * time.Minute
	defaultReadExpiry   = 5 * time.Minute
	maxReadExpiry       = 15 * time.Minute
	defaultMaxSize      = 20 << 20
)

// DefaultPreviewContentTypes are accepted for preview proofs.
var DefaultPreviewContentTypes = []string{"image/png", "image/jpeg", "image/webp", "application/pdf"}

var (
	errNoSigner          = errors.New("storage: signer is required")
	errInvalidBucket     = errors.New("storage: bucket name is required")
	errInvalidObject     = errors.New("storage: object name is required")
	errContentTypeDenied = errors.New("storage: content type not allowed")
	errExpiryTooLong     = errors.New("storage: expiry exceeds permitted maximum")
)

// Client signs V4 URLs for objects in the preview bucket.
type Client struct {
	signer       Signer
	bucket       string
	contentTypes []string
	maxSize      int64
	readExpiry   time.Duration
	now          func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithReadExpiry sets the lifetime of read URLs, capped at 15 minutes.
func WithReadExpiry(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.readExpiry = d
		}
	}
}

// WithContentTypes restricts upload content types.
func WithContentTypes(types ...string) ClientOption {
	return func(c *Client) {
		if len(types) > 0 {
			c.contentTypes = types
		}
	}
}

// NewClient constructs a signed URL client for bucket.
func NewClient(signer Signer, bucket string, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}
	client := &Client{
		signer:       signer,
		bucket:       strings.TrimSpace(bucket),
		contentTypes: DefaultPreviewContentTypes,
		maxSize:      defaultMaxSize,
		readExpiry:   defaultReadExpiry,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.readExpiry > maxReadExpiry {
		return nil, errExpiryTooLong
	}
	return client, nil
}

// Bucket names the bucket URLs are signed for.
func (c *Client) Bucket() string { return c.bucket }

// SignedURL is a signed URL plus the headers the caller must send with it.
type SignedURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Headers   map[string]string `json:"headers,omitempty"`
	Object    string            `json:"object"`
}

// UploadURL signs a PUT for object. The size limit is enforced by GCS through the
// x-goog-content-length-range header.
func (c *Client) UploadURL(ctx context.Context, object, contentType string) (SignedURL, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURL{}, errInvalidObject
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !contentTypeAllowed(contentType, c.contentTypes) {
		return SignedURL{}, fmt.Errorf("%w: %q", errContentTypeDenied, contentType)
	}
	sizeRange := fmt.Sprintf("0,%d", c.maxSize)
	expires := c.now().Add(defaultUploadExpiry)
	signed, err := storage.SignedURL(c.bucket, object, &storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         storage.SigningSchemeV4,
		Method:         "PUT",
		ContentType:    contentType,
		Headers:        []string{"x-goog-content-length-range:" + sizeRange},
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return SignedURL{
		URL:       signed,
		Method:    "PUT",
		ExpiresAt: expires,
		Object:    object,
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": sizeRange,
		},
	}, nil
}

// ReadURL signs a short-lived GET for object, served inline.
func (c *Client) ReadURL(ctx context.Context, object string) (SignedURL, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURL{}, errInvalidObject
	}
	expires := c.now().Add(c.readExpiry)
	signed, err := storage.SignedURL(c.bucket, object, &storage.SignedURLOptions{
		GoogleAccessID:  c.signer.Email(),
		Scheme:          storage.SigningSchemeV4,
		Method:          "GET",
		Expires:         expires,
		QueryParameters: url.Values{"response-content-disposition": {"inline"}},
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("storage: sign read url: %w", err)
	}
	return SignedURL{URL: signed, Method: "GET", ExpiresAt: expires, Object: object}, nil
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
			continue
		case candidate == "*" || candidate == contentType:
			return true
		case strings.HasSuffix(candidate, "/*") && strings.HasPrefix(contentType, strings.TrimSuffix(candidate, "*")):
			return true
		}
	}
	return false
}
