package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/textutil"
)

// Provider names used in configuration and stored on drafts and orders.
const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// MetadataDraftID is the gateway metadata key that links a gateway order back to its draft.
const MetadataDraftID = "draftId"

// Gateway metadata limits. Razorpay notes allow 15 keys of 256 characters.
const (
	maxMetadataKeys  = 15
	maxMetadataValue = 256
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrGatewayUnavailable matches transient gateway failures worth retrying.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrWebhookSignature is returned when a webhook body fails signature verification.
	ErrWebhookSignature = errors.New("payments: webhook signature invalid")
)

// Logger is the structured logging hook shared by providers.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// OpenOrderRequest asks the gateway for an order the client can pay against.
type OpenOrderRequest struct {
	Amount   int64
	Currency string
	// Receipt is the draft id; it doubles as the idempotency key where the gateway supports one.
	Receipt  string
	Metadata map[string]string
}

// GatewayOrder is the gateway-side order a client completes payment against.
type GatewayOrder struct {
	ID           string
	Provider     string
	Amount       int64
	Currency     string
	PublicKey    string
	ClientSecret string
}

// VerifyRequest carries the client-returned payment proof.
type VerifyRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// RefundRequest defines a full or partial refund.
type RefundRequest struct {
	PaymentID      string
	Amount         int64
	IdempotencyKey string
	Reason         string
}

// RefundResult is the gateway's view of a refund.
type RefundResult struct {
	ID     string
	Status string
	Amount int64
}

// WebhookEvent is a verified, normalised gateway notification.
type WebhookEvent struct {
	Provider       string
	EventID        string
	Type           string
	GatewayOrderID string
	PaymentID      string
	Amount         int64
	Currency       string
	Captured       bool
	// Reference is the draft id the payment was opened for, when the gateway echoes it back.
	Reference string
}

// Provider is implemented by each payment gateway adapter.
type Provider interface {
	Name() string
	OpenOrder(ctx context.Context, req OpenOrderRequest) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (bool, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (WebhookEvent, error)
}

// GatewayError wraps a failed gateway call. Temporary errors match ErrGatewayUnavailable.
type GatewayError struct {
	Provider  string
	Op        string
	Status    int
	Temporary bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is lets callers test transient failures with errors.Is(err, ErrGatewayUnavailable).
func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayUnavailable && e.Temporary
}

// IsTransient reports whether a gateway call may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

func temporaryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// LimitMetadata enforces the gateway metadata budget: at most 15 keys in sorted order, values
// truncated to 256 characters, blank entries dropped.
func LimitMetadata(md map[string]string) map[string]string {
	md = textutil.NormalizeStringMap(md)
	keys := make([]string, 0, len(md))
	for k, v := range md {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	if len(keys) > maxMetadataKeys {
		keys = keys[:maxMetadataKeys]
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = truncateRunes(md[k], maxMetadataValue)
	}
	return out
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// Manager routes calls to a provider by preference, then currency, then default.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied providers, keyed by Provider.Name().
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for i, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("payments: provider %d is nil", i)
		}
		key := strings.ToLower(strings.TrimSpace(p.Name()))
		if key == "" {
			return nil, fmt.Errorf("payments: provider %d has no name", i)
		}
		if _, dup := registered[key]; dup {
			return nil, fmt.Errorf("payments: provider %q registered twice", key)
		}
		registered[key] = p
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Resolve picks the provider for a new gateway order.
func (m *Manager) Resolve(pc PaymentContext) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	if p, ok := m.providers[strings.ToLower(strings.TrimSpace(pc.PreferredProvider))]; ok {
		return p, nil
	}
	if key, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(pc.Currency))]; ok {
		if p, ok := m.providers[key]; ok {
			return p, nil
		}
	}
	if p, ok := m.providers[m.defaultProvider]; ok {
		return p, nil
	}
	if len(m.providers) == 1 {
		for _, p := range m.providers {
			return p, nil
		}
	}
	return nil, ErrUnsupportedProvider
}

// Provider returns the provider registered under name. Used for verification and refunds, which
// must go to the gateway that opened the order.
func (m *Manager) Provider(name string) (Provider, error) {
	if m == nil {
		return nil, ErrUnsupportedProvider
	}
	p, ok := m.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}

// OpenOrder opens a gateway order on the resolved provider.
func (m *Manager) OpenOrder(ctx context.Context, pc PaymentContext, req OpenOrderRequest) (GatewayOrder, error) {
	provider, err := m.Resolve(pc)
	if err != nil {
		return GatewayOrder{}, err
	}
	req.Metadata = LimitMetadata(req.Metadata)
	order, err := provider.OpenOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = provider.Name()
	return order, nil
}

// VerifyPayment checks a client payment proof with the named provider.
func (m *Manager) VerifyPayment(ctx context.Context, providerName string, req VerifyRequest) (bool, error) {
	provider, err := m.Provider(providerName)
	if err != nil {
		return false, err
	}
	return provider.VerifyPayment(ctx, req)
}

// Refund issues a refund with the named provider.
func (m *Manager) Refund(ctx context.Context, providerName string, req RefundRequest) (RefundResult, error) {
	provider, err := m.Provider(providerName)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}

// ParseWebhook verifies and decodes a webhook delivered to the named provider's endpoint.
func (m *Manager) ParseWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) (WebhookEvent, error) {
	provider, err := m.Provider(providerName)
	if err != nil {
		return WebhookEvent{}, err
	}
	event, err := provider.ParseWebhook(ctx, payload, headers)
	if err != nil {
		return WebhookEvent{}, err
	}
	event.Provider = provider.Name()
	return event, nil
}
