package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultCurrency         = "INR"
	defaultOIDCIssuer       = "https://accounts.google.com"
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultIdempotencyHdr   = "Idempotency-Key"
	defaultPubSubTopic      = "order-events"
	defaultKafkaTopic       = "order-events"
	defaultRedisChannel     = "wyshkit:events"
	defaultRedisLockKey     = "wyshkit:sweep-leader"
	defaultPostgresMaxConns = 10
)

// Storage backends selectable with API_STORAGE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment    string
	StorageBackend string
	Server         ServerConfig
	Firebase       FirebaseConfig
	Firestore      FirestoreConfig
	Postgres       PostgresConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
	PubSub         PubSubConfig
	Storage        StorageConfig
	PSP            PSPConfig
	Checkout       CheckoutConfig
	Pricing        PricingConfig
	Deadlines      DeadlineConfig
	Realtime       RealtimeConfig
	Security       SecurityConfig
	Idempotency    IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the pgx pool used by the postgres backend.
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	AutoMigrate bool
}

// RedisConfig enables realtime fan-out across instances and the sweep leader lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	LockKey  string
}

// KafkaConfig enables the optional Kafka change-event sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// PubSubConfig enables the Pub/Sub change-event sink.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// StorageConfig names the bucket holding preview assets and the signer used for read URLs.
type StorageConfig struct {
	PreviewBucket string
	SignedURLKey  string
	SignedURLTTL  time.Duration
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	DefaultProvider       string
	DefaultCurrency       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	StripeAPIKey          string
	StripeWebhookSecret   string
	RequestTimeout        time.Duration
}

// CheckoutConfig tunes draft and reservation lifetimes.
type CheckoutConfig struct {
	ReservationTTL  time.Duration
	DraftTTL        time.Duration
	PriceTolerance  int64
	PriceFreshness  time.Duration
	MaxLineQuantity int
}

// PricingConfig holds the fee schedule applied by the pricing engine.
type PricingConfig struct {
	BaseDeliveryFee       int64
	BaseDistanceMeters    int
	PerKmFee              int64
	FreeDeliveryThreshold int64
	MaxDistanceMeters     int
	PlatformFeeBasis      int64
}

// DeadlineConfig holds SLA windows and sweep cadence.
type DeadlineConfig struct {
	AcceptWindow  time.Duration
	DetailsWindow time.Duration
	PreviewWindow time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	RefundRetries int
}

// RealtimeConfig tunes the websocket channel.
type RealtimeConfig struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	SendBuffer     int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	OIDC OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL        string
	Audience       string
	Issuers        []string
	ServiceAccount []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

func buildOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map) so callers
// can build the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := buildOptions(opts)
	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = map[string]string{}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, .env overrides, the environment,
// and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := buildOptions(opts)
	env, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	l := lookup(env)

	cfg := Config{
		Environment:    strings.ToLower(l.str("API_ENVIRONMENT", "local")),
		StorageBackend: strings.ToLower(l.str("API_STORAGE_BACKEND", BackendFirestore)),
		Server: ServerConfig{
			Port:         l.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  l.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: l.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  l.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       l.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: l.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    l.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: l.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:         l.str("API_POSTGRES_DSN", ""),
			MaxConns:    l.int("API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			AutoMigrate: l.bool("API_POSTGRES_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     l.str("API_REDIS_ADDR", ""),
			Password: l.str("API_REDIS_PASSWORD", ""),
			DB:       l.int("API_REDIS_DB", 0),
			Channel:  l.str("API_REDIS_CHANNEL", defaultRedisChannel),
			LockKey:  l.str("API_REDIS_LOCK_KEY", defaultRedisLockKey),
		},
		Kafka: KafkaConfig{
			Brokers: l.csv("API_KAFKA_BROKERS"),
			Topic:   l.str("API_KAFKA_TOPIC", defaultKafkaTopic),
		},
		PubSub: PubSubConfig{
			ProjectID: l.str("API_PUBSUB_PROJECT_ID", ""),
			Topic:     l.str("API_PUBSUB_TOPIC", defaultPubSubTopic),
		},
		Storage: StorageConfig{
			PreviewBucket: l.str("API_STORAGE_PREVIEW_BUCKET", ""),
			SignedURLKey:  l.str("API_STORAGE_SIGNED_URL_KEY", ""),
			SignedURLTTL:  l.duration("API_STORAGE_SIGNED_URL_TTL", 15*time.Minute),
		},
		PSP: PSPConfig{
			DefaultProvider:       strings.ToLower(l.str("API_PSP_DEFAULT_PROVIDER", "razorpay")),
			DefaultCurrency:       strings.ToUpper(l.str("API_PSP_DEFAULT_CURRENCY", defaultCurrency)),
			RazorpayKeyID:         l.str("API_PSP_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:     l.str("API_PSP_RAZORPAY_KEY_SECRET", ""),
			RazorpayWebhookSecret: l.str("API_PSP_RAZORPAY_WEBHOOK_SECRET", ""),
			RazorpayBaseURL:       l.str("API_PSP_RAZORPAY_BASE_URL", "https://api.razorpay.com/v1"),
			StripeAPIKey:          l.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret:   l.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			RequestTimeout:        l.duration("API_PSP_REQUEST_TIMEOUT", 10*time.Second),
		},
		Checkout: CheckoutConfig{
			ReservationTTL:  l.duration("API_CHECKOUT_RESERVATION_TTL", 10*time.Minute),
			DraftTTL:        l.duration("API_CHECKOUT_DRAFT_TTL", 30*time.Minute),
			PriceTolerance:  int64(l.int("API_CHECKOUT_PRICE_TOLERANCE", 100)),
			PriceFreshness:  l.duration("API_CHECKOUT_PRICE_FRESHNESS", 5*time.Minute),
			MaxLineQuantity: l.int("API_CHECKOUT_MAX_LINE_QUANTITY", 20),
		},
		Pricing: PricingConfig{
			BaseDeliveryFee:       int64(l.int("API_PRICING_BASE_DELIVERY_FEE", 4900)),
			BaseDistanceMeters:    l.int("API_PRICING_BASE_DISTANCE_METERS", 2000),
			PerKmFee:              int64(l.int("API_PRICING_PER_KM_FEE", 1000)),
			FreeDeliveryThreshold: int64(l.int("API_PRICING_FREE_DELIVERY_THRESHOLD", 99900)),
			MaxDistanceMeters:     l.int("API_PRICING_MAX_DISTANCE_METERS", 15000),
			PlatformFeeBasis:      int64(l.int("API_PRICING_PLATFORM_FEE_BPS", 0)),
		},
		Deadlines: DeadlineConfig{
			AcceptWindow:  l.duration("API_DEADLINE_ACCEPT_WINDOW", 5*time.Minute),
			DetailsWindow: l.duration("API_DEADLINE_DETAILS_WINDOW", 12*time.Hour),
			PreviewWindow: l.duration("API_DEADLINE_PREVIEW_WINDOW", 24*time.Hour),
			SweepInterval: l.duration("API_DEADLINE_SWEEP_INTERVAL", time.Minute),
			SweepBatch:    l.int("API_DEADLINE_SWEEP_BATCH", 100),
			RefundRetries: l.int("API_DEADLINE_REFUND_RETRIES", 5),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins: l.csv("API_REALTIME_ALLOWED_ORIGINS"),
			WriteTimeout:   l.duration("API_REALTIME_WRITE_TIMEOUT", 10*time.Second),
			SendBuffer:     l.int("API_REALTIME_SEND_BUFFER", 32),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:        l.str("API_SECURITY_OIDC_JWKS_URL", "https://www.googleapis.com/oauth2/v3/certs"),
				Audience:       l.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:        l.csv("API_SECURITY_OIDC_ISSUERS"),
				ServiceAccount: l.csv("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: l.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHdr),
			TTL:    l.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	secretFields := []*string{
		&cfg.PSP.RazorpayKeySecret,
		&cfg.PSP.RazorpayWebhookSecret,
		&cfg.PSP.StripeAPIKey,
		&cfg.PSP.StripeWebhookSecret,
		&cfg.Postgres.DSN,
		&cfg.Redis.Password,
		&cfg.Storage.SignedURLKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.StorageBackend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
	default:
		invalid = append(invalid, "StorageBackend")
	}
	if cfg.Environment != "local" && cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	switch cfg.PSP.DefaultProvider {
	case "razorpay":
		if cfg.Environment != "local" && (cfg.PSP.RazorpayKeyID == "" || cfg.PSP.RazorpayKeySecret == "") {
			invalid = append(invalid, "PSP.Razorpay")
		}
	case "stripe":
		if cfg.Environment != "local" && cfg.PSP.StripeAPIKey == "" {
			invalid = append(invalid, "PSP.StripeAPIKey")
		}
	default:
		invalid = append(invalid, "PSP.DefaultProvider")
	}
	if len(cfg.PSP.DefaultCurrency) != 3 {
		invalid = append(invalid, "PSP.DefaultCurrency")
	}
	if cfg.Checkout.ReservationTTL <= 0 {
		invalid = append(invalid, "Checkout.ReservationTTL")
	}
	if cfg.Checkout.DraftTTL < cfg.Checkout.ReservationTTL {
		invalid = append(invalid, "Checkout.DraftTTL")
	}
	if cfg.Checkout.PriceTolerance < 0 {
		invalid = append(invalid, "Checkout.PriceTolerance")
	}
	if cfg.Pricing.MaxDistanceMeters <= 0 {
		invalid = append(invalid, "Pricing.MaxDistanceMeters")
	}
	if cfg.Deadlines.AcceptWindow <= 0 || cfg.Deadlines.DetailsWindow <= 0 || cfg.Deadlines.PreviewWindow <= 0 {
		invalid = append(invalid, "Deadlines")
	}
	if cfg.Deadlines.SweepInterval <= 0 {
		invalid = append(invalid, "Deadlines.SweepInterval")
	}
	if cfg.Deadlines.SweepBatch <= 0 {
		invalid = append(invalid, "Deadlines.SweepBatch")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" || cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency")
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

type lookup map[string]string

func (l lookup) str(key, fallback string) string {
	if value := strings.TrimSpace(l[key]); value != "" {
		return value
	}
	return fallback
}

func (l lookup) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(l[key])); err == nil {
		return d
	}
	return fallback
}

func (l lookup) int(key string, fallback int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(l[key])); err == nil {
		return parsed
	}
	return fallback
}

func (l lookup) bool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(l[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (l lookup) csv(key string) []string {
	out := []string{}
	for _, part := range strings.Split(l[key], ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
