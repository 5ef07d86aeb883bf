package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/handlers"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/payments"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/auth"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/config"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/events"
	pfirestore "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/idempotency"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/observability"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/retry"
	platformstorage "github.com/devwyshkit/wyshkit-tiru-sub001/internal/platform/storage"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/realtime"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories"
	firestoreRepo "github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/firestore"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/memory"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/repositories/postgres"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/services"
	"github.com/devwyshkit/wyshkit-tiru-sub001/internal/workers/sweeper"
)

const (
	idempotencyCollection = "idempotencyKeys"
	checkoutRateLimit     = 10
	checkoutRateWindow    = time.Minute
	healthProbeCollection = "sellers"
)

// Services bundles the service layer handed to handlers and workers.
type Services struct {
	Pricing   *services.PricingEngine
	Stock     *services.StockLedger
	Notifier  *services.ChangeNotifier
	Cart      *services.CartService
	Checkout  *services.CheckoutService
	Creator   *services.OrderCreator
	Payments  *services.PaymentService
	Orders    *services.OrderService
	Deadlines *services.DeadlineEnforcer
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Repositories  repositories.Registry
	Services      Services
	Authenticator *auth.Authenticator
	Hub           *realtime.Hub
	Health        repositories.HealthRepository
	Build         handlers.BuildInfo

	idempotency idempotency.Store
	redis       redis.UniversalClient
	source      realtime.Source
	oidc        func(http.Handler) http.Handler

	mu      sync.Mutex
	worker  *sweeper.Worker
	cancel  context.CancelFunc
	hubDone chan struct{}
	closers []func(context.Context) error
}

// Option customises container construction. Tests use them to swap infrastructure for fakes.
type Option func(*options)

type options struct {
	registry repositories.Registry
	verifier auth.TokenVerifier
	gateway  services.Gateway
	clock    func() time.Time
	build    handlers.BuildInfo
}

// WithRegistry supplies a prebuilt registry instead of selecting one from configuration.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithTokenVerifier replaces the Firebase verifier.
func WithTokenVerifier(v auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithGateway replaces the payment provider manager.
func WithGateway(g services.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithClock injects the clock used by services.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithBuildInfo records version metadata reported by /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *options) { o.build = info }
}

// NewContainer constructs the runtime dependencies. Every client it opens is released by Close,
// including on a failed construction.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Environment
	}

	c := &Container{Config: cfg, Logger: logger, Build: o.build}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var checks []repositories.DependencyCheck
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		c.redis = client
		c.addCloser(func(context.Context) error { return client.Close() })
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	var provider *pfirestore.Provider
	reg := o.registry
	if reg == nil {
		reg, provider, err = c.buildRegistry(ctx, cfg, &checks)
		if err != nil {
			return nil, err
		}
	}
	c.Repositories = reg
	c.addCloser(reg.Close)
	if c.Health == nil {
		c.Health = reg.Health()
	}

	verifier := o.verifier
	if verifier == nil {
		verifier, err = auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
	}
	c.Authenticator = auth.NewAuthenticator(verifier)
	c.oidc = buildOIDCMiddleware(logger.Named("auth"), cfg)

	sinks, err := c.buildSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gateway := o.gateway
	if gateway == nil {
		gateway, err = buildPaymentManager(cfg, logger.Named("payments"))
		if err != nil {
			return nil, err
		}
	}

	assets, inspector, err := c.buildPreviewStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	c.Services, err = buildServices(reg, cfg, serviceInputs{
		gateway:   gateway,
		sinks:     sinks,
		assets:    assets,
		inspector: inspector,
		clock:     o.clock,
		logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	c.idempotency, err = buildIdempotencyStore(c.redis, provider)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) buildRegistry(ctx context.Context, cfg config.Config, checks *[]repositories.DependencyCheck) (repositories.Registry, *pfirestore.Provider, error) {
	healthOpts := []repositories.DependencyHealthOption{repositories.WithVersion(c.Build.Version)}
	switch cfg.StorageBackend {
	case config.BackendMemory:
		health, err := repositories.NewDependencyHealthRepository(*checks, healthOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		c.Health = health
		return memory.NewRegistry().WithHealth(health), nil, nil

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		*checks = append(*checks, repositories.DependencyCheck{Name: "postgres", Check: pool.Ping})
		health, err := repositories.NewDependencyHealthRepository(*checks, healthOpts...)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		c.Health = health
		reg, err := postgres.NewRegistry(pool, health)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return reg, nil, nil

	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		*checks = append(*checks, repositories.DependencyCheck{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collection(healthProbeCollection).Limit(1).Documents(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
		health, err := repositories.NewDependencyHealthRepository(*checks, healthOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("build health repository: %w", err)
		}
		c.Health = health
		reg, err := firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			return nil, nil, err
		}
		return reg, provider, nil
	}
}

// buildSinks assembles the change-event fan-out. With Redis configured the hub is fed from the
// Redis channel so every replica sees every event; otherwise it receives events directly.
func (c *Container) buildSinks(ctx context.Context, cfg config.Config) ([]events.Sink, error) {
	hub, err := realtime.NewHub(realtime.Config{
		Verifier:       c.Authenticator,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		SendBuffer:     cfg.Realtime.SendBuffer,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		Logger:         c.Logger.Named("realtime"),
	})
	if err != nil {
		return nil, fmt.Errorf("build realtime hub: %w", err)
	}
	c.Hub = hub

	var sinks []events.Sink
	if c.redis != nil {
		redisSink, err := events.NewRedisSink(c.redis, cfg.Redis.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, redisSink)
		c.source = redisSink
	} else {
		sinks = append(sinks, hub)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		writer.ErrorLogger = observability.NewPrintfAdapter(c.Logger.Named("kafka"))
		kafkaSink, err := events.NewKafkaSink(writer)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		c.addCloser(func(context.Context) error { return kafkaSink.Close() })
		sinks = append(sinks, kafkaSink)
	}

	if project := strings.TrimSpace(cfg.PubSub.ProjectID); project != "" && strings.TrimSpace(cfg.PubSub.Topic) != "" {
		client, err := pubsub.NewClient(ctx, project)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.Topic)
		c.addCloser(func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		pubsubSink, err := events.NewPubSubSink(topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pubsubSink)
	}
	return sinks, nil
}

func buildPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	policy := retry.Default()
	log := payments.Logger(observability.ServiceLogger(logger))

	var providers []payments.Provider
	if strings.TrimSpace(cfg.PSP.RazorpayKeyID) != "" {
		rp, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
			KeyID:         cfg.PSP.RazorpayKeyID,
			KeySecret:     cfg.PSP.RazorpayKeySecret,
			WebhookSecret: cfg.PSP.RazorpayWebhookSecret,
			BaseURL:       cfg.PSP.RazorpayBaseURL,
			Timeout:       cfg.PSP.RequestTimeout,
			Retry:         &policy,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		providers = append(providers, rp)
	}
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		sp, err := payments.NewStripeProvider(payments.StripeConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Retry:         &policy,
			Logger:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers = append(providers, sp)
	}
	if len(providers) == 0 {
		return nil, errors.New("payments: configure razorpay or stripe credentials")
	}
	manager, err := payments.NewManager(providers, payments.WithDefaultProvider(cfg.PSP.DefaultProvider))
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

// buildPreviewStorage returns nil collaborators when no preview bucket is configured; preview
// uploads then fail with an unavailable error.
func (c *Container) buildPreviewStorage(ctx context.Context, cfg config.Config) (services.PreviewAssets, services.AssetInspector, error) {
	bucket := strings.TrimSpace(cfg.Storage.PreviewBucket)
	if bucket == "" {
		c.Logger.Warn("storage: preview bucket not configured; preview uploads disabled")
		return nil, nil, nil
	}
	key := strings.TrimSpace(cfg.Storage.SignedURLKey)
	if key == "" {
		return nil, nil, errors.New("storage: signed url key is required with a preview bucket")
	}
	signer, err := platformstorage.LoadPreviewSigner(key)
	if err != nil {
		return nil, nil, fmt.Errorf("parse storage signer key: %w", err)
	}
	signed, err := platformstorage.NewClient(signer, bucket, platformstorage.WithReadExpiry(cfg.Storage.SignedURLTTL))
	if err != nil {
		return nil, nil, fmt.Errorf("build signed url client: %w", err)
	}
	gcs, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("build storage client: %w", err)
	}
	c.addCloser(func(context.Context) error { return gcs.Close() })
	inspector, err := platformstorage.NewInspector(gcs, bucket)
	if err != nil {
		return nil, nil, err
	}
	return signed, inspector, nil
}

type serviceInputs struct {
	gateway   services.Gateway
	sinks     []events.Sink
	assets    services.PreviewAssets
	inspector services.AssetInspector
	clock     func() time.Time
	logger    *zap.Logger
}

func buildServices(reg repositories.Registry, cfg config.Config, in serviceInputs) (Services, error) {
	var svc Services
	var err error
	named := func(name string) services.Logger {
		return services.Logger(observability.ServiceLogger(in.logger.Named(name)))
	}

	svc.Pricing, err = services.NewPricingEngine(services.PricingRules{
		Currency:              cfg.PSP.DefaultCurrency,
		BaseDeliveryFee:       cfg.Pricing.BaseDeliveryFee,
		BaseDistanceMeters:    cfg.Pricing.BaseDistanceMeters,
		PerKmFee:              cfg.Pricing.PerKmFee,
		FreeDeliveryThreshold: cfg.Pricing.FreeDeliveryThreshold,
		MaxDistanceMeters:     cfg.Pricing.MaxDistanceMeters,
		PlatformFeeBasis:      cfg.Pricing.PlatformFeeBasis,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	svc.Stock, err = services.NewStockLedger(services.StockLedgerDeps{
		Stock:           reg.Stock(),
		Clock:           in.clock,
		Logger:          named("stock"),
		ReservationTTL:  cfg.Checkout.ReservationTTL,
		MaxLineQuantity: cfg.Checkout.MaxLineQuantity,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}

	svc.Notifier, err = services.NewChangeNotifier(services.ChangeNotifierDeps{
		Outbox:    reg.Outbox(),
		Sinks:     in.sinks,
		Clock:     in.clock,
		Logger:    named("notifier"),
		BatchSize: cfg.Deadlines.SweepBatch,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build change notifier: %w", err)
	}

	svc.Cart, err = services.NewCartService(services.CartServiceDeps{
		UnitOfWork:      reg,
		Carts:           reg.Carts(),
		Catalog:         reg.Catalog(),
		Outbox:          reg.Outbox(),
		Relay:           svc.Notifier,
		MaxLineQuantity: cfg.Checkout.MaxLineQuantity,
		Clock:           in.clock,
		Logger:          named("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		UnitOfWork:      reg,
		Carts:           reg.Carts(),
		Catalog:         reg.Catalog(),
		Coupons:         reg.Coupons(),
		Addresses:       reg.Addresses(),
		Sellers:         reg.Sellers(),
		Wallets:         reg.Wallets(),
		Drafts:          reg.Drafts(),
		Orders:          reg.Orders(),
		Stock:           svc.Stock,
		Pricing:         svc.Pricing,
		Gateway:         in.gateway,
		Distance:        services.HaversineDistance,
		Clock:           in.clock,
		Logger:          named("checkout"),
		DraftTTL:        cfg.Checkout.DraftTTL,
		PriceTolerance:  cfg.Checkout.PriceTolerance,
		DefaultProvider: cfg.PSP.DefaultProvider,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Creator, err = services.NewOrderCreator(services.OrderCreatorDeps{
		UnitOfWork:     reg,
		Drafts:         reg.Drafts(),
		Orders:         reg.Orders(),
		History:        reg.History(),
		Outbox:         reg.Outbox(),
		Catalog:        reg.Catalog(),
		Coupons:        reg.Coupons(),
		Wallets:        reg.Wallets(),
		Counters:       reg.Counters(),
		Carts:          reg.Carts(),
		Stock:          svc.Stock,
		Pricing:        svc.Pricing,
		Relay:          svc.Notifier,
		AcceptWindow:   cfg.Deadlines.AcceptWindow,
		PriceFreshness: cfg.Checkout.PriceFreshness,
		Clock:          in.clock,
		Logger:         named("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order creator: %w", err)
	}

	svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
		Drafts:  reg.Drafts(),
		Orders:  reg.Orders(),
		Gateway: in.gateway,
		Creator: svc.Creator,
		Clock:   in.clock,
		Logger:  named("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		UnitOfWork:        reg,
		Orders:            reg.Orders(),
		Previews:          reg.Previews(),
		History:           reg.History(),
		Outbox:            reg.Outbox(),
		Catalog:           reg.Catalog(),
		Wallets:           reg.Wallets(),
		Gateway:           in.gateway,
		Assets:            in.assets,
		Inspector:         in.inspector,
		Relay:             svc.Notifier,
		DetailsWindow:     cfg.Deadlines.DetailsWindow,
		PreviewWindow:     cfg.Deadlines.PreviewWindow,
		MaxRefundAttempts: cfg.Deadlines.RefundRetries,
		Clock:             in.clock,
		Logger:            named("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Deadlines, err = services.NewDeadlineEnforcer(services.DeadlineEnforcerDeps{
		Orders:    reg.Orders(),
		OrderOps:  svc.Orders,
		Checkout:  svc.Checkout,
		Stock:     svc.Stock,
		Notifier:  svc.Notifier,
		BatchSize: cfg.Deadlines.SweepBatch,
		Clock:     in.clock,
		Logger:    named("deadlines"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build deadline enforcer: %w", err)
	}
	return svc, nil
}

func buildIdempotencyStore(client redis.UniversalClient, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch {
	case client != nil:
		return idempotency.NewRedisStore(client)
	case provider != nil:
		return idempotency.NewFirestoreStore(provider, idempotencyCollection)
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(oidc.JWKSURL)
	return auth.NewOIDCValidator(cache, oidc.Audience, oidc.Issuers, oidc.ServiceAccount).RequireOIDC()
}

// Router assembles the HTTP surface over the container's services.
func (c *Container) Router() http.Handler {
	cfg := c.Config
	svc := c.Services
	authn := c.Authenticator

	projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}
	httpLogger := c.Logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(),
	}

	idem := idempotency.Middleware(c.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	verifyIdem := idempotency.Middleware(c.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.Optional(),
	)
	limiter := handlers.BuyerRateLimit(checkoutRateLimit, checkoutRateWindow, nil)

	health := handlers.NewHealthHandlers(
		handlers.WithHealthReporter(c.Health),
		handlers.WithHealthBuildInfo(c.Build),
	)
	orders := handlers.NewOrderHandlers(authn, svc.Orders)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(health),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authn, svc.Cart).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authn, svc.Checkout, limiter, idem).Routes),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(authn, svc.Payments, limiter, verifyIdem).Routes),
		handlers.WithOrderRoutes(orders.BuyerRoutes),
		handlers.WithSellerOrderRoutes(orders.SellerRoutes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authn, svc.Orders, svc.Stock).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Payments).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Deadlines).Routes),
		handlers.WithRealtimeHandler(c.Hub),
	}
	if c.oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(c.oidc))
	}
	return handlers.NewRouter(opts...)
}

// Start launches the deadline sweeper and, when events arrive through Redis, the hub feed.
// Calling Start twice is a no-op.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	var lock sweeper.Lock
	if c.redis != nil {
		redisLock, err := sweeper.NewRedisLock(c.redis, c.Config.Redis.LockKey)
		if err != nil {
			return err
		}
		lock = redisLock
	}
	worker, err := sweeper.New(sweeper.Config{
		Sweeper:  c.Services.Deadlines,
		Lock:     lock,
		Clock:    clock.WallClock,
		Interval: c.Config.Deadlines.SweepInterval,
		Logger:   c.Logger.Named("sweeper"),
	})
	if err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	c.worker = worker

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.hubDone = make(chan struct{})
	go func() {
		defer close(c.hubDone)
		if err := c.Hub.Run(runCtx, c.source); err != nil {
			c.Logger.Error("realtime feed stopped", zap.Error(err))
		}
	}()
	return nil
}

// Close stops background work and releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	worker, cancel, hubDone := c.worker, c.cancel, c.hubDone
	c.worker, c.cancel = nil, nil
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	if worker != nil {
		worker.Kill()
		if err := worker.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("sweeper: %w", err))
		}
	}
	if cancel != nil {
		cancel()
		select {
		case <-hubDone:
		case <-ctx.Done():
		}
	}
	if c.Hub != nil {
		c.Hub.Close()
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Container) addCloser(fn func(context.Context) error) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}
