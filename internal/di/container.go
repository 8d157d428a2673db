package di

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/tidewatch/storefront/internal/domain"
	"github.com/tidewatch/storefront/internal/handlers"
	"github.com/tidewatch/storefront/internal/payments"
	"github.com/tidewatch/storefront/internal/platform/auth"
	"github.com/tidewatch/storefront/internal/platform/config"
	pfirestore "github.com/tidewatch/storefront/internal/platform/firestore"
	"github.com/tidewatch/storefront/internal/platform/idempotency"
	"github.com/tidewatch/storefront/internal/platform/jobs"
	"github.com/tidewatch/storefront/internal/platform/locks"
	"github.com/tidewatch/storefront/internal/platform/observability"
	"github.com/tidewatch/storefront/internal/platform/ratelimit"
	"github.com/tidewatch/storefront/internal/platform/storage"
	"github.com/tidewatch/storefront/internal/repositories"
	firestoreRepo "github.com/tidewatch/storefront/internal/repositories/firestore"
	"github.com/tidewatch/storefront/internal/repositories/memory"
	"github.com/tidewatch/storefront/internal/services"
)

const (
	firebaseVerifyTimeout = 5 * time.Second
	rateLimitPruneEvery   = 5 * time.Minute
	sweepTimeout          = 2 * time.Minute
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog      services.CatalogService
	Registry     services.ConfigurationRegistry
	Pricing      services.PricingEngine
	Carts        services.CartService
	Orders       services.OrderService
	UserProducts services.UserProductService
	Credits      services.CreditService
	RFIs         services.RFIService
	Alerts       services.AlertService
	System       services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	logger        *zap.Logger
	build         services.BuildInfo
	authenticator *auth.Authenticator
	idempotency   idempotency.Store
	orderLimiter  *ratelimit.PerUser
	rfiLimiter    *ratelimit.PerUser

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger        *zap.Logger
	build         services.BuildInfo
	verifier      auth.TokenVerifier
	secretCheck   func(context.Context) error
	catalogReader catalogObjectReader
}

type catalogObjectReader interface {
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) { o.logger = logger }
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = build }
}

// WithTokenVerifier replaces the Firebase verifier, mainly for tests and local runs.
func WithTokenVerifier(verifier auth.TokenVerifier) Option {
	return func(o *containerOptions) { o.verifier = verifier }
}

// WithSecretHealthCheck adds an optional Secret Manager probe to readiness.
func WithSecretHealthCheck(check func(context.Context) error) Option {
	return func(o *containerOptions) { o.secretCheck = check }
}

// WithCatalogReader overrides the object reader used to fetch the catalog from a bucket.
func WithCatalogReader(reader catalogObjectReader) Option {
	return func(o *containerOptions) { o.catalogReader = reader }
}

// NewContainer constructs the runtime dependencies. On error everything opened so far is closed.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	options := containerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	c := &Container{
		Config: cfg,
		logger: options.logger,
		build:  options.build,
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	catalog, err := c.loadCatalog(ctx, options.catalogReader)
	if err != nil {
		return nil, err
	}

	var checks []repositories.DependencyCheck
	var provider *pfirestore.Provider
	switch cfg.Persistence.Backend {
	case config.BackendFirestore:
		provider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Check: provider.Ping})
	case config.BackendMemory, "":
	default:
		return nil, fmt.Errorf("di: unknown persistence backend %q", cfg.Persistence.Backend)
	}

	var locker services.Locker = locks.NewKeyedMutex()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		locker = locks.NewRedisLocker(client, locks.WithLeaseTTL(cfg.Redis.LockTTL))
		checks = append(checks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}

	events, eventChecks, err := c.buildEventPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	checks = append(checks, eventChecks...)

	if options.secretCheck != nil {
		checks = append(checks, repositories.DependencyCheck{Name: "secretManager", Optional: true, Check: options.secretCheck})
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("di: health repository: %w", err)
	}

	if provider != nil {
		reg, err := firestoreRepo.NewRegistry(provider, catalog, health)
		if err != nil {
			return nil, fmt.Errorf("di: firestore registry: %w", err)
		}
		c.Repositories = reg
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("di: firestore client: %w", err)
		}
		c.idempotency = idempotency.NewFirestoreStore(client)
	} else {
		c.Repositories = memory.NewRegistry(catalog, health)
		c.idempotency = idempotency.NewMemoryStore()
	}

	gateways, err := c.buildPayments(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.buildServices(cfg, locker, events, gateways); err != nil {
		return nil, err
	}

	verifier := options.verifier
	if verifier == nil {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
		if err != nil {
			return nil, fmt.Errorf("di: firebase verifier: %w", err)
		}
		verifier = firebaseVerifier
	}
	c.authenticator = auth.NewAuthenticator(verifier)

	c.orderLimiter = ratelimit.NewPerUser(cfg.RateLimits.OrdersPerMinute, cfg.RateLimits.Burst)
	c.rfiLimiter = ratelimit.NewPerUser(cfg.RateLimits.RFIsPerMinute, cfg.RateLimits.Burst)
	return c, nil
}

// loadCatalog reads the catalog seed from a bucket, a local file, or the bundled document, in
// that order.
func (c *Container) loadCatalog(ctx context.Context, reader catalogObjectReader) (*memory.CatalogRepository, error) {
	cfg := c.Config.Catalog
	var (
		seed   []byte
		source string
	)
	switch {
	case strings.TrimSpace(cfg.Bucket) != "":
		if reader == nil {
			objectReader, err := storage.NewObjectReader(ctx)
			if err != nil {
				return nil, fmt.Errorf("di: catalog object reader: %w", err)
			}
			c.closers = append(c.closers, func(context.Context) error { return objectReader.Close() })
			reader = objectReader
		}
		data, err := reader.ReadObject(ctx, cfg.Bucket, cfg.Object)
		if err != nil {
			return nil, fmt.Errorf("di: read catalog gs://%s/%s: %w", cfg.Bucket, cfg.Object, err)
		}
		seed, source = data, "gs://"+cfg.Bucket+"/"+cfg.Object
	case strings.TrimSpace(cfg.SeedFile) != "":
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("di: read catalog seed: %w", err)
		}
		seed, source = data, cfg.SeedFile
	default:
		seed, source = memory.DefaultCatalogSeed(), "bundled"
	}

	catalog, err := memory.NewCatalogRepositoryFromYAML(seed)
	if err != nil {
		return nil, fmt.Errorf("di: parse catalog from %s: %w", source, err)
	}
	c.logger.Info("catalog loaded", zap.String("source", source))
	return catalog, nil
}

func (c *Container) buildEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, []repositories.DependencyCheck, error) {
	switch cfg.Events.Backend {
	case config.EventsNone, "":
		return nil, nil, nil
	case config.EventsPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("di: pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSubTopic)
		publisher, err := jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		c.closers = append(c.closers,
			func(context.Context) error { return publisher.Close() },
			func(context.Context) error { return client.Close() },
		)
		check := repositories.DependencyCheck{
			Name:     "pubsub",
			Optional: true,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", cfg.Events.PubSubTopic)
				}
				return nil
			},
		}
		return publisher, []repositories.DependencyCheck{check}, nil
	case config.EventsKafka:
		publisher, err := jobs.NewKafkaOrderPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil, nil
	default:
		return nil, nil, fmt.Errorf("di: unknown events backend %q", cfg.Events.Backend)
	}
}

func (c *Container) buildPayments(cfg config.Config) (services.PaymentAuthorizer, error) {
	gateways := make(map[string]payments.Gateway)
	if key := strings.TrimSpace(cfg.Payments.StripeAPIKey); key != "" {
		gateways[string(domain.PaymentMethodStripe)] = payments.NewStripeGateway(key)
	}
	if id := strings.TrimSpace(cfg.Payments.PayPalClientID); id != "" {
		gateways[string(domain.PaymentMethodPayPal)] = payments.NewPayPalGateway(id, cfg.Payments.PayPalSecret)
	}
	if len(gateways) == 0 {
		c.logger.Warn("no payment gateways configured; only credit checkout is available")
		return nil, nil
	}
	manager, err := payments.NewManager(gateways, payments.WithLogger(observability.EventLogger(c.logger.Named("payments"))))
	if err != nil {
		return nil, fmt.Errorf("di: payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildServices(cfg config.Config, locker services.Locker, events services.OrderEventPublisher, payer services.PaymentAuthorizer) error {
	reg := c.Repositories
	eventLogger := func(name string) services.Logger {
		return observability.EventLogger(c.logger.Named(name))
	}

	var (
		svc Services
		err error
	)
	if svc.Catalog, err = services.NewCatalogService(services.CatalogServiceDeps{Catalog: reg.Catalog()}); err != nil {
		return fmt.Errorf("build catalog service: %w", err)
	}
	if svc.Registry, err = services.NewConfigurationRegistry(services.ConfigurationRegistryDeps{Clock: time.Now}); err != nil {
		return fmt.Errorf("build configuration registry: %w", err)
	}
	svc.Pricing = services.NewPricingEngine()

	if svc.Carts, err = services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Catalog:  svc.Catalog,
		Registry: svc.Registry,
		Pricing:  svc.Pricing,
		Clock:    time.Now,
		Logger:   eventLogger("cart"),
	}); err != nil {
		return fmt.Errorf("build cart service: %w", err)
	}

	if svc.Credits, err = services.NewCreditService(services.CreditServiceDeps{
		Credits:     reg.Credits(),
		Locker:      locker,
		SignupGrant: cfg.Credits.SignupGrant,
		Clock:       time.Now,
		Logger:      eventLogger("credits"),
	}); err != nil {
		return fmt.Errorf("build credit service: %w", err)
	}

	if svc.Alerts, err = services.NewAlertService(services.AlertServiceDeps{
		Alerts:       reg.Alerts(),
		UserProducts: reg.UserProducts(),
		Clock:        time.Now,
		Logger:       eventLogger("alerts"),
	}); err != nil {
		return fmt.Errorf("build alert service: %w", err)
	}

	if svc.RFIs, err = services.NewRFIService(services.RFIServiceDeps{
		RFIs:   reg.RFIs(),
		Clock:  time.Now,
		Logger: eventLogger("rfis"),
	}); err != nil {
		return fmt.Errorf("build rfi service: %w", err)
	}

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Catalog:  svc.Catalog,
		Registry: svc.Registry,
		Pricing:  svc.Pricing,
		Credits:  svc.Credits,
		Payments: payer,
		Carts:    svc.Carts,
		Alerts:   svc.Alerts,
		RFIs:     svc.RFIs,
		Events:   events,
		Clock:    time.Now,
		Logger:   eventLogger("orders"),
	}); err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	if svc.UserProducts, err = services.NewUserProductService(services.UserProductServiceDeps{
		UserProducts: reg.UserProducts(),
		Clock:        time.Now,
		Logger:       eventLogger("user_products"),
	}); err != nil {
		return fmt.Errorf("build user product service: %w", err)
	}

	if health := reg.Health(); health != nil {
		build := c.build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = time.Now().UTC()
		}
		c.build = build
		if svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Catalog:          reg.Catalog(),
			Clock:            time.Now,
			Build:            build,
		}); err != nil {
			return fmt.Errorf("build system service: %w", err)
		}
	}

	c.Services = svc
	return nil
}

// RouterOptions returns the handler registrations for the API router.
func (c *Container) RouterOptions() []handlers.Option {
	idem := idempotency.Middleware(c.idempotency,
		idempotency.WithHeader(c.Config.Idempotency.Header),
		idempotency.WithTTL(c.Config.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(c.logger.Named("idempotency"))),
	)
	svc := c.Services

	catalog := handlers.NewCatalogHandlers(svc.Catalog, svc.Registry, svc.Pricing)
	carts := handlers.NewCartHandlers(c.authenticator, svc.Carts)
	orders := handlers.NewOrderHandlers(c.authenticator, svc.Orders,
		handlers.WithCheckoutMiddlewares(c.orderLimiter.Middleware, idem),
	)
	userProducts := handlers.NewUserProductHandlers(c.authenticator, svc.UserProducts)
	credits := handlers.NewCreditHandlers(c.authenticator, svc.Credits)
	rfis := handlers.NewRFIHandlers(c.authenticator, svc.RFIs,
		handlers.WithRFISubmitMiddlewares(c.rfiLimiter.Middleware),
	)
	alerts := handlers.NewAlertHandlers(c.authenticator, svc.Alerts)
	admin := handlers.NewAdminHandlers(c.authenticator, svc.Alerts, svc.UserProducts,
		handlers.WithExpiryWindow(c.Config.Alerts.ExpiryWindow),
	)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(c.build)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	return []handlers.Option{
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithProductRoutes(catalog.Routes),
		handlers.WithCartRoutes(carts.Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithUserProductRoutes(userProducts.Routes),
		handlers.WithCreditRoutes(credits.Routes),
		handlers.WithRFIRoutes(rfis.Routes),
		handlers.WithAlertRoutes(alerts.Routes),
		handlers.WithAdminRoutes(admin.Routes),
	}
}

// RunBackground starts the periodic jobs and blocks until ctx is cancelled and they have all
// returned.
func (c *Container) RunBackground(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if interval := c.Config.Idempotency.CleanupInterval; interval > 0 {
		run(func() {
			idempotency.RunCleanup(ctx, c.idempotency, interval, c.Config.Idempotency.CleanupBatchSize,
				observability.NewPrintfAdapter(c.logger.Named("idempotency")))
		})
	}
	for _, limiter := range []*ratelimit.PerUser{c.orderLimiter, c.rfiLimiter} {
		if limiter != nil {
			run(func() { limiter.RunPruner(ctx, rateLimitPruneEvery) })
		}
	}
	if interval := c.Config.Alerts.SweepInterval; interval > 0 && c.Services.Alerts != nil {
		run(func() { c.runExpirySweep(ctx, interval) })
	}
	wg.Wait()
}

func (c *Container) runExpirySweep(ctx context.Context, interval time.Duration) {
	logger := c.logger.Named("alerts")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			created, err := c.Services.Alerts.NotifyExpiringProducts(runCtx, time.Now().UTC(), c.Config.Alerts.ExpiryWindow)
			cancel()
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if created > 0 {
				logger.Info("expiry sweep created alerts", zap.Int("count", created))
			}
		}
	}
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil && !errors.Is(err, pfirestore.ErrProviderClosed) {
			errs = append(errs, err)
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil && !errors.Is(err, pfirestore.ErrProviderClosed) {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
