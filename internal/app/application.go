// Package app wires configuration, storage and the loyalty services into a
// running loyaltyd process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/R3E-Network/loyalty_layer/internal/app/system"
	"github.com/R3E-Network/loyalty_layer/internal/cache"
	"github.com/R3E-Network/loyalty_layer/internal/config"
	"github.com/R3E-Network/loyalty_layer/internal/httpapi"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/middleware"
	"github.com/R3E-Network/loyalty_layer/internal/storage"
	"github.com/R3E-Network/loyalty_layer/internal/storage/memory"
	"github.com/R3E-Network/loyalty_layer/internal/storage/migrations"
	"github.com/R3E-Network/loyalty_layer/internal/storage/sqlstore"
)

// Stores encapsulates persistence dependencies. Nil fields default to the
// in-memory implementations.
type Stores struct {
	Store storage.Store
	Cache cache.SettingsCache
}

// Application ties the loyalty services together and manages their
// lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logging.Logger
	manager *system.Manager
	store   storage.Store
	closers []io.Closer
	handler http.Handler

	Settings *loyalty.SettingsService
	Ledger   *loyalty.Service
	Sweeper  *loyalty.Sweeper
	Audit    *httpapi.AuditLog
}

// Open builds the stores named by cfg and then the application. The caller
// owns the result and must Close it.
func Open(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault(httpapi.ServiceName)
	}
	store, err := OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	settingsCache, cacheCloser, err := OpenCache(ctx, cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a, err := New(cfg, Stores{Store: store, Cache: settingsCache}, log)
	if err != nil {
		_ = store.Close()
		if cacheCloser != nil {
			_ = cacheCloser.Close()
		}
		return nil, err
	}
	if cacheCloser != nil {
		a.closers = append(a.closers, cacheCloser)
	}
	return a, nil
}

// New builds a fully initialised application with the provided stores.
func New(cfg *config.Config, stores Stores, log *logging.Logger) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if log == nil {
		log = logging.NewDefault(httpapi.ServiceName)
	}
	if stores.Store == nil {
		stores.Store = memory.New()
	}
	if stores.Cache == nil {
		stores.Cache = cache.NewMemory(cfg.Loyalty.SettingsCacheTTL)
	}

	settings := loyalty.NewSettingsService(stores.Store, stores.Cache, log, cfg.Loyalty.StorageTimeout)
	ledger := loyalty.NewService(stores.Store, settings, loyalty.Options{
		StorageTimeout: cfg.Loyalty.StorageTimeout,
		Logger:         log,
	})

	sweeper, err := loyalty.NewSweeper(ledger, stores.Store, expirySchedule(cfg.Loyalty.ExpirySchedule), log)
	if err != nil {
		return nil, err
	}

	audit, err := httpapi.NewAuditLog(cfg.Audit.Max, cfg.Audit.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a := &Application{
		cfg:      cfg,
		log:      log,
		manager:  system.NewManager(),
		store:    stores.Store,
		closers:  []io.Closer{audit, stores.Store},
		Settings: settings,
		Ledger:   ledger,
		Sweeper:  sweeper,
		Audit:    audit,
	}
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log)
	}
	a.handler = httpapi.NewRouter(httpapi.Options{
		Ledger:         ledger,
		Settings:       settings,
		Logger:         log,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		Issuer:         cfg.Auth.Issuer,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Audit:          audit,
		Ready:          a.ready,
	})

	services := []system.Service{sweeper}
	if limiter != nil {
		services = append(services, &limiterJanitor{limiter: limiter, interval: limiterCleanupInterval})
	}
	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return a, nil
}

// Store is the backing store. Customer records are owned by another module
// and are written here directly.
func (a *Application) Store() storage.Store {
	return a.store
}

// Handler is the HTTP API.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// EnableHTTP registers the API server on the configured address.
func (a *Application) EnableHTTP() (*HTTPServer, error) {
	srv := NewHTTPServer(a.cfg.Server.Addr(), a.handler,
		a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout, a.log)
	if err := a.Attach(srv); err != nil {
		return nil, err
	}
	return srv, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Close releases the stores and the audit sink. Call after Stop.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Application) ready(r *http.Request) error {
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(r.Context())
	}
	return nil
}

// OpenStore connects to the configured database, applying migrations first
// when auto-migrate is set.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (storage.Store, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("using in-memory storage; data is lost on exit")
		return memory.New(), nil
	}
	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.Driver, cfg.DSN, log); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	store, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, sqlstore.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("driver", cfg.Driver).Info("database connected")
	return store, nil
}

// OpenCache returns the Redis settings cache when an address is configured
// and the in-process cache otherwise. The closer is nil for the latter.
func OpenCache(ctx context.Context, cfg *config.Config, log *logging.Logger) (cache.SettingsCache, io.Closer, error) {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cache.NewMemory(cfg.Loyalty.SettingsCacheTTL), nil, nil
	}
	r, err := cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Loyalty.SettingsCacheTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	log.WithField("addr", cfg.Redis.Addr).Info("settings cache backed by redis")
	return r, r, nil
}

// expirySchedule maps the "off" spellings to the empty schedule, which keeps
// the sweeper idle.
func expirySchedule(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off", "none", "disabled":
		return ""
	}
	return strings.TrimSpace(raw)
}
