// Package httpapi exposes the loyalty services over REST.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/loyalty_layer/internal/httputil"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/metrics"
	"github.com/R3E-Network/loyalty_layer/internal/middleware"
)

// ServiceName labels the API's HTTP metrics.
const ServiceName = "loyaltyd"

// Options configures the router.
type Options struct {
	Ledger    *loyalty.Service
	Settings  *loyalty.SettingsService
	Logger    *logging.Logger
	JWTSecret []byte
	Issuer    string

	RateLimitRPS   int
	RateLimitBurst int
	// RateLimiter overrides the limiter built from RateLimitRPS and
	// RateLimitBurst, so the caller can run its cleanup.
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string

	// Audit records authenticated mutations. Nil keeps an in-memory log only.
	Audit *AuditLog
	// Ready reports whether the backing store is reachable. Nil means always.
	Ready func(r *http.Request) error
}

// NewRouter returns the HTTP handler for the loyalty API.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.NewDefault(ServiceName)
	}
	if opts.Audit == nil {
		opts.Audit = NewMemoryAuditLog(0)
	}
	h := &handler{
		ledger:   opts.Ledger,
		settings: opts.Settings,
		log:      opts.Logger,
		audit:    opts.Audit,
		ready:    opts.Ready,
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(httputil.MethodNotAllowed)
	r.Use(middleware.Tracing, middleware.LoggingMiddleware(opts.Logger), middleware.MetricsMiddleware(ServiceName))

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(opts.JWTSecret, opts.Issuer, opts.Logger, nil)
	api := r.PathPrefix("/api/v1/loyalty").Subrouter()
	api.Use(auth.Handler)
	limiter := opts.RateLimiter
	if limiter == nil && opts.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, opts.Logger)
	}
	if limiter != nil {
		api.Use(limiter.Handler)
	}
	api.Use(h.audit.Middleware)

	staff := middleware.RequireRole(opts.Logger, middleware.RoleAdmin, middleware.RoleManager)

	api.HandleFunc("/settings", h.getSettings).Methods(http.MethodGet)
	api.Handle("/settings", staff(http.HandlerFunc(h.updateSettings))).Methods(http.MethodPut)
	api.HandleFunc("/transactions/{customerId}", h.customerTransactions).Methods(http.MethodGet)
	api.Handle("/adjust/{customerId}", staff(http.HandlerFunc(h.adjust))).Methods(http.MethodPost)
	api.HandleFunc("/earn/{customerId}", h.earn).Methods(http.MethodPost)
	api.HandleFunc("/redeem/{customerId}", h.redeem).Methods(http.MethodPost)
	api.HandleFunc("/redemption-quote", h.redemptionQuote).Methods(http.MethodGet)
	api.HandleFunc("/customers/{customerId}", h.customerSummary).Methods(http.MethodGet)
	api.Handle("/audit/{customerId}", staff(http.HandlerFunc(h.auditCustomer))).Methods(http.MethodGet)
	api.Handle("/audit-log", staff(http.HandlerFunc(h.auditLog))).Methods(http.MethodGet)

	return middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(r)
}
