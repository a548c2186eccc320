// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/config"
	"github.com/tomtom215/shopkeeper/internal/middleware"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/registry"
	"github.com/tomtom215/shopkeeper/internal/tenantctx"
	"github.com/tomtom215/shopkeeper/internal/warranty"
)

// TenantAdmin is the admin-store write surface the control-plane handlers
// use. *database.AdminStore satisfies it.
type TenantAdmin interface {
	CreateTenant(ctx context.Context, t *models.Tenant) error
	SetTenantStatus(ctx context.Context, slug string, status models.TenantStatus) error
	UpsertPlan(ctx context.Context, p *models.Plan) error
}

// Router wires handlers, middleware, and dependencies into the HTTP tree.
type Router struct {
	assembler   *tenantctx.Assembler
	resolver    *warranty.Resolver
	registry    *registry.Registry
	billing     *billing.Service
	machine     *billing.Machine
	store       billing.Store
	tenantAdmin TenantAdmin
	ready       func(context.Context) error

	jwtSecret []byte
	server    config.ServerConfig
	logger    zerolog.Logger
	version   string
	startTime time.Time
}

// Deps carries the router's constructor dependencies.
type Deps struct {
	Assembler   *tenantctx.Assembler
	Resolver    *warranty.Resolver
	Registry    *registry.Registry
	Billing     *billing.Service
	Machine     *billing.Machine
	Store       billing.Store
	TenantAdmin TenantAdmin
	// Ready probes the admin store for the readiness endpoint. Optional.
	Ready     func(context.Context) error
	JWTSecret []byte
	Server    config.ServerConfig
	Version   string
}

// NewRouter creates a Router.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRouter(deps Deps, logger zerolog.Logger) *Router {
	return &Router{
		assembler:   deps.Assembler,
		resolver:    deps.Resolver,
		registry:    deps.Registry,
		billing:     deps.Billing,
		machine:     deps.Machine,
		store:       deps.Store,
		tenantAdmin: deps.TenantAdmin,
		ready:       deps.Ready,
		jwtSecret:   deps.JWTSecret,
		server:      deps.Server,
		logger:      logger.With().Str("component", "api").Logger(),
		version:     deps.Version,
		startTime:   time.Now(),
	}
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's shape.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	rateLimit := router.rateLimiter()

	// Public warranty lookup. No auth: the signed token is the whole
	// credential. Rate limited hardest; this is the only surface an
	// anonymous attacker can probe.
	r.Route("/w", func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Get("/{token}", router.WarrantyResolve)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/", router.Health)
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})

	// Data plane: every route passes through the assembler, so handlers
	// below receive routing and subscription standing pre-settled.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(router.Authenticate))

		r.Get("/products", router.Products)
	})

	// Control plane: admin role required.
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(router.VerifyToken))
		r.Use(chiMiddleware(router.RequireAdmin))

		r.Post("/tenants", router.AdminCreateTenant)
		r.Put("/tenants/{slug}/status", router.AdminSetTenantStatus)
		r.Post("/tenants/{slug}/invalidate", router.AdminInvalidateTenant)

		r.Put("/plans/{id}", router.AdminUpsertPlan)

		r.Post("/subscriptions", router.AdminCreateSubscription)
		r.Get("/subscriptions/{id}", router.AdminGetSubscription)
		r.Post("/subscriptions/{id}/payments", router.AdminRecordPayment)
		r.Post("/subscriptions/{id}/transition", router.AdminTransitionSubscription)
		r.Get("/subscriptions/{id}/events", router.AdminListBillingEvents)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (router *Router) rateLimiter() func(http.Handler) http.Handler {
	reqs := router.server.RateLimitReqs
	window := router.server.RateLimitWindow
	if reqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(reqs, window, httprate.WithKeyFuncs(httprate.KeyByIP))
}
