// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package main is the entry point for the Shopkeeper tenancy server.
//
// Shopkeeper routes every request to the correct tenant datastore and
// enforces subscription standing before any tenant data is touched. The
// server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (env > yaml > defaults),
//     validated before anything else runs
//  2. Admin store: the control-plane Postgres holding the tenant
//     registry, plans, subscriptions, and the billing ledgers
//  3. Tenant routing: registry cache, connection pool, access gate, and
//     context assembler
//  4. Billing: state machine, billing service, and the subscription
//     reaper
//  5. HTTP server: public warranty lookup, tenant data plane, and the
//     admin control plane
//
// The reaper and the HTTP server run under a suture supervisor tree, so
// a crash in one restarts it without taking down the other.
//
// # Configuration
//
// Required settings (no safe defaults exist for these):
//   - ADMIN_URL: control-plane Postgres connection string
//   - TENANCY_DEFAULT_URL: datastore for claim sets with no tenant
//   - AUTH_JWT_SECRET: 32+ byte secret verifying bearer tokens
//   - BILLING_WARRANTY_SECRET: 32+ byte secret signing warranty tokens
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervisor tree
// stops the HTTP server (draining in-flight requests) and the reaper,
// then the tenant pool and the admin store are closed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/shopkeeper/internal/api"
	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/config"
	"github.com/tomtom215/shopkeeper/internal/database"
	"github.com/tomtom215/shopkeeper/internal/gate"
	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/pool"
	"github.com/tomtom215/shopkeeper/internal/reaper"
	"github.com/tomtom215/shopkeeper/internal/registry"
	"github.com/tomtom215/shopkeeper/internal/supervisor"
	"github.com/tomtom215/shopkeeper/internal/supervisor/services"
	"github.com/tomtom215/shopkeeper/internal/tenantctx"
	"github.com/tomtom215/shopkeeper/internal/token"
	"github.com/tomtom215/shopkeeper/internal/warranty"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors are fatal at boot; the process refuses to start.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Bool("reaper_enabled", cfg.Billing.ReaperEnabled).
		Msg("Starting Shopkeeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Admin store is the only connection verified at boot. Tenant
	// clusters are opened lazily, after the gate has admitted the caller.
	store, err := database.Connect(ctx, cfg.Admin.URL, cfg.Admin.CallTimeout, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to admin store")
	}
	defer store.Close()

	if err := store.Bootstrap(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to bootstrap admin schema")
	}

	// Tenant routing.
	reg := registry.New(store, logger)
	tenantPool := pool.New(cfg.Tenancy.PoolCapacity, nil, logger)
	defer tenantPool.CloseAll()
	accessGate := gate.New(store, logger)
	assembler := tenantctx.New(reg, accessGate, tenantPool, cfg.Tenancy.DefaultURL, logger)

	// Billing.
	machine := billing.NewMachine(store, nil, logger)
	billingSvc := billing.NewService(store, machine, nil, logger)
	sweeper := reaper.New(store, machine, nil, logger, reaper.Config{
		Interval: cfg.Billing.ReaperInterval,
		Enabled:  cfg.Billing.ReaperEnabled,
	})

	// Warranty resolution.
	codec, err := token.NewCodec([]byte(cfg.Billing.WarrantySecret))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create warranty token codec")
	}
	resolver := warranty.NewResolver(codec, reg, tenantPool, warranty.FetchRow, logger)

	router := api.NewRouter(api.Deps{
		Assembler:   assembler,
		Resolver:    resolver,
		Registry:    reg,
		Billing:     billingSvc,
		Machine:     machine,
		Store:       store,
		TenantAdmin: store,
		Ready:       store.Ping,
		JWTSecret:   []byte(cfg.Auth.JWTSecret),
		Server:      cfg.Server,
		Version:     version,
	}, logger)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddBillingService(services.NewReaperService(sweeper))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	done := tree.ServeBackground(ctx)
	logging.Info().Str("addr", cfg.Server.Addr()).Msg("Server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Supervisor tree exited with error")
			}
		case <-time.After(30 * time.Second):
			if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
				for _, svc := range report {
					logging.Error().Str("service", svc.Name).Msg("Service failed to stop")
				}
			}
		}
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Fatal().Err(err).Msg("Supervisor tree exited unexpectedly")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
