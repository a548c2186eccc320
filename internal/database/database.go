// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package database implements the admin datastore: the authoritative home
// of the tenant registry, plans, subscriptions, the billing event log, and
// the payment ledger. Tenant business data never lives here; it stays on
// the tenant clusters reached through the connection pool.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// AdminStore is the Postgres-backed control-plane store.
type AdminStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// Connect opens the admin datastore and verifies reachability. Unlike
// tenant-cluster opens, this one pings: the process cannot serve anything
// without its control plane.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Connect(ctx context.Context, url string, callTimeout time.Duration, logger zerolog.Logger) (*AdminStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse admin database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create admin pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping admin database: %w", err)
	}

	return &AdminStore{
		pool:    pool,
		timeout: callTimeout,
		logger:  logger.With().Str("component", "admin-store").Logger(),
	}, nil
}

// Ping verifies the admin datastore is reachable. Backs the readiness
// probe.
func (s *AdminStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the underlying pool.
func (s *AdminStore) Close() {
	s.pool.Close()
}

// withTimeout bounds a single store call. A zero timeout leaves the
// caller's context untouched.
func (s *AdminStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Bootstrap creates the control-plane tables if they do not exist. The
// statements are idempotent so every instance can run them at boot.
func (s *AdminStore) Bootstrap(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tenants_registry (
			slug              TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL UNIQUE,
			name              TEXT NOT NULL,
			connection_string TEXT NOT NULL,
			datastore_name    TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'active',
			feature_flags     JSONB NOT NULL DEFAULT '[]',
			limits            JSONB NOT NULL DEFAULT '{}',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id   TEXT PRIMARY KEY,
			name      TEXT NOT NULL,
			tier      TEXT NOT NULL,
			price     BIGINT NOT NULL,
			currency  TEXT NOT NULL,
			cycle     TEXT NOT NULL,
			quotas    JSONB NOT NULL DEFAULT '{}',
			features  JSONB NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			subscription_id      TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			plan_id              TEXT NOT NULL,
			plan_snapshot        JSONB NOT NULL,
			status               TEXT NOT NULL,
			starts_on            TIMESTAMPTZ NOT NULL,
			current_period_start TIMESTAMPTZ NOT NULL,
			current_period_end   TIMESTAMPTZ,
			trial_ends_at        TIMESTAMPTZ,
			expires_on           TIMESTAMPTZ,
			grace_expires_at     TIMESTAMPTZ,
			grace_period_days    INTEGER NOT NULL DEFAULT 3,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant
			ON subscriptions (tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_status
			ON subscriptions (status)`,
		`CREATE TABLE IF NOT EXISTS billing_events (
			event_id        TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			tenant_id       TEXT NOT NULL,
			old_status      TEXT NOT NULL,
			new_status      TEXT NOT NULL,
			triggered_by    TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			seq             BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_billing_events_subscription
			ON billing_events (subscription_id, seq)`,
		`CREATE TABLE IF NOT EXISTS payment_ledger (
			payment_id      TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			tenant_id       TEXT NOT NULL,
			amount          BIGINT NOT NULL,
			currency        TEXT NOT NULL,
			method          TEXT NOT NULL,
			period_start    TIMESTAMPTZ NOT NULL,
			period_end      TIMESTAMPTZ NOT NULL,
			recorded_by     TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_ledger_subscription
			ON payment_ledger (subscription_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	s.logger.Info().Msg("Admin schema ready")
	return nil
}
