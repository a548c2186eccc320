// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/tomtom215/shopkeeper/internal/models"
)

const tenantColumns = `slug, tenant_id, name, connection_string, datastore_name,
	status, feature_flags, limits, created_at, updated_at`

// GetActiveTenantBySlug loads an active tenant by slug. Suspended and
// inactive rows come back as models.ErrNotFound, same as a missing slug:
// the status filter lives in the query on purpose.
func (s *AdminStore) GetActiveTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants_registry
		WHERE slug = $1 AND status = 'active'`, slug)
	return scanTenant(row)
}

// GetActiveTenantByID loads an active tenant by its surrogate id.
func (s *AdminStore) GetActiveTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants_registry
		WHERE tenant_id = $1 AND status = 'active'`, tenantID)
	return scanTenant(row)
}

// GetTenantBySlug loads a tenant regardless of status, for the admin
// surface only. Data-plane routing must use the active-only reads.
func (s *AdminStore) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants_registry
		WHERE slug = $1`, slug)
	return scanTenant(row)
}

// CreateTenant inserts a registry row.
func (s *AdminStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	flags, err := json.Marshal(t.FeatureFlags)
	if err != nil {
		return fmt.Errorf("marshal feature flags: %w", err)
	}
	limits, err := json.Marshal(t.Limits)
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenants_registry
			(slug, tenant_id, name, connection_string, datastore_name,
			 status, feature_flags, limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.Slug, t.TenantID, t.Name, t.ConnectionString, t.DatastoreName,
		string(t.Status), flags, limits, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tenant %s: %w", t.Slug, err)
	}
	return nil
}

// SetTenantStatus updates a tenant's lifecycle status. The caller owns the
// registry cache invalidation that must follow.
func (s *AdminStore) SetTenantStatus(ctx context.Context, slug string, status models.TenantStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE tenants_registry
		SET status = $2, updated_at = now()
		WHERE slug = $1`, slug, string(status))
	if err != nil {
		return fmt.Errorf("update tenant %s status: %w", slug, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		t      models.Tenant
		status string
		flags  []byte
		limits []byte
	)
	err := row.Scan(&t.Slug, &t.TenantID, &t.Name, &t.ConnectionString,
		&t.DatastoreName, &status, &flags, &limits, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	t.Status, err = models.ParseTenantStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flags, &t.FeatureFlags); err != nil {
		return nil, fmt.Errorf("unmarshal feature flags: %w", err)
	}
	if err := json.Unmarshal(limits, &t.Limits); err != nil {
		return nil, fmt.Errorf("unmarshal limits: %w", err)
	}
	return &t, nil
}
