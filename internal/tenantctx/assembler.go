// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package tenantctx assembles the per-request tenant context: the routing
// record, the subscription check, and a datastore handle, in that order.
//
// Ordering is load-bearing. The registry is consulted first so unknown
// slugs never reach billing; the gate runs before any datastore handle is
// produced, so a refused caller causes no tenant-cluster traffic at all —
// pool opens are lazy, and the assembler does not even ask for one.
package tenantctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/pool"
)

// TenantSource resolves a slug or id to an active tenant record.
// *registry.Registry satisfies it.
type TenantSource interface {
	Lookup(ctx context.Context, slug string) (*models.Tenant, error)
	LookupByID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// AccessChecker decides subscription standing. *gate.Gate satisfies it.
type AccessChecker interface {
	Check(ctx context.Context, tenantID string) error
}

// DatastoreProvider hands out datastore handles. *pool.Pool satisfies it.
type DatastoreProvider interface {
	Datastore(ctx context.Context, connString, datastoreName string) (*pool.Handle, error)
}

// TenantContext is everything a data-plane handler needs for one request.
type TenantContext struct {
	// Tenant is nil for requests served from the default datastore.
	Tenant    *models.Tenant
	Datastore *pool.Handle
}

// Assembler builds TenantContexts.
type Assembler struct {
	tenants     TenantSource
	access      AccessChecker
	datastores  DatastoreProvider
	defaultConn string
	logger      zerolog.Logger
}

// New creates an Assembler. defaultConn is the connection string used when
// a request carries no tenant claim.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(tenants TenantSource, access AccessChecker, datastores DatastoreProvider, defaultConn string, logger zerolog.Logger) *Assembler {
	return &Assembler{
		tenants:     tenants,
		access:      access,
		datastores:  datastores,
		defaultConn: defaultConn,
		logger:      logger.With().Str("component", "tenantctx").Logger(),
	}
}

// Assemble resolves a tenant slug into a TenantContext.
//
// An empty slug falls back to the default datastore with no tenant record.
// A missing or inactive tenant returns models.ErrTenantNotFound; a gate
// refusal passes through unchanged so the HTTP host can render it.
func (a *Assembler) Assemble(ctx context.Context, slug string) (*TenantContext, error) {
	if slug == "" {
		return a.defaultContext(ctx)
	}
	tenant, err := a.tenants.Lookup(ctx, slug)
	if err != nil {
		return nil, err
	}
	return a.assemble(ctx, tenant)
}

// AssembleByID is Assemble keyed on tenant id, for callers holding a token
// claim rather than a hostname.
func (a *Assembler) AssembleByID(ctx context.Context, tenantID string) (*TenantContext, error) {
	if tenantID == "" {
		return a.defaultContext(ctx)
	}
	tenant, err := a.tenants.LookupByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return a.assemble(ctx, tenant)
}

func (a *Assembler) assemble(ctx context.Context, tenant *models.Tenant) (*TenantContext, error) {
	if err := a.access.Check(ctx, tenant.TenantID); err != nil {
		var inactive *models.SubscriptionInactiveError
		if errors.As(err, &inactive) {
			return nil, err
		}
		return nil, fmt.Errorf("access check for tenant %s: %w", tenant.TenantID, err)
	}

	handle, err := a.datastores.Datastore(ctx, tenant.ConnectionString, tenant.DatastoreName)
	if err != nil {
		return nil, err
	}
	return &TenantContext{Tenant: tenant, Datastore: handle}, nil
}

func (a *Assembler) defaultContext(ctx context.Context) (*TenantContext, error) {
	handle, err := a.datastores.Datastore(ctx, a.defaultConn, "")
	if err != nil {
		return nil, err
	}
	return &TenantContext{Datastore: handle}, nil
}

type contextKey struct{}

// ContextWith stores an assembled TenantContext on a request context.
func ContextWith(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext retrieves the TenantContext placed by the middleware.
func FromContext(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(*TenantContext)
	return tc, ok
}
