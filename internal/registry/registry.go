// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package registry resolves tenant slugs to connection metadata.
//
// The authoritative mapping lives in the admin datastore; a process-local
// cache fronts it. Entries have no TTL and are replaced only on explicit
// invalidation, which administrative mutations must trigger. Cache misses
// under concurrent load are coalesced so a cold slug costs one admin-store
// round trip, not a thundering herd.
//
// Slug is the canonical key. The tenant_id -> slug index is maintained
// explicitly for the warranty-resolve path, which only has a tenant id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// AdminSource is the admin-store read surface the registry depends on.
// Both methods filter to status = active and return models.ErrNotFound for
// a tenant that is missing or not active; the registry cannot, and must
// not, tell those apart.
type AdminSource interface {
	GetActiveTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	GetActiveTenantByID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Registry is the process-local tenant cache over the admin store.
type Registry struct {
	source  AdminSource
	breaker *gobreaker.CircuitBreaker[*models.Tenant]
	flight  singleflight.Group
	logger  zerolog.Logger

	mu       sync.RWMutex
	bySlug   map[string]*models.Tenant
	slugByID map[string]string
}

// New creates a Registry over the given admin source.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(source AdminSource, logger zerolog.Logger) *Registry {
	r := &Registry{
		source:   source,
		logger:   logger.With().Str("component", "registry").Logger(),
		bySlug:   make(map[string]*models.Tenant),
		slugByID: make(map[string]string),
	}

	// The breaker only counts infrastructure failures; a not-found result
	// is a successful answer.
	r.breaker = gobreaker.NewCircuitBreaker[*models.Tenant](gobreaker.Settings{
		Name:        "admin-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Admin store circuit breaker state change")
		},
	})

	return r
}

// Lookup resolves a slug to tenant metadata, from cache or the admin
// store. A slug that exists but is not active yields
// models.ErrTenantNotFound exactly like a missing one.
func (r *Registry) Lookup(ctx context.Context, slug string) (*models.Tenant, error) {
	r.mu.RLock()
	t, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if ok {
		metrics.RegistryCacheHits.Inc()
		return t, nil
	}

	metrics.RegistryCacheMisses.Inc()
	return r.fill(ctx, "slug:"+slug, func(ctx context.Context) (*models.Tenant, error) {
		return r.source.GetActiveTenantBySlug(ctx, slug)
	})
}

// LookupByID resolves a tenant by its surrogate id, via the id -> slug
// index when warm.
func (r *Registry) LookupByID(ctx context.Context, tenantID string) (*models.Tenant, error) {
	r.mu.RLock()
	var t *models.Tenant
	var ok bool
	if slug, found := r.slugByID[tenantID]; found {
		t, ok = r.bySlug[slug]
	}
	r.mu.RUnlock()
	if ok {
		metrics.RegistryCacheHits.Inc()
		return t, nil
	}

	metrics.RegistryCacheMisses.Inc()
	return r.fill(ctx, "id:"+tenantID, func(ctx context.Context) (*models.Tenant, error) {
		return r.source.GetActiveTenantByID(ctx, tenantID)
	})
}

// fill coalesces concurrent misses for the same key into one admin-store
// lookup and caches the result.
func (r *Registry) fill(ctx context.Context, key string, fetch func(context.Context) (*models.Tenant, error)) (*models.Tenant, error) {
	v, err, _ := r.flight.Do(key, func() (interface{}, error) {
		t, err := r.fetchWithRetry(ctx, fetch)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.bySlug[t.Slug] = t
		r.slugByID[t.TenantID] = t.Slug
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTenantNotFound
		}
		metrics.RegistryLookupErrors.Inc()
		return nil, fmt.Errorf("%w: admin store lookup: %v", models.ErrDatastoreUnavailable, err)
	}
	return v.(*models.Tenant), nil
}

// fetchWithRetry performs the breaker-guarded lookup, retrying once with
// jittered backoff on infrastructure failure.
func (r *Registry) fetchWithRetry(ctx context.Context, fetch func(context.Context) (*models.Tenant, error)) (*models.Tenant, error) {
	t, err := r.breaker.Execute(func() (*models.Tenant, error) { return fetch(ctx) })
	if err == nil || errors.Is(err, models.ErrNotFound) {
		return t, err
	}

	// Jittered backoff, 50-150ms
	backoff := time.Duration(50+rand.IntN(100)) * time.Millisecond
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.logger.Debug().Err(err).Dur("backoff", backoff).Msg("Retrying admin store lookup")
	return r.breaker.Execute(func() (*models.Tenant, error) { return fetch(ctx) })
}

// Invalidate removes one slug from the cache. Callers invoke this on
// administrative mutations (status change, connection move).
func (r *Registry) Invalidate(slug string) {
	r.mu.Lock()
	if t, ok := r.bySlug[slug]; ok {
		delete(r.slugByID, t.TenantID)
	}
	delete(r.bySlug, slug)
	r.mu.Unlock()
	metrics.RegistryInvalidations.Inc()
}

// InvalidateAll drops the whole cache.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.bySlug = make(map[string]*models.Tenant)
	r.slugByID = make(map[string]string)
	r.mu.Unlock()
	metrics.RegistryInvalidations.Inc()
}

// Len reports the number of cached tenants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySlug)
}
