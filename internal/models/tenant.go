// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package models defines the control-plane data model: tenants, plans,
// subscriptions, billing events, payments, and the request-boundary types
// (claims, refusals, warranty payloads) shared across the core.
package models

import (
	"fmt"
	"time"
)

// TenantStatus is the lifecycle status of a tenant in the registry.
// Only active tenants are routable; anything else is reported as not found
// so callers cannot probe for suspended slugs.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantInactive  TenantStatus = "inactive"
)

// ParseTenantStatus converts a stored string to a TenantStatus.
// Unknown values are refused rather than passed through, so a future
// status added by a newer deployment cannot be silently misrouted.
func ParseTenantStatus(s string) (TenantStatus, error) {
	switch TenantStatus(s) {
	case TenantActive, TenantSuspended, TenantInactive:
		return TenantStatus(s), nil
	default:
		return "", fmt.Errorf("unknown tenant status %q", s)
	}
}

// Tenant identifies one isolated business and carries the connection
// metadata the router needs to reach its datastore.
//
// Slug is the canonical key: URL-safe, externally visible, and stable.
// TenantID is the surrogate used for foreign keys inside tenant datastores;
// the registry maintains the tenant_id -> slug index explicitly.
type Tenant struct {
	Slug             string           `json:"slug"`
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name"`
	ConnectionString string           `json:"-"`
	DatastoreName    string           `json:"datastore_name,omitempty"`
	Status           TenantStatus     `json:"status"`
	FeatureFlags     []string         `json:"feature_flags,omitempty"`
	Limits           map[string]int64 `json:"limits,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// HasFeature reports whether a feature flag is enabled for the tenant.
func (t *Tenant) HasFeature(name string) bool {
	for _, f := range t.FeatureFlags {
		if f == name {
			return true
		}
	}
	return false
}

// Limit returns the named limit. -1 means unbounded; a missing entry is
// treated as unbounded as well.
func (t *Tenant) Limit(name string) int64 {
	if t.Limits == nil {
		return -1
	}
	if v, ok := t.Limits[name]; ok {
		return v
	}
	return -1
}
