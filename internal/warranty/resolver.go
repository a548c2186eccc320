// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package warranty resolves public warranty tokens to warranty records.
//
// The token is self-describing: it names the tenant, so the resolver can
// route to the right datastore without a session. Every validation failure
// collapses to the same opaque error; an attacker probing the endpoint
// learns nothing about which tenants, warranties, or tokens exist.
package warranty

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/pool"
	"github.com/tomtom215/shopkeeper/internal/token"
)

// Warranty is one warranty record in a tenant datastore.
type Warranty struct {
	WarrantyID   string     `json:"warranty_id"`
	GUID         string     `json:"guid"`
	CustomerName string     `json:"customer_name"`
	ProductName  string     `json:"product_name"`
	SerialNumber string     `json:"serial_number,omitempty"`
	PurchaseDate time.Time  `json:"purchase_date"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Status       string     `json:"status"`
	// Token is the stored copy of the issued token, kept for the replay
	// check and never serialized back out.
	Token string `json:"-"`
}

// TenantSource resolves a tenant id to its routing record.
type TenantSource interface {
	LookupByID(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// DatastoreProvider hands out tenant datastore handles.
type DatastoreProvider interface {
	Datastore(ctx context.Context, connString, datastoreName string) (*pool.Handle, error)
}

// FetchFunc loads a warranty row by guid from a tenant datastore.
// models.ErrNotFound signals a miss.
type FetchFunc func(ctx context.Context, h *pool.Handle, guid string) (*Warranty, error)

// FetchRow is the production FetchFunc, querying the tenant's warranties
// table through the shared client.
func FetchRow(ctx context.Context, h *pool.Handle, guid string) (*Warranty, error) {
	query := `
		SELECT warranty_id, guid, customer_name, product_name,
		       COALESCE(serial_number, ''), purchase_date, expires_at,
		       status, token
		FROM ` + h.Table("warranties") + `
		WHERE guid = $1`

	var w Warranty
	err := h.Client.QueryRow(ctx, query, guid).Scan(
		&w.WarrantyID, &w.GUID, &w.CustomerName, &w.ProductName,
		&w.SerialNumber, &w.PurchaseDate, &w.ExpiresAt, &w.Status, &w.Token,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("query warranty: %w", err)
	}
	return &w, nil
}

// Resolver turns a presented token into a warranty record.
type Resolver struct {
	codec      *token.Codec
	tenants    TenantSource
	datastores DatastoreProvider
	fetch      FetchFunc
	logger     zerolog.Logger
}

// NewResolver creates a Resolver. A nil fetch uses FetchRow.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewResolver(codec *token.Codec, tenants TenantSource, datastores DatastoreProvider, fetch FetchFunc, logger zerolog.Logger) *Resolver {
	if fetch == nil {
		fetch = FetchRow
	}
	return &Resolver{
		codec:      codec,
		tenants:    tenants,
		datastores: datastores,
		fetch:      fetch,
		logger:     logger.With().Str("component", "warranty-resolver").Logger(),
	}
}

// Resolve verifies a token end to end and returns the warranty it names.
//
// The signature check runs first, so no unverified field ever drives a
// lookup. After the row loads, the presented token is compared against the
// stored issued token in constant time: a validly-signed token for
// warranty A never resolves warranty B, even within one tenant. Forged,
// malformed, mismatched, and missing all return models.ErrInvalidToken;
// only infrastructure failure is reported distinctly.
func (r *Resolver) Resolve(ctx context.Context, presented string) (*Warranty, error) {
	payload, err := r.codec.Decode(presented)
	if err != nil {
		return nil, r.invalid("decode")
	}

	tenant, err := r.tenants.LookupByID(ctx, payload.TenantID)
	if err != nil {
		if errors.Is(err, models.ErrTenantNotFound) {
			return nil, r.invalid("unknown tenant")
		}
		return nil, err
	}

	handle, err := r.datastores.Datastore(ctx, tenant.ConnectionString, tenant.DatastoreName)
	if err != nil {
		return nil, err
	}

	w, err := r.fetch(ctx, handle, payload.GUID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, r.invalid("no such warranty")
		}
		return nil, fmt.Errorf("%w: warranty fetch: %v", models.ErrDatastoreUnavailable, err)
	}

	if w.WarrantyID != payload.WarrantyID {
		return nil, r.invalid("warranty id mismatch")
	}
	if subtle.ConstantTimeCompare([]byte(w.Token), []byte(presented)) != 1 {
		return nil, r.invalid("token mismatch")
	}

	metrics.WarrantyResolves.WithLabelValues("resolved").Inc()
	return w, nil
}

// invalid records the failure with its real cause in the log and returns
// the opaque error. The distinction never leaves the process.
func (r *Resolver) invalid(cause string) error {
	metrics.WarrantyResolves.WithLabelValues("invalid").Inc()
	r.logger.Debug().Str("cause", cause).Msg("Warranty token rejected")
	return models.ErrInvalidToken
}
