// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/tenantctx"
)

// Health reports process health and uptime.
func (router *Router) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": router.version,
		"uptime":  time.Since(router.startTime).String(),
	}, 0)
}

// HealthLive is the liveness probe: the process is up.
func (router *Router) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"}, 0)
}

// HealthReady is the readiness probe. Readiness means the admin store
// answered recently enough to route; tenant clusters are reached lazily
// and do not gate readiness.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	if router.ready != nil {
		if err := router.ready(r.Context()); err != nil {
			writeErrorCode(w, http.StatusServiceUnavailable,
				models.CodeDatastoreUnavailable, "admin store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, 0)
}

// WarrantyResolve is the public warranty lookup: GET /w/{token}.
// No session, no auth header; the token is the entire credential.
func (router *Router) WarrantyResolve(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	warranty, err := router.resolver.Resolve(r.Context(), tok)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, warranty, 0)
}

// Product is one row of the demo data-plane read.
type Product struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Currency  string `json:"currency"`
}

// Products reads the tenant's product catalog. It is the reference
// data-plane handler: everything tenant-specific arrived via the
// assembled context, so the handler body is plain storage code.
func (router *Router) Products(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantctx.FromContext(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusInternalServerError, models.CodeInternal,
			"request reached handler without tenant context")
		return
	}

	rows, err := tc.Datastore.Client.Query(r.Context(), `
		SELECT product_id, name, price, currency
		FROM `+tc.Datastore.Table("products")+`
		ORDER BY name
		LIMIT 500`)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: query products: %v", models.ErrDatastoreUnavailable, err))
		return
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.Name, &p.Price, &p.Currency); err != nil {
			writeError(w, r, fmt.Errorf("%w: scan product: %v", models.ErrDatastoreUnavailable, err))
			return
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		writeError(w, r, fmt.Errorf("%w: read products: %v", models.ErrDatastoreUnavailable, err))
		return
	}

	logger := logging.Ctx(r.Context())
	logger.Debug().
		Int("count", len(products)).
		Msg("Products listed")
	writeJSON(w, http.StatusOK, products, len(products))
}
