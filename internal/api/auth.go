// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/tenantctx"
)

type claimsKey struct{}

// jwtClaims is the bearer-token claim set. Token minting belongs to the
// external identity service; this process only verifies.
type jwtClaims struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	TenantSlug string `json:"tenant_slug,omitempty"`
	Role       string `json:"role,omitempty"`
	BranchID   string `json:"branch_id,omitempty"`
}

// ClaimsFromContext returns the verified claims placed by Authenticate.
func ClaimsFromContext(ctx context.Context) (*models.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*models.Claims)
	return c, ok
}

// contextWithClaims is exposed within the package for handler tests.
func contextWithClaims(ctx context.Context, c *models.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// Authenticate verifies the bearer token, assembles the tenant context for
// the claimed tenant, and attaches both to the request.
//
// The assembler runs here, not in the handlers, so every data-plane
// handler downstream can assume routing and subscription standing are
// settled. A claim set with no tenant routes to the default datastore.
func (router *Router) Authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := router.verifyBearer(r)
		if err != nil {
			writeErrorCode(w, http.StatusUnauthorized, models.CodeUnauthorized,
				"invalid or missing bearer token")
			return
		}

		var tc *tenantctx.TenantContext
		if claims.TenantSlug != "" {
			tc, err = router.assembler.Assemble(r.Context(), claims.TenantSlug)
		} else {
			tc, err = router.assembler.AssembleByID(r.Context(), claims.TenantID)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}

		ctx := contextWithClaims(r.Context(), claims)
		ctx = tenantctx.ContextWith(ctx, tc)
		next(w, r.WithContext(ctx))
	}
}

// VerifyToken verifies the bearer token and attaches claims without
// assembling a tenant context. Control-plane routes use it: an admin
// recording the payment that lifts a suspension must not be blocked by
// the very gate that suspension triggers.
func (router *Router) VerifyToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := router.verifyBearer(r)
		if err != nil {
			writeErrorCode(w, http.StatusUnauthorized, models.CodeUnauthorized,
				"invalid or missing bearer token")
			return
		}
		next(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	}
}

// RequireAdmin rejects non-admin claims. Must run after VerifyToken or
// Authenticate.
func (router *Router) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.Role != "admin" {
			writeErrorCode(w, http.StatusForbidden, models.CodeForbidden,
				"admin role required")
			return
		}
		next(w, r)
	}
}

// verifyBearer parses and verifies the Authorization header.
func (router *Router) verifyBearer(r *http.Request) (*models.Claims, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing bearer token")
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return router.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	return &models.Claims{
		Subject:    claims.Subject,
		Email:      claims.Email,
		TenantID:   claims.TenantID,
		TenantSlug: claims.TenantSlug,
		Role:       claims.Role,
		BranchID:   claims.BranchID,
	}, nil
}
