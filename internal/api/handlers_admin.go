// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// createTenantRequest is the admin input for onboarding a tenant.
type createTenantRequest struct {
	Slug             string           `json:"slug" validate:"required,max=63,hostname_rfc1123,lowercase"`
	Name             string           `json:"name" validate:"required"`
	ConnectionString string           `json:"connection_string" validate:"required"`
	DatastoreName    string           `json:"datastore_name"`
	FeatureFlags     []string         `json:"feature_flags"`
	Limits           map[string]int64 `json:"limits"`
}

// AdminCreateTenant registers a tenant: POST /api/v1/admin/tenants.
func (router *Router) AdminCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	tenant := &models.Tenant{
		Slug:             req.Slug,
		TenantID:         "tn_" + uuid.New().String(),
		Name:             req.Name,
		ConnectionString: req.ConnectionString,
		DatastoreName:    req.DatastoreName,
		Status:           models.TenantActive,
		FeatureFlags:     req.FeatureFlags,
		Limits:           req.Limits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := router.tenantAdmin.CreateTenant(r.Context(), tenant); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tenant, 0)
}

// AdminSetTenantStatus changes a tenant's lifecycle status and drops the
// stale registry entry: PUT /api/v1/admin/tenants/{slug}/status.
func (router *Router) AdminSetTenantStatus(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	status, err := models.ParseTenantStatus(req.Status)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}

	if err := router.tenantAdmin.SetTenantStatus(r.Context(), slug, status); err != nil {
		writeError(w, r, err)
		return
	}

	// The cache must not outlive the mutation; the next lookup refills
	// from the store and sees the new status.
	router.registry.Invalidate(slug)
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug, "status": string(status)}, 0)
}

// AdminInvalidateTenant drops a tenant's registry cache entry:
// POST /api/v1/admin/tenants/{slug}/invalidate. Used after out-of-band
// admin-store edits, e.g. moving a tenant to a new cluster.
func (router *Router) AdminInvalidateTenant(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	router.registry.Invalidate(slug)
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug, "invalidated": "true"}, 0)
}

// AdminUpsertPlan creates or updates a plan template:
// PUT /api/v1/admin/plans/{id}.
func (router *Router) AdminUpsertPlan(w http.ResponseWriter, r *http.Request) {
	var plan models.Plan
	if err := decodeBody(r, &plan); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	plan.PlanID = chi.URLParam(r, "id")
	if plan.Name == "" || plan.Cycle == "" {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "plan name and cycle are required")
		return
	}

	if err := router.tenantAdmin.UpsertPlan(r.Context(), &plan); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan, 0)
}

// AdminCreateSubscription opens a subscription:
// POST /api/v1/admin/subscriptions.
func (router *Router) AdminCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateSubscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}

	sub, err := router.billing.CreateSubscription(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub, 0)
}

// AdminGetSubscription reads one subscription:
// GET /api/v1/admin/subscriptions/{id}.
func (router *Router) AdminGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := router.store.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub, 0)
}

// AdminRecordPayment appends a ledger entry and promotes when covering:
// POST /api/v1/admin/subscriptions/{id}/payments.
func (router *Router) AdminRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req billing.PaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	if req.RecordedBy == "" {
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			req.RecordedBy = claims.Subject
		}
	}
	if err := validate.Struct(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest,
			"period_end must be after period_start")
		return
	}

	sub, err := router.billing.RecordPayment(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub, 0)
}

// AdminTransitionSubscription moves a subscription manually:
// POST /api/v1/admin/subscriptions/{id}/transition.
func (router *Router) AdminTransitionSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewStatus string `json:"new_status"`
		Reason    string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, "malformed request body")
		return
	}
	status, err := models.ParseSubscriptionStatus(req.NewStatus)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, models.CodeBadRequest, err.Error())
		return
	}

	triggeredBy := "admin"
	if claims, ok := ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		triggeredBy = claims.Subject
	}

	sub, err := router.machine.Transition(r.Context(), chi.URLParam(r, "id"), status, req.Reason, triggeredBy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub, 0)
}

// AdminListBillingEvents returns the audit history:
// GET /api/v1/admin/subscriptions/{id}/events.
func (router *Router) AdminListBillingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := router.store.ListBillingEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events, len(events))
}
