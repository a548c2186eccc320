// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package billing owns the subscription lifecycle: the persistence
// contract, the state machine that validates and executes transitions,
// and the payment-recording service.
package billing

import (
	"context"

	"github.com/tomtom215/shopkeeper/internal/models"
)

// Store is the admin-store surface the lifecycle depends on. The Postgres
// implementation lives in internal/database; tests use an in-memory fake.
type Store interface {
	// GetSubscription loads by id, returning models.ErrNotFound on a miss.
	GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error)

	// GetSubscriptionByTenant loads a tenant's subscription, returning
	// models.ErrNotFound when the tenant predates billing.
	GetSubscriptionByTenant(ctx context.Context, tenantID string) (*models.Subscription, error)

	// CreateSubscription inserts a new subscription row.
	CreateSubscription(ctx context.Context, sub *models.Subscription) error

	// CompareAndSwapStatus persists the subscription's current field
	// values (status, timers, updated_at) iff the stored status still
	// equals from. Returns false, nil when the row was concurrently
	// moved: the caller lost the race and must not append its event.
	CompareAndSwapStatus(ctx context.Context, sub *models.Subscription, from models.SubscriptionStatus) (bool, error)

	// AppendBillingEvent appends to the immutable audit log. Within one
	// transition the status write always precedes the event append; a
	// reader may briefly observe the new status without its event.
	AppendBillingEvent(ctx context.Context, event *models.BillingEvent) error

	// ListBillingEvents returns a subscription's events in commit order.
	ListBillingEvents(ctx context.Context, subscriptionID string) ([]models.BillingEvent, error)

	// ListSweepable returns every subscription whose status is trial,
	// active, or grace — the reaper's working set.
	ListSweepable(ctx context.Context) ([]models.Subscription, error)

	// InsertPayment appends a ledger entry.
	InsertPayment(ctx context.Context, payment *models.PaymentRecord) error

	// GetPlan loads a plan template, models.ErrNotFound on a miss.
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
}
