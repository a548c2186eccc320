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

const subscriptionColumns = `subscription_id, tenant_id, plan_id, plan_snapshot,
	status, starts_on, current_period_start, current_period_end, trial_ends_at,
	expires_on, grace_expires_at, grace_period_days, created_at, updated_at`

// GetSubscription loads a subscription by id.
func (s *AdminStore) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE subscription_id = $1`, subscriptionID)
	return scanSubscription(row)
}

// GetSubscriptionByTenant loads a tenant's subscription. Tenants hold at
// most one; rows predating billing simply do not exist.
func (s *AdminStore) GetSubscriptionByTenant(ctx context.Context, tenantID string) (*models.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, tenantID)
	return scanSubscription(row)
}

// CreateSubscription inserts a subscription row.
func (s *AdminStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	snapshot, err := json.Marshal(sub.PlanSnapshot)
	if err != nil {
		return fmt.Errorf("marshal plan snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO subscriptions
			(subscription_id, tenant_id, plan_id, plan_snapshot, status,
			 starts_on, current_period_start, current_period_end, trial_ends_at,
			 expires_on, grace_expires_at, grace_period_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sub.SubscriptionID, sub.TenantID, sub.PlanID, snapshot, string(sub.Status),
		sub.StartsOn, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.ExpiresOn, sub.GraceExpiresAt, sub.GracePeriodDays,
		sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription %s: %w", sub.SubscriptionID, err)
	}
	return nil
}

// CompareAndSwapStatus writes the row's current field values iff the stored
// status still matches from. The WHERE clause is the whole concurrency
// story: two racing transitions cannot both match, so the loser sees zero
// rows affected and reports false.
func (s *AdminStore) CompareAndSwapStatus(ctx context.Context, sub *models.Subscription, from models.SubscriptionStatus) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status = $3,
		    current_period_start = $4,
		    current_period_end = $5,
		    trial_ends_at = $6,
		    expires_on = $7,
		    grace_expires_at = $8,
		    updated_at = $9
		WHERE subscription_id = $1 AND status = $2`,
		sub.SubscriptionID, string(from), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.ExpiresOn, sub.GraceExpiresAt, sub.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("swap subscription %s status: %w", sub.SubscriptionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendBillingEvent appends one audit row. Events are insert-only; there
// is no update or delete path anywhere in the codebase.
func (s *AdminStore) AppendBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_events
			(event_id, subscription_id, tenant_id, old_status, new_status,
			 triggered_by, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.EventID, event.SubscriptionID, event.TenantID,
		string(event.OldStatus), string(event.NewStatus),
		event.TriggeredBy, event.Reason, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append billing event: %w", err)
	}
	return nil
}

// ListBillingEvents returns a subscription's audit history in commit order.
func (s *AdminStore) ListBillingEvents(ctx context.Context, subscriptionID string) ([]models.BillingEvent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT event_id, subscription_id, tenant_id, old_status, new_status,
		       triggered_by, reason, created_at
		FROM billing_events
		WHERE subscription_id = $1
		ORDER BY seq`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list billing events: %w", err)
	}
	defer rows.Close()

	var events []models.BillingEvent
	for rows.Next() {
		var (
			e        models.BillingEvent
			oldS, newS string
		)
		if err := rows.Scan(&e.EventID, &e.SubscriptionID, &e.TenantID,
			&oldS, &newS, &e.TriggeredBy, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan billing event: %w", err)
		}
		e.OldStatus = models.SubscriptionStatus(oldS)
		e.NewStatus = models.SubscriptionStatus(newS)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListSweepable returns the reaper's working set: every row whose status
// carries a timer that can expire.
func (s *AdminStore) ListSweepable(ctx context.Context) ([]models.Subscription, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('trial', 'active', 'grace')`)
	if err != nil {
		return nil, fmt.Errorf("list sweepable subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// InsertPayment appends a ledger entry.
func (s *AdminStore) InsertPayment(ctx context.Context, payment *models.PaymentRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO payment_ledger
			(payment_id, subscription_id, tenant_id, amount, currency, method,
			 period_start, period_end, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payment.PaymentID, payment.SubscriptionID, payment.TenantID,
		payment.Amount, payment.Currency, payment.Method,
		payment.PeriodStart, payment.PeriodEnd, payment.RecordedBy, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPlan loads a plan template.
func (s *AdminStore) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		p        models.Plan
		quotas   []byte
		features []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT plan_id, name, tier, price, currency, cycle, quotas, features, is_active
		FROM plans
		WHERE plan_id = $1`, planID).
		Scan(&p.PlanID, &p.Name, &p.Tier, &p.Price, &p.Currency, &p.Cycle,
			&quotas, &features, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get plan %s: %w", planID, err)
	}

	if err := json.Unmarshal(quotas, &p.Quotas); err != nil {
		return nil, fmt.Errorf("unmarshal plan quotas: %w", err)
	}
	if err := json.Unmarshal(features, &p.Features); err != nil {
		return nil, fmt.Errorf("unmarshal plan features: %w", err)
	}
	return &p, nil
}

// UpsertPlan creates or replaces a plan template. Existing subscriptions
// keep their frozen snapshots.
func (s *AdminStore) UpsertPlan(ctx context.Context, p *models.Plan) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	quotas, err := json.Marshal(p.Quotas)
	if err != nil {
		return fmt.Errorf("marshal plan quotas: %w", err)
	}
	features, err := json.Marshal(p.Features)
	if err != nil {
		return fmt.Errorf("marshal plan features: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plans (plan_id, name, tier, price, currency, cycle, quotas, features, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (plan_id) DO UPDATE SET
			name = EXCLUDED.name,
			tier = EXCLUDED.tier,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			cycle = EXCLUDED.cycle,
			quotas = EXCLUDED.quotas,
			features = EXCLUDED.features,
			is_active = EXCLUDED.is_active`,
		p.PlanID, p.Name, string(p.Tier), p.Price, p.Currency, string(p.Cycle),
		quotas, features, p.IsActive)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", p.PlanID, err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		sub      models.Subscription
		snapshot []byte
		status   string
	)
	err := row.Scan(&sub.SubscriptionID, &sub.TenantID, &sub.PlanID, &snapshot,
		&status, &sub.StartsOn, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.TrialEndsAt, &sub.ExpiresOn, &sub.GraceExpiresAt,
		&sub.GracePeriodDays, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.Status, err = models.ParseSubscriptionStatus(status)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &sub.PlanSnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal plan snapshot: %w", err)
	}
	return &sub, nil
}
