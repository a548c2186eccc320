// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package models

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the lifecycle state of a subscription.
// The legal moves between states live in the billing state machine;
// this type only closes the value set.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionGrace     SubscriptionStatus = "grace"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// ParseSubscriptionStatus converts a stored string to a SubscriptionStatus,
// refusing unknown values.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(s) {
	case SubscriptionTrial, SubscriptionActive, SubscriptionGrace,
		SubscriptionSuspended, SubscriptionCancelled:
		return SubscriptionStatus(s), nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", s)
	}
}

// PlanTier is the commercial tier of a plan.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// BillingCycle is the recurrence of a plan.
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
	CycleLifetime  BillingCycle = "lifetime"
)

// PeriodEnd returns the end of a billing period that starts at the given
// time, or nil for lifetime plans.
func (c BillingCycle) PeriodEnd(start time.Time) *time.Time {
	var end time.Time
	switch c {
	case CycleMonthly:
		end = start.AddDate(0, 1, 0)
	case CycleQuarterly:
		end = start.AddDate(0, 3, 0)
	case CycleYearly:
		end = start.AddDate(1, 0, 0)
	case CycleLifetime:
		return nil
	default:
		return nil
	}
	return &end
}

// Plan is a subscription template. Subscriptions freeze a copy at creation
// time so later plan edits do not silently alter existing contracts.
type Plan struct {
	PlanID   string           `json:"plan_id"`
	Name     string           `json:"name"`
	Tier     PlanTier         `json:"tier"`
	Price    int64            `json:"price"` // minor currency units
	Currency string           `json:"currency"`
	Cycle    BillingCycle     `json:"cycle"`
	Quotas   map[string]int64 `json:"quotas,omitempty"`
	Features []string         `json:"features,omitempty"`
	IsActive bool             `json:"is_active"`
}

// Subscription is the authoritative lifecycle record, one per tenant.
//
// Invariants maintained by the billing state machine:
//   - GraceExpiresAt is non-nil iff Status == grace.
//   - A trial subscription has TrialEndsAt set, in the future at creation.
//   - cancelled is terminal.
type Subscription struct {
	SubscriptionID     string             `json:"subscription_id"`
	TenantID           string             `json:"tenant_id"`
	PlanID             string             `json:"plan_id"`
	PlanSnapshot       Plan               `json:"plan_snapshot"`
	Status             SubscriptionStatus `json:"status"`
	StartsOn           time.Time          `json:"starts_on"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	ExpiresOn          *time.Time         `json:"expires_on,omitempty"`
	GraceExpiresAt     *time.Time         `json:"grace_expires_at,omitempty"`
	GracePeriodDays    int                `json:"grace_period_days"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// DefaultGracePeriodDays applies when a subscription row predates the
// grace_period_days column.
const DefaultGracePeriodDays = 3

// SystemScheduler is the actor recorded on billing events emitted by the
// reaper, as opposed to an administrator's user id.
const SystemScheduler = "system_scheduler"

// BillingEvent is one row of the append-only audit of state changes.
// The committed order of events on a subscription is its authoritative
// history; the status column is only the latest word.
type BillingEvent struct {
	EventID        string             `json:"event_id"`
	SubscriptionID string             `json:"subscription_id"`
	TenantID       string             `json:"tenant_id"`
	OldStatus      SubscriptionStatus `json:"old_status"`
	NewStatus      SubscriptionStatus `json:"new_status"`
	TriggeredBy    string             `json:"triggered_by"`
	Reason         string             `json:"reason"`
	CreatedAt      time.Time          `json:"created_at"`
}

// PaymentRecord is a manual ledger entry covering a billing period.
// Payments are always recorded, whether or not they promote the
// subscription.
type PaymentRecord struct {
	PaymentID      string    `json:"payment_id"`
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Method         string    `json:"method"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	RecordedBy     string    `json:"recorded_by"`
	CreatedAt      time.Time `json:"created_at"`
}
