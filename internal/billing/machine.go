// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// transitions is the complete set of legal moves. Anything not listed is
// rejected; cancelled has no outgoing edges and is therefore terminal.
var transitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionTrial: {
		models.SubscriptionActive,    // payment recorded covering current period
		models.SubscriptionSuspended, // trial timer expired
		models.SubscriptionCancelled, // administrative cancel
	},
	models.SubscriptionActive: {
		models.SubscriptionGrace,     // expires_on reached without new payment
		models.SubscriptionSuspended, // administrative suspend
		models.SubscriptionCancelled, // administrative cancel
	},
	models.SubscriptionGrace: {
		models.SubscriptionActive,    // payment recorded during grace
		models.SubscriptionSuspended, // grace_expires_at reached without payment
	},
	models.SubscriptionSuspended: {
		models.SubscriptionActive,    // payment recorded post-suspension
		models.SubscriptionCancelled, // administrative cancel
	},
}

// Legal reports whether (from, to) is in the transition table.
func Legal(from, to models.SubscriptionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Machine validates and executes subscription transitions, emitting one
// billing event per committed move.
type Machine struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

// NewMachine creates a Machine. A nil clock uses time.Now.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMachine(store Store, clock func() time.Time, logger zerolog.Logger) *Machine {
	if clock == nil {
		clock = time.Now
	}
	return &Machine{
		store:  store,
		now:    clock,
		logger: logger.With().Str("component", "state-machine").Logger(),
	}
}

// Transition moves a subscription to newStatus.
//
// Returns models.ErrNotFound for an unknown subscription and
// models.ErrInvalidTransition for a move outside the table — including any
// attempt to leave cancelled. The status write is compare-and-set on the
// loaded status, so a concurrent transition surfaces as a rejection rather
// than a silent overwrite; the event is appended only after the status
// write commits.
func (m *Machine) Transition(ctx context.Context, subscriptionID string, newStatus models.SubscriptionStatus, reason, triggeredBy string) (*models.Subscription, error) {
	return m.TransitionWith(ctx, subscriptionID, newStatus, reason, triggeredBy, nil)
}

// TransitionWith is Transition with an extra mutation applied to the row
// after the per-transition side effects and before persistence. The
// payment path uses it to stamp the new billing period.
func (m *Machine) TransitionWith(ctx context.Context, subscriptionID string, newStatus models.SubscriptionStatus, reason, triggeredBy string, mutate func(*models.Subscription)) (*models.Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	from := sub.Status
	if !Legal(from, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, newStatus)
	}

	now := m.now().UTC()
	sub.Status = newStatus
	sub.UpdatedAt = now
	m.applySideEffects(sub, from, now)
	if mutate != nil {
		mutate(sub)
	}

	swapped, err := m.store.CompareAndSwapStatus(ctx, sub, from)
	if err != nil {
		return nil, fmt.Errorf("persist transition: %w", err)
	}
	if !swapped {
		return nil, fmt.Errorf("%w: subscription moved concurrently", models.ErrInvalidTransition)
	}

	event := &models.BillingEvent{
		EventID:        uuid.New().String(),
		SubscriptionID: sub.SubscriptionID,
		TenantID:       sub.TenantID,
		OldStatus:      from,
		NewStatus:      newStatus,
		TriggeredBy:    triggeredBy,
		Reason:         reason,
		CreatedAt:      now,
	}
	if err := m.store.AppendBillingEvent(ctx, event); err != nil {
		// The status is already committed; the audit row is the trailing
		// write. Surface the error so the caller can alert, the history
		// gap is visible in the log.
		m.logger.Error().Err(err).
			Str("subscription_id", sub.SubscriptionID).
			Str("old_status", string(from)).
			Str("new_status", string(newStatus)).
			Msg("Billing event append failed after status commit")
		return nil, fmt.Errorf("append billing event: %w", err)
	}

	metrics.RecordTransition(string(from), string(newStatus), triggeredBy)
	m.logger.Info().
		Str("subscription_id", sub.SubscriptionID).
		Str("tenant_id", sub.TenantID).
		Str("old_status", string(from)).
		Str("new_status", string(newStatus)).
		Str("triggered_by", triggeredBy).
		Str("reason", reason).
		Msg("Subscription transitioned")

	return sub, nil
}

// applySideEffects applies the per-transition timer bookkeeping.
// Invariant: grace_expires_at is set iff the row ends up in grace.
func (m *Machine) applySideEffects(sub *models.Subscription, from models.SubscriptionStatus, now time.Time) {
	if sub.Status == models.SubscriptionGrace {
		days := sub.GracePeriodDays
		if days <= 0 {
			days = models.DefaultGracePeriodDays
		}
		expires := now.AddDate(0, 0, days)
		sub.GraceExpiresAt = &expires
		return
	}

	sub.GraceExpiresAt = nil

	if from == models.SubscriptionGrace && sub.Status == models.SubscriptionActive {
		// New period from the frozen plan; the payment path overrides
		// this with the paid-through period via its mutate hook.
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = sub.PlanSnapshot.Cycle.PeriodEnd(now)
		sub.ExpiresOn = sub.PlanSnapshot.Cycle.PeriodEnd(now)
	}
}
