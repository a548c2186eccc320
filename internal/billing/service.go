// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/models"
)

// CreateSubscriptionRequest is the admin input for opening a subscription.
type CreateSubscriptionRequest struct {
	TenantID  string `json:"tenant_id" validate:"required"`
	PlanID    string `json:"plan_id" validate:"required"`
	TrialDays int    `json:"trial_days" validate:"gte=0,lte=365"`
}

// PaymentRequest is the admin input for a manual payment entry.
type PaymentRequest struct {
	Amount      int64     `json:"amount" validate:"required,gt=0"`
	Currency    string    `json:"currency" validate:"required,len=3"`
	Method      string    `json:"method" validate:"required"`
	PeriodStart time.Time `json:"period_start" validate:"required"`
	PeriodEnd   time.Time `json:"period_end" validate:"required"`
	RecordedBy  string    `json:"recorded_by" validate:"required"`
}

// Service is the billing write surface: subscription creation and manual
// payment recording. Transitions funnel through the state machine so the
// audit log sees every move.
type Service struct {
	store   Store
	machine *Machine
	now     func() time.Time
	logger  zerolog.Logger
}

// NewService creates a Service. A nil clock uses time.Now.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewService(store Store, machine *Machine, clock func() time.Time, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:   store,
		machine: machine,
		now:     clock,
		logger:  logger.With().Str("component", "billing").Logger(),
	}
}

// CreateSubscription opens a subscription on a plan, freezing a snapshot of
// the plan so later plan edits do not alter the contract. With trial days
// the row starts in trial with a future trial_ends_at; without, it starts
// active with a period stamped from the plan's cycle.
func (s *Service) CreateSubscription(ctx context.Context, req *CreateSubscriptionRequest) (*models.Subscription, error) {
	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("plan %q: %w", req.PlanID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("load plan: %w", err)
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		SubscriptionID:  uuid.New().String(),
		TenantID:        req.TenantID,
		PlanID:          plan.PlanID,
		PlanSnapshot:    *plan,
		StartsOn:        now,
		GracePeriodDays: models.DefaultGracePeriodDays,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.TrialDays > 0 {
		trialEnds := now.AddDate(0, 0, req.TrialDays)
		sub.Status = models.SubscriptionTrial
		sub.TrialEndsAt = &trialEnds
	} else {
		sub.Status = models.SubscriptionActive
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = plan.Cycle.PeriodEnd(now)
		sub.ExpiresOn = plan.Cycle.PeriodEnd(now)
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info().
		Str("subscription_id", sub.SubscriptionID).
		Str("tenant_id", sub.TenantID).
		Str("plan_id", sub.PlanID).
		Str("status", string(sub.Status)).
		Msg("Subscription created")
	return sub, nil
}

// RecordPayment appends a ledger entry and, when the payment actually
// covers the current period, promotes the subscription to active.
//
// The ledger entry is written unconditionally: a short payment from trial,
// grace, or suspended stays in the books but leaves the state untouched. A
// covering payment promotes and stamps the paid-through period; the two
// writes are not atomic, so a promotion failure still leaves the ledger
// entry behind.
func (s *Service) RecordPayment(ctx context.Context, subscriptionID string, req *PaymentRequest) (*models.Subscription, error) {
	if !req.PeriodEnd.After(req.PeriodStart) {
		return nil, fmt.Errorf("payment period end %s not after start %s",
			req.PeriodEnd.Format(time.RFC3339), req.PeriodStart.Format(time.RFC3339))
	}

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	payment := &models.PaymentRecord{
		PaymentID:      uuid.New().String(),
		SubscriptionID: sub.SubscriptionID,
		TenantID:       sub.TenantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
		PeriodStart:    req.PeriodStart.UTC(),
		PeriodEnd:      req.PeriodEnd.UTC(),
		RecordedBy:     req.RecordedBy,
		CreatedAt:      now,
	}
	if err := s.store.InsertPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if !s.promotes(sub, payment) {
		s.logger.Info().
			Str("subscription_id", sub.SubscriptionID).
			Str("payment_id", payment.PaymentID).
			Str("status", string(sub.Status)).
			Msg("Payment recorded without promotion")
		return sub, nil
	}

	reason := fmt.Sprintf("payment %s recorded", payment.PaymentID)
	promoted, err := s.machine.TransitionWith(ctx, sub.SubscriptionID,
		models.SubscriptionActive, reason, req.RecordedBy,
		func(row *models.Subscription) {
			row.CurrentPeriodStart = payment.PeriodStart
			end := payment.PeriodEnd
			row.CurrentPeriodEnd = &end
			row.ExpiresOn = &end
		})
	if err != nil {
		return nil, fmt.Errorf("promote after payment: %w", err)
	}
	return promoted, nil
}

// promotes reports whether a payment moves the subscription to active:
// the row must have a legal edge into active and the payment must pay
// through at least the end of the current period.
func (s *Service) promotes(sub *models.Subscription, payment *models.PaymentRecord) bool {
	if !Legal(sub.Status, models.SubscriptionActive) {
		return false
	}
	if sub.CurrentPeriodEnd != nil && payment.PeriodEnd.Before(*sub.CurrentPeriodEnd) {
		return false
	}
	return true
}
