// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package gate decides whether a tenant's subscription state admits
// data-plane requests.
//
// The gate is advisory about history and strict about the present: it
// reads only the subscription's current status. Trial, active, and grace
// pass; suspended and cancelled are refused with a structured payload the
// HTTP host renders verbatim, so the club owner's browser can show exactly
// why the lights are off.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// Gate checks subscription standing for data-plane access.
type Gate struct {
	store  billing.Store
	logger zerolog.Logger
}

// New creates a Gate.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(store billing.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		store:  store,
		logger: logger.With().Str("component", "access-gate").Logger(),
	}
}

// Check admits or refuses a tenant.
//
// A tenant with no subscription row predates billing and is admitted; the
// registry has already vouched for the tenant itself. A refusal comes back
// as *models.SubscriptionInactiveError carrying the full payload. Store
// failures surface as models.ErrDatastoreUnavailable: standing unknown is
// not standing denied, but it is not standing granted either.
func (g *Gate) Check(ctx context.Context, tenantID string) error {
	sub, err := g.store.GetSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: subscription lookup: %v", models.ErrDatastoreUnavailable, err)
	}

	switch sub.Status {
	case models.SubscriptionTrial, models.SubscriptionActive, models.SubscriptionGrace:
		return nil
	case models.SubscriptionSuspended, models.SubscriptionCancelled:
		metrics.RecordGateDenial(string(sub.Status))
		g.logger.Info().
			Str("tenant_id", tenantID).
			Str("status", string(sub.Status)).
			Msg("Access refused")
		return &models.SubscriptionInactiveError{Refusal: refusal(sub)}
	default:
		return fmt.Errorf("subscription %s has unknown status %q", sub.SubscriptionID, sub.Status)
	}
}

// refusal builds the denial payload from the subscription row.
func refusal(sub *models.Subscription) models.Refusal {
	msg := "Your subscription is " + string(sub.Status) + ". Please contact support to restore access."
	return models.Refusal{
		StatusCode: 402,
		Detail: models.RefusalDetail{
			Status:         strings.ToUpper(string(sub.Status)),
			Plan:           sub.PlanSnapshot.Name,
			Message:        msg,
			GraceExpiresAt: sub.GraceExpiresAt,
		},
	}
}
