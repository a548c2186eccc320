// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package reaper advances lapsed subscriptions on a schedule.
//
// The reaper is the only writer that moves subscriptions on timer expiry:
//   - trial past trial_ends_at is suspended,
//   - active past expires_on enters grace,
//   - grace past grace_expires_at is suspended.
//
// Every move goes through the billing state machine, so a sweep emits the
// same audited events as an administrator would. The sweep is idempotent:
// a second pass over the same rows finds nothing to do.
package reaper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// Config holds reaper configuration.
type Config struct {
	// Interval is the time between sweeps (default: 1 hour).
	Interval time.Duration

	// SweepTimeout bounds a single sweep (default: 5 minutes).
	SweepTimeout time.Duration

	// Enabled controls whether the loop runs.
	Enabled bool
}

// DefaultConfig returns the default reaper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Hour,
		SweepTimeout: 5 * time.Minute,
		Enabled:      true,
	}
}

// Reaper periodically sweeps the subscription table for expired timers.
type Reaper struct {
	store   billing.Store
	machine *billing.Machine
	now     func() time.Time
	logger  zerolog.Logger
	config  Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Reaper. A nil clock uses time.Now.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(store billing.Store, machine *billing.Machine, clock func() time.Time, logger zerolog.Logger, config Config) *Reaper {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = 5 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &Reaper{
		store:   store,
		machine: machine,
		now:     clock,
		logger:  logger.With().Str("component", "reaper").Logger(),
		config:  config,
	}
}

// Start begins the sweep loop.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reaper already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	if !r.config.Enabled {
		r.logger.Info().Msg("Reaper disabled")
		go func() {
			defer close(r.doneCh)
			<-r.stopCh
		}()
		return nil
	}

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Msg("Starting subscription reaper")

	go r.run(ctx)
	return nil
}

// Stop stops the loop and waits for the current sweep to finish.
func (r *Reaper) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.logger.Info().Msg("Stopping subscription reaper...")
	close(r.stopCh)
	<-r.doneCh

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.logger.Info().Msg("Subscription reaper stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	// Sweep immediately on start so a restart does not wait a full
	// interval to catch up on lapsed timers.
	r.sweepWithTimeout(ctx)

	for {
		select {
		case <-ticker.C:
			r.sweepWithTimeout(ctx)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reaper) sweepWithTimeout(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, r.config.SweepTimeout)
	defer cancel()
	if _, err := r.Sweep(sweepCtx); err != nil {
		r.logger.Error().Err(err).Msg("Sweep failed")
	}
}

// Sweep runs one pass over the sweepable subscriptions and returns how many
// were advanced. The deadline is snapshotted once, so every comparison in a
// sweep sees the same instant; a timer landing exactly on the tick is
// already due. Per-row failures are counted and logged but do not stop the
// sweep.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := r.now().UTC()

	subs, err := r.store.ListSweepable(ctx)
	if err != nil {
		metrics.ReaperErrors.Inc()
		return 0, fmt.Errorf("list sweepable subscriptions: %w", err)
	}

	metrics.ReaperSweeps.Inc()

	advanced := 0
	for i := range subs {
		sub := &subs[i]
		target, reason, due := r.due(sub, now)
		if !due {
			continue
		}

		if _, err := r.machine.Transition(ctx, sub.SubscriptionID, target, reason, models.SystemScheduler); err != nil {
			// A lost race with a concurrent admin transition is routine;
			// the row gets another look next sweep either way.
			metrics.ReaperErrors.Inc()
			r.logger.Warn().Err(err).
				Str("subscription_id", sub.SubscriptionID).
				Str("tenant_id", sub.TenantID).
				Str("target", string(target)).
				Msg("Failed to advance subscription")
			continue
		}
		advanced++
		metrics.ReaperAdvanced.Inc()
	}

	metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	r.logger.Info().
		Int("checked", len(subs)).
		Int("advanced", advanced).
		Time("as_of", now).
		Msg("Sweep complete")
	return advanced, nil
}

// due decides where a subscription moves at the given instant, if anywhere.
// A boundary timer (expiry equal to now) is due on the current sweep.
func (r *Reaper) due(sub *models.Subscription, now time.Time) (models.SubscriptionStatus, string, bool) {
	switch sub.Status {
	case models.SubscriptionTrial:
		if sub.TrialEndsAt != nil && !sub.TrialEndsAt.After(now) {
			return models.SubscriptionSuspended, "trial expired", true
		}
	case models.SubscriptionActive:
		if sub.ExpiresOn != nil && !sub.ExpiresOn.After(now) {
			return models.SubscriptionGrace, "billing period lapsed", true
		}
	case models.SubscriptionGrace:
		if sub.GraceExpiresAt != nil && !sub.GraceExpiresAt.After(now) {
			return models.SubscriptionSuspended, "grace period expired", true
		}
	}
	return "", "", false
}
