// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package services

import (
	"context"
	"fmt"
)

// ReaperManager matches the subscription reaper's lifecycle. Satisfied by
// *reaper.Reaper.
type ReaperManager interface {
	Start(ctx context.Context) error
	Stop() error
}

// ReaperService wraps the subscription reaper as a supervised service.
//
// It adapts the Start/Stop lifecycle to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the sweep loop
//  2. Blocks until the context is canceled
//  3. Calls Stop() for graceful shutdown
type ReaperService struct {
	manager ReaperManager
	name    string
}

// NewReaperService creates a new reaper service wrapper.
func NewReaperService(manager ReaperManager) *ReaperService {
	return &ReaperService{
		manager: manager,
		name:    "subscription-reaper",
	}
}

// Serve implements suture.Service.
//
// If Start fails, the error is returned immediately, causing suture to
// restart the service according to its backoff policy.
func (s *ReaperService) Serve(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("reaper start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.manager.Stop(); err != nil {
		return fmt.Errorf("reaper stop failed: %w", err)
	}

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *ReaperService) String() string {
	return s.name
}
