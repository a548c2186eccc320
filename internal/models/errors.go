// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package models

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the core. The HTTP host maps these to status
// codes in one place (internal/api); nothing below the API layer knows
// about HTTP.
var (
	// ErrNotFound is the store-level miss. Repositories return it for any
	// absent row; callers translate it into a domain error where needed.
	ErrNotFound = errors.New("not found")

	// ErrTenantNotFound covers both a missing slug and an inactive tenant.
	// The single message is deliberate: callers must not be able to tell
	// whether a slug exists. Maps to 403.
	ErrTenantNotFound = errors.New("tenant inactive or unknown")

	// ErrDatastoreUnavailable indicates a datastore client could not be
	// opened or timed out. Maps to 503.
	ErrDatastoreUnavailable = errors.New("datastore unavailable")

	// ErrInvalidTransition indicates the state machine rejected an illegal
	// move. Surfaces to admin callers as 409.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidToken is the single opaque error for every warranty token
	// failure: malformed, forged, unknown tenant, replay mismatch. Maps
	// to 403.
	ErrInvalidToken = errors.New("invalid or forged token")
)

// Refusal is the structured payload of an access-gate denial. The HTTP
// host renders it verbatim with status 402.
type Refusal struct {
	StatusCode int           `json:"status_code"`
	Detail     RefusalDetail `json:"detail"`
}

// RefusalDetail carries the subscription state behind a denial.
type RefusalDetail struct {
	Status         string     `json:"status"`
	Plan           string     `json:"plan"`
	Message        string     `json:"message"`
	GraceExpiresAt *time.Time `json:"grace_expires_at,omitempty"`
}

// SubscriptionInactiveError wraps a Refusal as an error so it can flow
// through the assembler's error return without losing structure.
type SubscriptionInactiveError struct {
	Refusal Refusal
}

func (e *SubscriptionInactiveError) Error() string {
	return e.Refusal.Detail.Message
}
