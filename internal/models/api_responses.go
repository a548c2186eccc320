// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package models

import "time"

// APIResponse is the standard envelope for JSON responses.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response metadata.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count,omitempty"`
}

// APIError is the machine-readable error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes surfaced by the HTTP host.
const (
	CodeTenantNotFound       = "TENANT_NOT_FOUND"
	CodeDatastoreUnavailable = "DATASTORE_UNAVAILABLE"
	CodeSubscriptionInactive = "SUBSCRIPTION_INACTIVE"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeBadRequest           = "BAD_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "INTERNAL_ERROR"
)
