// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package api provides the HTTP surface: the public warranty endpoint,
// the authenticated data plane, and the admin control plane.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// writeJSON writes the standard response envelope.
func writeJSON(w http.ResponseWriter, status int, data interface{}, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC(), Count: count},
	}
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(resp)
}

// writeErrorCode writes an error envelope with an explicit code.
func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	}
	//nolint:errcheck // HTTP response write errors are not recoverable
	json.NewEncoder(w).Encode(resp)
}

// writeError maps a core error to its HTTP shape.
//
// A subscription refusal is special-cased: the refusal payload is rendered
// verbatim as the response body, not wrapped in the envelope, so clients
// see exactly the structure the gate produced.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var inactive *models.SubscriptionInactiveError
	if errors.As(err, &inactive) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		//nolint:errcheck // HTTP response write errors are not recoverable
		json.NewEncoder(w).Encode(inactive.Refusal)
		return
	}

	switch {
	case errors.Is(err, models.ErrTenantNotFound):
		writeErrorCode(w, http.StatusForbidden, models.CodeTenantNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidToken):
		writeErrorCode(w, http.StatusForbidden, models.CodeInvalidToken, err.Error())
	case errors.Is(err, models.ErrDatastoreUnavailable):
		writeErrorCode(w, http.StatusServiceUnavailable, models.CodeDatastoreUnavailable,
			"datastore temporarily unavailable")
	case errors.Is(err, models.ErrInvalidTransition):
		writeErrorCode(w, http.StatusConflict, models.CodeInvalidTransition, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeErrorCode(w, http.StatusNotFound, models.CodeNotFound, "not found")
	default:
		logger := logging.Ctx(r.Context())
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("Unhandled error")
		writeErrorCode(w, http.StatusInternalServerError, models.CodeInternal,
			"internal server error")
	}
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
