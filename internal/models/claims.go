// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package models

// Claims is the verified claim set handed to the core by the external
// authenticator. The core trusts it as-is; token verification happened
// at the HTTP boundary.
type Claims struct {
	Subject    string `json:"sub"`
	Email      string `json:"email,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	TenantSlug string `json:"tenant_slug,omitempty"`
	Role       string `json:"role,omitempty"`
	BranchID   string `json:"branch_id,omitempty"`
}

// WarrantyPayload is the decoded form of a warranty token. The payload is
// self-describing so the public endpoint can locate the tenant datastore
// without a session or a prior lookup table.
//
// IssuedAt is serialized as a decimal string of epoch seconds to match the
// wire format.
type WarrantyPayload struct {
	GUID       string `json:"guid"`
	TenantID   string `json:"tenant_id"`
	WarrantyID string `json:"warranty_id"`
	IssuedAt   int64  `json:"issued_at,string"`
}
