// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package token implements the warranty token codec: a compact,
// self-describing, tamper-evident string handed to an unauthenticated
// public endpoint.
//
// Wire format:
//
//	b64url(compact_json(payload)) "." b64url(hmac_sha256(secret, b64url(json(payload))))
//
// with padding stripped from both halves. The signature is computed over
// the encoded first half, and is verified before the payload is decoded.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/shopkeeper/internal/models"
)

// MinSecretLen is the minimum HMAC secret length in bytes.
const MinSecretLen = 32

// ErrSecretTooShort is returned by NewCodec for weak secrets.
var ErrSecretTooShort = errors.New("token secret must be at least 32 bytes")

var b64 = base64.RawURLEncoding

// Codec signs and verifies warranty tokens with a single shared secret.
// The zero value is unusable; construct with NewCodec.
type Codec struct {
	secret []byte
}

// NewCodec creates a codec. The secret is copied so later mutation of the
// caller's slice cannot affect signing.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrSecretTooShort
	}
	c := &Codec{secret: make([]byte, len(secret))}
	copy(c.secret, secret)
	return c, nil
}

// Encode produces a signed token for the payload.
func (c *Codec) Encode(payload models.WarrantyPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	body := b64.EncodeToString(raw)
	return body + "." + b64.EncodeToString(c.sign(body)), nil
}

// Decode verifies and decodes a token. The signature is recomputed and
// compared in constant time before the payload is parsed; any parse or
// signature failure yields models.ErrInvalidToken indistinguishably, so a
// caller cannot tell a malformed token from a forged one.
func (c *Codec) Decode(tok string) (*models.WarrantyPayload, error) {
	body, sig, ok := strings.Cut(tok, ".")
	if !ok || body == "" || sig == "" || strings.Contains(sig, ".") {
		return nil, models.ErrInvalidToken
	}

	got, err := b64.DecodeString(sig)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	if !hmac.Equal(got, c.sign(body)) {
		return nil, models.ErrInvalidToken
	}

	raw, err := b64.DecodeString(body)
	if err != nil {
		return nil, models.ErrInvalidToken
	}
	var payload models.WarrantyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, models.ErrInvalidToken
	}
	if payload.GUID == "" || payload.TenantID == "" || payload.WarrantyID == "" || payload.IssuedAt <= 0 {
		return nil, models.ErrInvalidToken
	}
	return &payload, nil
}

func (c *Codec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
