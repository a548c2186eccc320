// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package warranty

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/pool"
	"github.com/tomtom215/shopkeeper/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeTenants struct {
	tenant *models.Tenant
	err    error
}

func (f *fakeTenants) LookupByID(_ context.Context, id string) (*models.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.tenant != nil && f.tenant.TenantID == id {
		return f.tenant, nil
	}
	return nil, models.ErrTenantNotFound
}

type fakeDatastores struct {
	err error
}

func (f *fakeDatastores) Datastore(_ context.Context, _, name string) (*pool.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pool.Handle{Schema: name}, nil
}

type fixture struct {
	codec    *token.Codec
	resolver *Resolver
	rows     map[string]*Warranty // by guid
	fetchErr error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := token.NewCodec(testSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	fx := &fixture{codec: codec, rows: make(map[string]*Warranty)}

	tenants := &fakeTenants{tenant: &models.Tenant{
		TenantID:         "tn_1",
		Slug:             "acme",
		ConnectionString: "postgres://db.internal/cluster1",
		DatastoreName:    "tn_1",
		Status:           models.TenantActive,
	}}
	fetch := func(_ context.Context, _ *pool.Handle, guid string) (*Warranty, error) {
		if fx.fetchErr != nil {
			return nil, fx.fetchErr
		}
		w, ok := fx.rows[guid]
		if !ok {
			return nil, models.ErrNotFound
		}
		return w, nil
	}
	fx.resolver = NewResolver(codec, tenants, &fakeDatastores{}, fetch, logging.NewTestLogger(io.Discard))
	return fx
}

// issue signs a payload and stores the matching row.
func (fx *fixture) issue(t *testing.T, guid, warrantyID string) string {
	t.Helper()
	tok, err := fx.codec.Encode(models.WarrantyPayload{
		GUID:       guid,
		TenantID:   "tn_1",
		WarrantyID: warrantyID,
		IssuedAt:   1740787200,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fx.rows[guid] = &Warranty{
		WarrantyID:   warrantyID,
		GUID:         guid,
		CustomerName: "Dana Okafor",
		ProductName:  "Espresso Machine X9",
		PurchaseDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:       "active",
		Token:        tok,
	}
	return tok
}

func TestResolve_ValidToken(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "guid-1", "w_100")

	w, err := fx.resolver.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if w.WarrantyID != "w_100" || w.ProductName != "Espresso Machine X9" {
		t.Errorf("unexpected warranty %+v", w)
	}
}

func TestResolve_AllFailuresAreOpaque(t *testing.T) {
	fx := newFixture(t)
	valid := fx.issue(t, "guid-1", "w_100")

	// A validly-signed token naming a tenant that does not exist.
	foreign, err := fx.codec.Encode(models.WarrantyPayload{
		GUID: "guid-1", TenantID: "tn_ghost", WarrantyID: "w_100", IssuedAt: 1740787200,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// A validly-signed token for a warranty that was never issued.
	orphan, err := fx.codec.Encode(models.WarrantyPayload{
		GUID: "guid-none", TenantID: "tn_1", WarrantyID: "w_none", IssuedAt: 1740787200,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	cases := []struct {
		name string
		tok  string
	}{
		{"garbage", "not-a-token"},
		{"tampered signature", valid + "A"},
		{"unknown tenant", foreign},
		{"no such warranty", orphan},
	}
	var msgs []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.resolver.Resolve(context.Background(), tc.tok)
			if !errors.Is(err, models.ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			msgs = append(msgs, err.Error())
		})
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i] != msgs[0] {
			t.Errorf("failure modes must be indistinguishable: %q vs %q", msgs[0], msgs[i])
		}
	}
}

func TestResolve_SplicedTokenRejected(t *testing.T) {
	fx := newFixture(t)
	fx.issue(t, "guid-1", "w_100")
	tokB := fx.issue(t, "guid-2", "w_200")

	// Re-sign warranty A's identifiers: a forgery attempt using knowledge
	// of another tenant row. Signature is valid, but the stored token for
	// guid-1 differs, so the replay check refuses it.
	spliced, err := fx.codec.Encode(models.WarrantyPayload{
		GUID: "guid-1", TenantID: "tn_1", WarrantyID: "w_100", IssuedAt: 1750000000,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := fx.resolver.Resolve(context.Background(), spliced); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("re-signed token must be refused, got %v", err)
	}

	// Token B still resolves its own warranty.
	if _, err := fx.resolver.Resolve(context.Background(), tokB); err != nil {
		t.Fatalf("Resolve B: %v", err)
	}
}

func TestResolve_WarrantyIDMismatchRejected(t *testing.T) {
	fx := newFixture(t)
	fx.issue(t, "guid-1", "w_100")

	// Signed token whose guid points at warranty 1 but names a different
	// warranty id.
	crossed, err := fx.codec.Encode(models.WarrantyPayload{
		GUID: "guid-1", TenantID: "tn_1", WarrantyID: "w_999", IssuedAt: 1740787200,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := fx.resolver.Resolve(context.Background(), crossed); !errors.Is(err, models.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestResolve_InfrastructureFailureIsDistinct(t *testing.T) {
	fx := newFixture(t)
	tok := fx.issue(t, "guid-1", "w_100")

	fx.fetchErr = errors.New("connection reset")
	_, err := fx.resolver.Resolve(context.Background(), tok)
	if !errors.Is(err, models.ErrDatastoreUnavailable) {
		t.Fatalf("expected ErrDatastoreUnavailable, got %v", err)
	}
	if errors.Is(err, models.ErrInvalidToken) {
		t.Error("infrastructure failure must not masquerade as an invalid token")
	}
}
