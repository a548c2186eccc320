// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package tenantctx

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/pool"
)

type fakeTenants struct {
	tenant *models.Tenant
}

func (f *fakeTenants) Lookup(_ context.Context, slug string) (*models.Tenant, error) {
	if f.tenant != nil && f.tenant.Slug == slug {
		return f.tenant, nil
	}
	return nil, models.ErrTenantNotFound
}

func (f *fakeTenants) LookupByID(_ context.Context, id string) (*models.Tenant, error) {
	if f.tenant != nil && f.tenant.TenantID == id {
		return f.tenant, nil
	}
	return nil, models.ErrTenantNotFound
}

type fakeAccess struct {
	err error
}

func (f *fakeAccess) Check(context.Context, string) error { return f.err }

// fakeDatastores counts handle requests so tests can prove a denied caller
// caused no datastore traffic.
type fakeDatastores struct {
	calls int32
	err   error
}

func (f *fakeDatastores) Datastore(_ context.Context, connString, name string) (*pool.Handle, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &pool.Handle{Schema: name}, nil
}

func acmeTenant() *models.Tenant {
	return &models.Tenant{
		Slug:             "acme",
		TenantID:         "tn_1",
		ConnectionString: "postgres://db.internal/cluster1",
		DatastoreName:    "tn_1",
		Status:           models.TenantActive,
	}
}

func newAssembler(t *fakeTenants, a *fakeAccess, d *fakeDatastores) *Assembler {
	return New(t, a, d, "postgres://db.internal/shopkeeper", logging.NewTestLogger(io.Discard))
}

func TestAssemble_HappyPath(t *testing.T) {
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{tenant: acmeTenant()}, &fakeAccess{}, d)

	tc, err := asm.Assemble(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if tc.Tenant == nil || tc.Tenant.TenantID != "tn_1" {
		t.Errorf("tenant = %+v", tc.Tenant)
	}
	if tc.Datastore == nil || tc.Datastore.Schema != "tn_1" {
		t.Errorf("datastore = %+v", tc.Datastore)
	}
}

func TestAssemble_EmptySlugFallsBackToDefault(t *testing.T) {
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{}, &fakeAccess{}, d)

	tc, err := asm.Assemble(context.Background(), "")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if tc.Tenant != nil {
		t.Errorf("default context must carry no tenant, got %+v", tc.Tenant)
	}
	if tc.Datastore == nil || tc.Datastore.Schema != "" {
		t.Errorf("datastore = %+v", tc.Datastore)
	}
}

func TestAssemble_UnknownSlug(t *testing.T) {
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{}, &fakeAccess{}, d)

	_, err := asm.Assemble(context.Background(), "ghost")
	if !errors.Is(err, models.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if n := atomic.LoadInt32(&d.calls); n != 0 {
		t.Errorf("unknown tenant must not reach the pool, got %d calls", n)
	}
}

func TestAssemble_RefusedTenantNeverTouchesDatastore(t *testing.T) {
	refusal := &models.SubscriptionInactiveError{Refusal: models.Refusal{
		StatusCode: 402,
		Detail:     models.RefusalDetail{Status: "SUSPENDED", Plan: "Basic Monthly", Message: "suspended"},
	}}
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{tenant: acmeTenant()}, &fakeAccess{err: refusal}, d)

	_, err := asm.Assemble(context.Background(), "acme")
	var inactive *models.SubscriptionInactiveError
	if !errors.As(err, &inactive) {
		t.Fatalf("refusal must pass through unchanged, got %v", err)
	}
	if inactive.Refusal.Detail.Status != "SUSPENDED" {
		t.Errorf("refusal detail = %+v", inactive.Refusal.Detail)
	}
	if n := atomic.LoadInt32(&d.calls); n != 0 {
		t.Errorf("refused caller must cause zero datastore calls, got %d", n)
	}
}

func TestAssemble_GateInfraFailure(t *testing.T) {
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{tenant: acmeTenant()},
		&fakeAccess{err: models.ErrDatastoreUnavailable}, d)

	_, err := asm.Assemble(context.Background(), "acme")
	if !errors.Is(err, models.ErrDatastoreUnavailable) {
		t.Fatalf("expected ErrDatastoreUnavailable, got %v", err)
	}
	if n := atomic.LoadInt32(&d.calls); n != 0 {
		t.Errorf("failed gate must not reach the pool, got %d calls", n)
	}
}

func TestAssemble_PoolFailure(t *testing.T) {
	d := &fakeDatastores{err: models.ErrDatastoreUnavailable}
	asm := newAssembler(&fakeTenants{tenant: acmeTenant()}, &fakeAccess{}, d)

	_, err := asm.Assemble(context.Background(), "acme")
	if !errors.Is(err, models.ErrDatastoreUnavailable) {
		t.Fatalf("expected ErrDatastoreUnavailable, got %v", err)
	}
}

func TestAssembleByID(t *testing.T) {
	d := &fakeDatastores{}
	asm := newAssembler(&fakeTenants{tenant: acmeTenant()}, &fakeAccess{}, d)

	tc, err := asm.AssembleByID(context.Background(), "tn_1")
	if err != nil {
		t.Fatalf("AssembleByID: %v", err)
	}
	if tc.Tenant.Slug != "acme" {
		t.Errorf("tenant = %+v", tc.Tenant)
	}
}

func TestContextRoundTrip(t *testing.T) {
	tc := &TenantContext{Tenant: acmeTenant()}
	ctx := ContextWith(context.Background(), tc)

	got, ok := FromContext(ctx)
	if !ok || got != tc {
		t.Fatal("TenantContext did not round-trip through the context")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context must not yield a TenantContext")
	}
}
