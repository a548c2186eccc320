// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/shopkeeper/internal/billing"
	"github.com/tomtom215/shopkeeper/internal/config"
	"github.com/tomtom215/shopkeeper/internal/gate"
	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
	"github.com/tomtom215/shopkeeper/internal/pool"
	"github.com/tomtom215/shopkeeper/internal/registry"
	"github.com/tomtom215/shopkeeper/internal/tenantctx"
	"github.com/tomtom215/shopkeeper/internal/token"
	"github.com/tomtom215/shopkeeper/internal/warranty"
)

var (
	testJWTSecret   = []byte("test-jwt-secret-0123456789abcdef!!")
	testTokenSecret = []byte("test-token-secret-0123456789abcd")
)

// stubStore is an in-memory billing.Store shared by the gate and the
// billing service in router tests.
type stubStore struct {
	mu     sync.Mutex
	subs   map[string]*models.Subscription // by subscription id
	events []models.BillingEvent
	plans  map[string]*models.Plan
}

func newStubStore() *stubStore {
	return &stubStore{
		subs:  make(map[string]*models.Subscription),
		plans: make(map[string]*models.Plan),
	}
}

func (s *stubStore) GetSubscription(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *stubStore) GetSubscriptionByTenant(_ context.Context, tenantID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.TenantID == tenantID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *stubStore) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.SubscriptionID] = &cp
	return nil
}

func (s *stubStore) CompareAndSwapStatus(_ context.Context, sub *models.Subscription, from models.SubscriptionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.subs[sub.SubscriptionID]
	if !ok {
		return false, models.ErrNotFound
	}
	if stored.Status != from {
		return false, nil
	}
	cp := *sub
	s.subs[sub.SubscriptionID] = &cp
	return true, nil
}

func (s *stubStore) AppendBillingEvent(_ context.Context, event *models.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *stubStore) ListBillingEvents(_ context.Context, id string) ([]models.BillingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BillingEvent
	for _, e := range s.events {
		if e.SubscriptionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubStore) ListSweepable(_ context.Context) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubStore) InsertPayment(_ context.Context, _ *models.PaymentRecord) error { return nil }

func (s *stubStore) GetPlan(_ context.Context, planID string) (*models.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *plan
	return &cp, nil
}

// stubAdminSource backs the registry.
type stubAdminSource struct {
	tenants map[string]*models.Tenant // by slug
}

func (s *stubAdminSource) GetActiveTenantBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	if t, ok := s.tenants[slug]; ok && t.Status == models.TenantActive {
		return t, nil
	}
	return nil, models.ErrNotFound
}

func (s *stubAdminSource) GetActiveTenantByID(_ context.Context, id string) (*models.Tenant, error) {
	for _, t := range s.tenants {
		if t.TenantID == id && t.Status == models.TenantActive {
			return t, nil
		}
	}
	return nil, models.ErrNotFound
}

// stubTenantAdmin records control-plane writes.
type stubTenantAdmin struct {
	created  []*models.Tenant
	statuses map[string]models.TenantStatus
	plans    map[string]*models.Plan
}

func (s *stubTenantAdmin) CreateTenant(_ context.Context, t *models.Tenant) error {
	s.created = append(s.created, t)
	return nil
}

func (s *stubTenantAdmin) SetTenantStatus(_ context.Context, slug string, status models.TenantStatus) error {
	if s.statuses == nil {
		s.statuses = make(map[string]models.TenantStatus)
	}
	s.statuses[slug] = status
	return nil
}

func (s *stubTenantAdmin) UpsertPlan(_ context.Context, p *models.Plan) error {
	if s.plans == nil {
		s.plans = make(map[string]*models.Plan)
	}
	s.plans[p.PlanID] = p
	return nil
}

type routerFixture struct {
	handler http.Handler
	store   *stubStore
	admin   *stubTenantAdmin
	codec   *token.Codec
	rows    map[string]*warranty.Warranty
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := logging.NewTestLogger(io.Discard)

	store := newStubStore()
	store.plans["plan_basic"] = &models.Plan{
		PlanID: "plan_basic", Name: "Basic Monthly", Tier: models.TierBasic,
		Price: 2900, Currency: "USD", Cycle: models.CycleMonthly, IsActive: true,
	}

	src := &stubAdminSource{tenants: map[string]*models.Tenant{
		"acme": {
			Slug: "acme", TenantID: "tn_1", Name: "Acme Fitness",
			ConnectionString: "postgres://app@cluster-1.db.internal:5432/shopkeeper",
			DatastoreName:    "tn_1", Status: models.TenantActive,
		},
	}}
	reg := registry.New(src, logger)
	g := gate.New(store, logger)
	p := pool.New(8, nil, logger)
	t.Cleanup(p.CloseAll)
	asm := tenantctx.New(reg, g, p, "postgres://app@default.db.internal:5432/shopkeeper", logger)

	codec, err := token.NewCodec(testTokenSecret)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	fx := &routerFixture{store: store, codec: codec, rows: make(map[string]*warranty.Warranty)}
	fetch := func(_ context.Context, _ *pool.Handle, guid string) (*warranty.Warranty, error) {
		if w, ok := fx.rows[guid]; ok {
			return w, nil
		}
		return nil, models.ErrNotFound
	}
	resolver := warranty.NewResolver(codec, reg, p, fetch, logger)

	machine := billing.NewMachine(store, nil, logger)
	svc := billing.NewService(store, machine, nil, logger)

	fx.admin = &stubTenantAdmin{}
	router := NewRouter(Deps{
		Assembler:   asm,
		Resolver:    resolver,
		Registry:    reg,
		Billing:     svc,
		Machine:     machine,
		Store:       store,
		TenantAdmin: fx.admin,
		JWTSecret:   testJWTSecret,
		Server:      config.ServerConfig{Port: 8380},
		Version:     "test",
	}, logger)
	fx.handler = router.Setup()
	return fx
}

func (fx *routerFixture) seedSubscription(status models.SubscriptionStatus) {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	fx.store.subs["sub_1"] = &models.Subscription{
		SubscriptionID: "sub_1",
		TenantID:       "tn_1",
		PlanID:         "plan_basic",
		PlanSnapshot:   *fx.store.plans["plan_basic"],
		Status:         status,
		ExpiresOn:      &end,
	}
}

func mintJWT(t *testing.T, role, tenantSlug string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantSlug: tenantSlug,
		Role:       role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testJWTSecret)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}

func doRequest(fx *routerFixture, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		//nolint:errcheck // test encoding of known-good values
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthLive(t *testing.T) {
	fx := newRouterFixture(t)
	rec := doRequest(fx, http.MethodGet, "/api/v1/health/live", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouter_ProductsRequiresAuth(t *testing.T) {
	fx := newRouterFixture(t)
	rec := doRequest(fx, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRouter_SuspendedTenantGets402Verbatim(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seedSubscription(models.SubscriptionSuspended)

	rec := doRequest(fx, http.MethodGet, "/api/v1/products", mintJWT(t, "member", "acme"), nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	// The refusal payload is the body, not wrapped in the envelope.
	var refusal models.Refusal
	if err := json.Unmarshal(rec.Body.Bytes(), &refusal); err != nil {
		t.Fatalf("unmarshal refusal: %v", err)
	}
	if refusal.StatusCode != 402 || refusal.Detail.Status != "SUSPENDED" {
		t.Errorf("refusal = %+v", refusal)
	}
	if refusal.Detail.Plan != "Basic Monthly" {
		t.Errorf("plan = %q", refusal.Detail.Plan)
	}
}

func TestRouter_UnknownTenantGets403(t *testing.T) {
	fx := newRouterFixture(t)

	rec := doRequest(fx, http.MethodGet, "/api/v1/products", mintJWT(t, "member", "ghost"), nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != models.CodeTenantNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRouter_WarrantyResolve(t *testing.T) {
	fx := newRouterFixture(t)

	tok, err := fx.codec.Encode(models.WarrantyPayload{
		GUID: "guid-1", TenantID: "tn_1", WarrantyID: "w_100", IssuedAt: 1740787200,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fx.rows["guid-1"] = &warranty.Warranty{
		WarrantyID: "w_100", GUID: "guid-1",
		CustomerName: "Dana Okafor", ProductName: "Espresso Machine X9",
		PurchaseDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Status:       "active", Token: tok,
	}

	rec := doRequest(fx, http.MethodGet, "/w/"+tok, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data warranty.Warranty `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.ProductName != "Espresso Machine X9" {
		t.Errorf("data = %+v", resp.Data)
	}
}

func TestRouter_WarrantyResolveForgery(t *testing.T) {
	fx := newRouterFixture(t)

	rec := doRequest(fx, http.MethodGet, "/w/not-a-real-token", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != models.CodeInvalidToken {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRouter_AdminRequiresAdminRole(t *testing.T) {
	fx := newRouterFixture(t)

	rec := doRequest(fx, http.MethodPost, "/api/v1/admin/subscriptions",
		mintJWT(t, "member", ""), map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestRouter_AdminCreateSubscription(t *testing.T) {
	fx := newRouterFixture(t)

	rec := doRequest(fx, http.MethodPost, "/api/v1/admin/subscriptions",
		mintJWT(t, "admin", ""), map[string]interface{}{
			"tenant_id":  "tn_1",
			"plan_id":    "plan_basic",
			"trial_days": 14,
		})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data models.Subscription `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.Status != models.SubscriptionTrial {
		t.Errorf("status = %s, want trial", resp.Data.Status)
	}
}

func TestRouter_AdminIllegalTransitionGets409(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seedSubscription(models.SubscriptionCancelled)

	rec := doRequest(fx, http.MethodPost, "/api/v1/admin/subscriptions/sub_1/transition",
		mintJWT(t, "admin", ""), map[string]string{
			"new_status": "active",
			"reason":     "reactivate",
		})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body %s", rec.Code, rec.Body.String())
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != models.CodeInvalidTransition {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRouter_AdminRecordPaymentPromotes(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seedSubscription(models.SubscriptionSuspended)

	rec := doRequest(fx, http.MethodPost, "/api/v1/admin/subscriptions/sub_1/payments",
		mintJWT(t, "admin", ""), map[string]interface{}{
			"amount":       2900,
			"currency":     "USD",
			"method":       "bank_transfer",
			"period_start": "2025-04-01T00:00:00Z",
			"period_end":   "2025-05-01T00:00:00Z",
		})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data models.Subscription `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Data.Status != models.SubscriptionActive {
		t.Errorf("status = %s, want active", resp.Data.Status)
	}

	// The recorded_by on the emitted event is the admin's subject.
	events, _ := fx.store.ListBillingEvents(context.Background(), "sub_1")
	if len(events) != 1 || events[0].TriggeredBy != "user_7" {
		t.Errorf("events = %+v", events)
	}
}

func TestRouter_AdminSetTenantStatusInvalidatesRegistry(t *testing.T) {
	fx := newRouterFixture(t)
	fx.seedSubscription(models.SubscriptionSuspended)

	// Warm the registry cache, then suspend the tenant.
	warm := doRequest(fx, http.MethodGet, "/api/v1/products", mintJWT(t, "member", "acme"), nil)
	if warm.Code != http.StatusPaymentRequired {
		t.Fatalf("warm lookup: %d, want 402", warm.Code)
	}

	rec := doRequest(fx, http.MethodPut, "/api/v1/admin/tenants/acme/status",
		mintJWT(t, "admin", ""), map[string]string{"status": "suspended"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if fx.admin.statuses["acme"] != models.TenantSuspended {
		t.Errorf("store status = %v", fx.admin.statuses)
	}
}

func TestRouter_AdminCreateTenant(t *testing.T) {
	fx := newRouterFixture(t)

	rec := doRequest(fx, http.MethodPost, "/api/v1/admin/tenants",
		mintJWT(t, "admin", ""), map[string]interface{}{
			"slug":              "bluebird-cafe",
			"name":              "Bluebird Cafe",
			"connection_string": "postgres://app@cluster-2.db.internal:5432/shopkeeper",
			"datastore_name":    "tn_bluebird",
		})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(fx.admin.created) != 1 || fx.admin.created[0].Slug != "bluebird-cafe" {
		t.Errorf("created = %+v", fx.admin.created)
	}
	if fx.admin.created[0].TenantID == "" {
		t.Error("tenant id must be assigned")
	}
}
