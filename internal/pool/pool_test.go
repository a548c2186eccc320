// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/shopkeeper/internal/logging"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// lazyOpener opens real (but never-connected) pgx pools and counts opens.
// pgxpool does not dial until the first acquire, so these are safe to
// create and close in tests.
type lazyOpener struct {
	opens int32
	block chan struct{}
	fail  bool
}

func (o *lazyOpener) open(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	atomic.AddInt32(&o.opens, 1)
	if o.block != nil {
		<-o.block
	}
	if o.fail {
		return nil, errors.New("dial failed")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func newTestPool(capacity int, o *lazyOpener) *Pool {
	return New(capacity, o.open, logging.NewTestLogger(io.Discard))
}

func connString(i int) string {
	return fmt.Sprintf("postgres://app@cluster-%d.db.internal:5432/shopkeeper", i)
}

func TestPool_SharedConnectionStringSharesClient(t *testing.T) {
	o := &lazyOpener{}
	p := newTestPool(256, o)
	defer p.CloseAll()

	// 300 tenants on one cluster: exactly one client.
	first, err := p.ClientFor(context.Background(), connString(0))
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	for i := 0; i < 299; i++ {
		c, err := p.ClientFor(context.Background(), connString(0))
		if err != nil {
			t.Fatalf("ClientFor: %v", err)
		}
		if c != first {
			t.Fatal("expected the same client for a shared connection string")
		}
	}

	if n := atomic.LoadInt32(&o.opens); n != 1 {
		t.Errorf("expected 1 open, got %d", n)
	}
	if p.Len() != 1 {
		t.Errorf("expected 1 pooled client, got %d", p.Len())
	}
}

func TestPool_EvictionAtCapacity(t *testing.T) {
	o := &lazyOpener{}
	p := newTestPool(2, o)
	defer p.CloseAll()

	for i := 0; i < 3; i++ {
		if _, err := p.ClientFor(context.Background(), connString(i)); err != nil {
			t.Fatalf("ClientFor(%d): %v", i, err)
		}
	}

	if p.Len() != 2 {
		t.Fatalf("expected capacity 2 to hold, got %d", p.Len())
	}

	// Key 0 was least recently used and must have been evicted; asking for
	// it again re-opens.
	if _, err := p.ClientFor(context.Background(), connString(0)); err != nil {
		t.Fatalf("ClientFor after eviction: %v", err)
	}
	if n := atomic.LoadInt32(&o.opens); n != 4 {
		t.Errorf("expected 4 opens (3 + reopen), got %d", n)
	}
}

func TestPool_LRUOrderRespectsAccess(t *testing.T) {
	o := &lazyOpener{}
	p := newTestPool(2, o)
	defer p.CloseAll()

	a, _ := p.ClientFor(context.Background(), connString(0))
	if _, err := p.ClientFor(context.Background(), connString(1)); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}

	// Touch 0 so 1 becomes the eviction candidate.
	if _, err := p.ClientFor(context.Background(), connString(0)); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if _, err := p.ClientFor(context.Background(), connString(2)); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}

	got, err := p.ClientFor(context.Background(), connString(0))
	if err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	if got != a {
		t.Error("recently used client should have survived eviction")
	}
	if n := atomic.LoadInt32(&o.opens); n != 3 {
		t.Errorf("expected 3 opens, got %d", n)
	}
}

func TestPool_ConcurrentOpensCoalesce(t *testing.T) {
	o := &lazyOpener{block: make(chan struct{})}
	p := newTestPool(256, o)
	defer p.CloseAll()

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := p.ClientFor(context.Background(), connString(0)); err != nil {
				t.Errorf("ClientFor: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(o.block)
	wg.Wait()

	if n := atomic.LoadInt32(&o.opens); n != 1 {
		t.Errorf("expected single-flight to coalesce opens, got %d", n)
	}
}

func TestPool_OpenFailure(t *testing.T) {
	o := &lazyOpener{fail: true}
	p := newTestPool(256, o)

	_, err := p.ClientFor(context.Background(), connString(0))
	if !errors.Is(err, models.ErrDatastoreUnavailable) {
		t.Fatalf("expected ErrDatastoreUnavailable, got %v", err)
	}
	if p.Len() != 0 {
		t.Errorf("failed open must not leave a pool entry, got %d", p.Len())
	}
}

func TestPool_Invalidate(t *testing.T) {
	o := &lazyOpener{}
	p := newTestPool(256, o)
	defer p.CloseAll()

	if _, err := p.ClientFor(context.Background(), connString(0)); err != nil {
		t.Fatalf("ClientFor: %v", err)
	}
	p.Invalidate(connString(0))
	if p.Len() != 0 {
		t.Fatalf("expected empty pool after invalidate, got %d", p.Len())
	}

	if _, err := p.ClientFor(context.Background(), connString(0)); err != nil {
		t.Fatalf("ClientFor after invalidate: %v", err)
	}
	if n := atomic.LoadInt32(&o.opens); n != 2 {
		t.Errorf("expected reopen after invalidate, got %d opens", n)
	}
}

func TestHandle_Table(t *testing.T) {
	h := &Handle{Schema: "tn_8842"}
	if got := h.Table("warranties"); got != `"tn_8842"."warranties"` {
		t.Errorf("qualified table = %q", got)
	}

	// No datastore name: fall back to the default from the connection
	// string's search path.
	h = &Handle{}
	if got := h.Table("warranties"); got != `"warranties"` {
		t.Errorf("unqualified table = %q", got)
	}
}

func TestPool_DatastoreHandle(t *testing.T) {
	o := &lazyOpener{}
	p := newTestPool(256, o)
	defer p.CloseAll()

	h, err := p.Datastore(context.Background(), connString(0), "tn_1")
	if err != nil {
		t.Fatalf("Datastore: %v", err)
	}
	if h.Schema != "tn_1" || h.Client == nil {
		t.Errorf("unexpected handle %+v", h)
	}

	// Same cluster, different schema: same underlying client.
	h2, err := p.Datastore(context.Background(), connString(0), "tn_2")
	if err != nil {
		t.Fatalf("Datastore: %v", err)
	}
	if h2.Client != h.Client {
		t.Error("handles on one cluster must share the client")
	}
}
