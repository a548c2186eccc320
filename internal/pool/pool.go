// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package pool deduplicates datastore clients across tenants.
//
// Clients are keyed by connection string, not by tenant: N tenants hosted
// on one cluster share one client, which matches the actual socket
// topology. The pool is a bounded LRU; evicting an entry closes its client
// once all outstanding operations complete, and concurrent requests for an
// evicted key are coalesced into a single reopen.
//
// This implementation uses a doubly-linked list for ordering and a hashmap
// for lookups, giving O(1) get, insert, and eviction.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/shopkeeper/internal/metrics"
	"github.com/tomtom215/shopkeeper/internal/models"
)

// DefaultCapacity bounds the LRU when no capacity is configured.
const DefaultCapacity = 256

// Opener opens a datastore client for a connection string. The default
// opener builds a lazy pgx pool: no connection is established until the
// first query, so acquiring a handle for a caller that is later denied
// never touches the tenant cluster.
type Opener func(ctx context.Context, connString string) (*pgxpool.Pool, error)

// DefaultOpener parses the connection string and constructs a pool without
// eagerly connecting.
func DefaultOpener(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return p, nil
}

// entry is a node in the LRU's doubly-linked list.
type entry struct {
	key    string
	client *pgxpool.Pool
	prev   *entry
	next   *entry
}

// Pool is a bounded, deduplicating LRU of datastore clients.
type Pool struct {
	capacity int
	open     Opener
	flight   singleflight.Group
	logger   zerolog.Logger

	mu    sync.Mutex
	items map[string]*entry
	// head.next is most recently used, tail.prev least recently used
	head *entry
	tail *entry
}

// New creates a Pool with the given capacity. A nil opener uses
// DefaultOpener.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(capacity int, opener Opener, logger zerolog.Logger) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if opener == nil {
		opener = DefaultOpener
	}
	p := &Pool{
		capacity: capacity,
		open:     opener,
		logger:   logger.With().Str("component", "pool").Logger(),
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
	}
	p.head.next = p.tail
	p.tail.prev = p.head
	return p
}

// ClientFor returns the client for a connection string, opening one on
// first use. Repeated calls within capacity return the same handle.
func (p *Pool) ClientFor(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	p.mu.Lock()
	if e, ok := p.items[connString]; ok {
		p.moveToFront(e)
		p.mu.Unlock()
		return e.client, nil
	}
	p.mu.Unlock()

	// Single-flight per key: under contention only one open happens, even
	// immediately after an eviction.
	v, err, _ := p.flight.Do(connString, func() (interface{}, error) {
		p.mu.Lock()
		if e, ok := p.items[connString]; ok {
			p.moveToFront(e)
			p.mu.Unlock()
			return e.client, nil
		}
		p.mu.Unlock()

		client, err := p.open(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDatastoreUnavailable, err)
		}
		metrics.PoolOpens.Inc()

		p.mu.Lock()
		e := &entry{key: connString, client: client}
		p.addToFront(e)
		p.items[connString] = e
		metrics.PoolClients.Set(float64(len(p.items)))
		var evicted *pgxpool.Pool
		if len(p.items) > p.capacity {
			evicted = p.evictOldest()
		}
		p.mu.Unlock()

		if evicted != nil {
			// Close blocks until outstanding operations release their
			// connections, so it must not run under the mutex.
			go evicted.Close()
		}
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

// Handle pairs a shared client with the schema that isolates one tenant's
// tables on the cluster.
type Handle struct {
	Client *pgxpool.Pool
	Schema string
}

// Table returns the schema-qualified, quoted name of a tenant table. With
// no schema, the default embedded in the connection string applies.
func (h *Handle) Table(name string) string {
	if h.Schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{h.Schema, name}.Sanitize()
}

// Datastore returns a handle on the named datastore. A null datastore name
// falls back to the default embedded in the connection string.
func (p *Pool) Datastore(ctx context.Context, connString, datastoreName string) (*Handle, error) {
	client, err := p.ClientFor(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &Handle{Client: client, Schema: datastoreName}, nil
}

// Invalidate evicts one connection string, closing its client in the
// background. A concurrent ClientFor re-opens.
func (p *Pool) Invalidate(connString string) {
	p.mu.Lock()
	e, ok := p.items[connString]
	if ok {
		p.removeEntry(e)
		metrics.PoolClients.Set(float64(len(p.items)))
	}
	p.mu.Unlock()
	if ok {
		metrics.PoolEvictions.Inc()
		go e.client.Close()
	}
}

// Len reports the number of open clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// CloseAll closes every client. Part of the shutdown hook; blocks until
// outstanding operations complete.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := make([]*pgxpool.Pool, 0, len(p.items))
	for _, e := range p.items {
		clients = append(clients, e.client)
	}
	p.items = make(map[string]*entry)
	p.head.next = p.tail
	p.tail.prev = p.head
	metrics.PoolClients.Set(0)
	p.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	p.logger.Info().Int("clients", len(clients)).Msg("Closed all datastore clients")
}

// Internal list operations (must be called with mu held)

func (p *Pool) addToFront(e *entry) {
	e.prev = p.head
	e.next = p.head.next
	p.head.next.prev = e
	p.head.next = e
}

func (p *Pool) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	p.addToFront(e)
}

func (p *Pool) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(p.items, e.key)
}

// evictOldest removes the least recently used entry and returns its client
// for the caller to close outside the lock.
func (p *Pool) evictOldest() *pgxpool.Pool {
	oldest := p.tail.prev
	if oldest == p.head {
		return nil
	}
	p.removeEntry(oldest)
	metrics.PoolEvictions.Inc()
	metrics.PoolClients.Set(float64(len(p.items)))
	p.logger.Debug().Msg("Evicted least recently used datastore client")
	return oldest.client
}
