// Copyright 2025 The Routebind Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package binder

import (
	"context"
	"sync"

	"github.com/routebind/routebind/service"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// factoryCache is a bounded, reference-counted factory cache. Each entry
// holds one shared factory; callers acquire a lease per service and
// release it exactly once when that service closes. An entry is
// evictable only at zero leases, and eviction picks the least recently
// touched such entry. When the cache is full and nothing is evictable,
// acquisitions bypass the cache: a private one-shot factory is built and
// destroyed together with that one caller's service.
//
// The lock guards insert/evict/lease bookkeeping only. Factory makers
// run under the lock and must not block; the factories' own New calls
// run outside it and may.
type factoryCache[K comparable] struct {
	capacity  int
	occupancy metric.Int64UpDownCounter
	attrs     metric.MeasurementOption

	mu      sync.Mutex
	entries map[K]*cacheEntry
	stamp   uint64
	closed  bool
}

type cacheEntry struct {
	factory service.Factory
	leases  int
	touched uint64
}

func newFactoryCache[K comparable](capacity int, occupancy metric.Int64UpDownCounter, attrs metric.MeasurementOption) *factoryCache[K] {
	return &factoryCache[K]{
		capacity:  capacity,
		occupancy: occupancy,
		attrs:     attrs,
		entries:   map[K]*cacheEntry{},
	}
}

// Apply acquires a service for key, creating the shared factory via mk
// on first use. Identical keys share one factory; its construction
// happens at most once.
func (c *factoryCache[K]) Apply(ctx context.Context, key K, mk func() service.Factory) (service.Service, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, service.ErrClosed
	}
	if entry, ok := c.entries[key]; ok {
		entry.leases++
		entry.touched = c.nextStampLocked()
		c.mu.Unlock()
		return c.acquire(ctx, entry)
	}
	var victim service.Factory
	if len(c.entries) >= c.capacity {
		victimKey, ok := c.victimLocked()
		if !ok {
			// Full and every entry is leased: one-shot path.
			c.mu.Unlock()
			return oneShot(ctx, mk)
		}
		victim = c.entries[victimKey].factory
		delete(c.entries, victimKey)
		c.addOccupancy(-1)
	}
	entry := &cacheEntry{factory: mk(), leases: 1, touched: c.nextStampLocked()}
	c.entries[key] = entry
	c.addOccupancy(1)
	c.mu.Unlock()
	if victim != nil {
		// The evicted entry had no leases, so nothing is in flight on
		// it; destroy it immediately.
		_ = victim.Close()
	}
	return c.acquire(ctx, entry)
}

// Status reports the cached factory's status, Open for keys that would
// be created on demand.
func (c *factoryCache[K]) Status(key K) service.Status {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return service.Closed
	}
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return service.Open
	}
	return entry.factory.Status()
}

// Close tears down the cache, destroying every cached factory including
// those still leased. In-flight services observe their factory closing;
// new acquisitions fail with ErrClosed.
func (c *factoryCache[K]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = nil
	c.mu.Unlock()

	grp := errgroup.Group{}
	for _, entry := range entries {
		grp.Go(entry.factory.Close)
	}
	return grp.Wait()
}

// acquire constructs a service on a leased entry; the lease is released
// exactly once, either here on construction failure or when the caller
// closes the returned service.
func (c *factoryCache[K]) acquire(ctx context.Context, entry *cacheEntry) (service.Service, error) {
	svc, err := entry.factory.New(ctx)
	if err != nil {
		c.release(entry)
		return nil, err
	}
	return &leasedService{Service: svc, cache: c, entry: entry}, nil
}

func (c *factoryCache[K]) release(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.leases--
	entry.touched = c.nextStampLocked()
}

// victimLocked returns the least recently touched zero-lease key.
func (c *factoryCache[K]) victimLocked() (K, bool) {
	var victimKey K
	found := false
	var oldest uint64
	for key, entry := range c.entries {
		if entry.leases > 0 {
			continue
		}
		if !found || entry.touched < oldest {
			victimKey, oldest, found = key, entry.touched, true
		}
	}
	return victimKey, found
}

func (c *factoryCache[K]) nextStampLocked() uint64 {
	c.stamp++
	return c.stamp
}

func (c *factoryCache[K]) addOccupancy(delta int64) {
	if c.occupancy != nil {
		c.occupancy.Add(context.Background(), delta, c.attrs)
	}
}

// leasedService pairs a service with the cache lease it holds. Closing
// releases the lease exactly once; the shared factory stays cached for
// reuse until evicted.
type leasedService struct {
	service.Service
	cache   interface{ release(*cacheEntry) }
	entry   *cacheEntry
	once    sync.Once
}

func (s *leasedService) Close() error {
	err := s.Service.Close()
	s.once.Do(func() { s.cache.release(s.entry) })
	return err
}

// oneShot builds a private factory for a single acquisition. The factory
// is destroyed exactly when the resulting service closes, or right away
// if construction fails.
func oneShot(ctx context.Context, mk func() service.Factory) (service.Service, error) {
	factory := mk()
	svc, err := factory.New(ctx)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return &oneShotService{Service: svc, factory: factory}, nil
}

type oneShotService struct {
	service.Service
	factory service.Factory
	once    sync.Once
}

func (s *oneShotService) Close() error {
	err := s.Service.Close()
	s.once.Do(func() { _ = s.factory.Close() })
	return err
}
