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

// Package binder turns a logical path into services on live endpoints.
// A Binder composes the per-call rewrite table, caches resolutions and
// per-destination factories under bounded memory, defers calls behind
// pending resolutions, fans dispatches out across weighted alternatives,
// and shields every destination behind a failure-accrual breaker.
package binder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/routebind/routebind/breaker"
	"github.com/routebind/routebind/dtab"
	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/selector"
	"github.com/routebind/routebind/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder receives the binder's ordered diagnostic annotations. The
// key strings and their order are stable; downstream tooling matches on
// them.
type Recorder interface {
	Record(key, value string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, string) {}

// Binder resolves one logical path against a resolver and a rewrite
// table. It is shared by many concurrent callers; every Resolve composes
// the caller's local table with the base table snapshot current at that
// moment, so base-table changes affect subsequent calls only.
type Binder struct {
	path       name.Path
	namer      Namer
	newFactory func(name.Bound) service.Factory

	base           *dtab.Store
	recorder       Recorder
	rnd            selector.Rand
	logger         *slog.Logger
	meter          metric.Meter
	breakerOpts    []breaker.Option
	namerCacheSize int
	nameCacheSize  int

	resolutions *factoryCache[string]
	factories   *factoryCache[string]
	sel         *selector.Selector
}

// Option configures a Binder.
type Option interface {
	apply(*Binder)
}

type option func(*Binder)

func (o option) apply(b *Binder) { o(b) }

// WithBaseStore sets the store holding the process-wide base table. By
// default the binder has its own store with an empty base.
func WithBaseStore(store *dtab.Store) Option {
	return option(func(b *Binder) { b.base = store })
}

// WithNamerCacheSize bounds the resolution cache (one entry per distinct
// effective rule set). The default is 100.
func WithNamerCacheSize(n int) Option {
	return option(func(b *Binder) { b.namerCacheSize = n })
}

// WithNameCacheSize bounds the per-destination factory cache. The
// default is 256.
func WithNameCacheSize(n int) Option {
	return option(func(b *Binder) { b.nameCacheSize = n })
}

// WithRecorder sets the diagnostic annotation sink.
func WithRecorder(recorder Recorder) Option {
	return option(func(b *Binder) { b.recorder = recorder })
}

// WithRand sets the random source for weighted draws. The source must be
// safe for concurrent use.
func WithRand(rnd selector.Rand) Option {
	return option(func(b *Binder) { b.rnd = rnd })
}

// WithMeter sets the meter recording cache occupancy and breaker
// counters. The default is the globally registered provider.
func WithMeter(meter metric.Meter) Option {
	return option(func(b *Binder) { b.meter = meter })
}

// WithLogger sets the logger handed to per-destination breakers.
func WithLogger(logger *slog.Logger) Option {
	return option(func(b *Binder) { b.logger = logger })
}

// WithBreakerOptions configures the failure-accrual breaker wrapped
// around every destination factory, e.g. breaker.WithFailureThreshold
// and breaker.WithMarkDeadFor.
func WithBreakerOptions(opts ...breaker.Option) Option {
	return option(func(b *Binder) { b.breakerOpts = append(b.breakerOpts, opts...) })
}

// New returns a binder for the given path. newFactory builds the
// underlying factory for each destination the path resolves to; it must
// not block (the factories it returns may).
func New(path name.Path, namer Namer, newFactory func(name.Bound) service.Factory, opts ...Option) *Binder {
	b := &Binder{
		path:           path,
		namer:          namer,
		newFactory:     newFactory,
		namerCacheSize: 100,
		nameCacheSize:  256,
	}
	for _, opt := range opts {
		opt.apply(b)
	}
	if b.base == nil {
		b.base = dtab.NewStore(nil)
	}
	if b.recorder == nil {
		b.recorder = nopRecorder{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.meter == nil {
		b.meter = otel.Meter("routebind.binder")
	}
	occupancy, _ := b.meter.Int64UpDownCounter("binder.cache.entries",
		metric.WithDescription("Entries currently held by the binder caches"),
		metric.WithUnit("{entry}"))
	b.resolutions = newFactoryCache[string](b.namerCacheSize, occupancy,
		metric.WithAttributes(attribute.String("cache", "resolution")))
	b.factories = newFactoryCache[string](b.nameCacheSize, occupancy,
		metric.WithAttributes(attribute.String("cache", "name")))
	var selOpts []selector.Option
	if b.rnd != nil {
		selOpts = append(selOpts, selector.WithRand(b.rnd))
	}
	b.sel = selector.New(cachedSource{b}, selOpts...)
	return b
}

// Resolve acquires a service for one caller session. The effective rule
// set is the caller's local table (dtab.WithLocal) ahead of the current
// base table; identical rule sets share one cached resolution and one
// factory per destination. Closing the returned service releases
// exactly the cache leases this call acquired.
func (b *Binder) Resolve(ctx context.Context) (service.Service, error) {
	base := b.base.Base()
	local := dtab.Local(ctx)
	b.recorder.Record("namer.path", b.path.String())
	b.recorder.Record("namer.dtab.base", base.String())
	effective := dtab.Concat(local, base)
	svc, err := b.resolutions.Apply(ctx, effective.String(), func() service.Factory {
		return b.newResolution(effective)
	})
	if err != nil {
		var naming *NamingError
		if errors.As(err, &naming) {
			b.recorder.Record("namer.failure", fmt.Sprintf("%T", naming.Cause))
		}
		return nil, err
	}
	return svc, nil
}

// Status reports the binder's availability for the rule set carried by
// ctx, without acquiring anything.
func (b *Binder) Status(ctx context.Context) service.Status {
	effective := dtab.Concat(dtab.Local(ctx), b.base.Base())
	return b.resolutions.Status(effective.String())
}

// Close tears down both caches. Resolutions close their reactive
// subscriptions; destination factories (and their breakers) are closed
// even if still leased.
func (b *Binder) Close() error {
	err := b.resolutions.Close()
	if ferr := b.factories.Close(); err == nil {
		err = ferr
	}
	return err
}

func (b *Binder) newResolution(effective dtab.Dtab) service.Factory {
	cell, closer := bind(b.namer, effective, b.path)
	return newPendingFactory(cell, closer, b.dispatchTree, b.sel.Status)
}

// dispatchTree runs once per call, after the resolution is available:
// it draws a destination and acquires a service from its cached,
// breaker-wrapped factory. Draws are never memoized.
func (b *Binder) dispatchTree(ctx context.Context, tree boundTree) (service.Service, error) {
	dest, err := b.sel.Pick(tree)
	if err != nil {
		b.recorder.Record("namer.tree", "~")
		return nil, &NoBrokersError{Path: b.path, Local: dtab.Local(ctx)}
	}
	b.recorder.Record("namer.tree", tree.String())
	b.recorder.Record("namer.name", dest.String())
	return cachedSource{b}.Apply(ctx, dest)
}

// cachedSource adapts the bounded per-destination cache to the
// selector's Source. The selector's own contract (create once, share,
// never self-evict) is provided by the cache; eviction policy lives
// here, not in the selector.
type cachedSource struct {
	b *Binder
}

func (s cachedSource) Apply(ctx context.Context, dest name.Bound) (service.Service, error) {
	return s.b.factories.Apply(ctx, dest.ID, func() service.Factory {
		return s.b.buildFactory(dest)
	})
}

func (s cachedSource) Status(dest name.Bound) service.Status {
	return s.b.factories.Status(dest.ID)
}

func (b *Binder) buildFactory(dest name.Bound) service.Factory {
	opts := []breaker.Option{
		breaker.WithLabel(dest.String()),
		breaker.WithLogger(b.logger),
		breaker.WithMeter(b.meter),
	}
	opts = append(opts, b.breakerOpts...)
	return breaker.Wrap(b.newFactory(dest), opts...)
}
