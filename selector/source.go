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

package selector

import (
	"context"
	"sync"

	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/service"
	"golang.org/x/sync/errgroup"
)

// Source supplies the per-destination factory behind each leaf of a
// tree. Implementations must be safe for concurrent use.
type Source interface {
	// Apply acquires a service from the destination's factory.
	Apply(ctx context.Context, dest name.Bound) (service.Service, error)
	// Status reports the destination factory's availability.
	Status(dest name.Bound) service.Status
}

// CachingSource is a Source that creates each destination's factory at
// most once, on first use, and shares it across all callers. It never
// evicts; owners that need bounded, evicting storage layer that on top.
// Close closes every factory this source created, each exactly once.
type CachingSource struct {
	newFactory func(name.Bound) service.Factory

	mu        sync.Mutex
	factories map[string]service.Factory
	closed    bool
}

// NewCachingSource returns a CachingSource backed by newFactory.
// newFactory must not block; services it produces may.
func NewCachingSource(newFactory func(name.Bound) service.Factory) *CachingSource {
	return &CachingSource{
		newFactory: newFactory,
		factories:  map[string]service.Factory{},
	}
}

func (s *CachingSource) Apply(ctx context.Context, dest name.Bound) (service.Service, error) {
	factory, err := s.factory(dest)
	if err != nil {
		return nil, err
	}
	return factory.New(ctx)
}

func (s *CachingSource) Status(dest name.Bound) service.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return service.Closed
	}
	if factory, ok := s.factories[dest.ID]; ok {
		return factory.Status()
	}
	// Not created yet; it would be created on first dispatch.
	return service.Open
}

func (s *CachingSource) factory(dest name.Bound) (service.Factory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, service.ErrClosed
	}
	if factory, ok := s.factories[dest.ID]; ok {
		return factory, nil
	}
	factory := s.newFactory(dest)
	s.factories[dest.ID] = factory
	return factory, nil
}

// Close closes all created factories concurrently and returns the first
// error encountered. It is idempotent.
func (s *CachingSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	factories := s.factories
	s.factories = nil
	s.mu.Unlock()

	grp := errgroup.Group{}
	for _, factory := range factories {
		grp.Go(factory.Close)
	}
	return grp.Wait()
}
