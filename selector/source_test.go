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
	"testing"

	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFactory struct {
	mu     sync.Mutex
	news   int
	closes int
	status service.Status
}

func (f *countingFactory) New(context.Context) (service.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.news++
	return service.Func(func(_ context.Context, req any) (any, error) {
		return req, nil
	}), nil
}

func (f *countingFactory) Status() service.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *countingFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func TestCachingSourceCreatesOnce(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	created := map[string]*countingFactory{}
	src := NewCachingSource(func(dest name.Bound) service.Factory {
		mu.Lock()
		defer mu.Unlock()
		factory := &countingFactory{}
		created[dest.ID] = factory
		return factory
	})
	defer src.Close()

	for range 3 {
		svc, err := src.Apply(context.Background(), name.Bound{ID: "a"})
		require.NoError(t, err)
		require.NoError(t, svc.Close())
	}
	_, err := src.Apply(context.Background(), name.Bound{ID: "b"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, created, 2)
	assert.Equal(t, 3, created["a"].news)
	assert.Equal(t, 1, created["b"].news)
}

func TestCachingSourceStatus(t *testing.T) {
	t.Parallel()

	factory := &countingFactory{status: service.Busy}
	src := NewCachingSource(func(name.Bound) service.Factory { return factory })
	defer src.Close()

	// Unknown destinations would be created on first dispatch.
	assert.Equal(t, service.Open, src.Status(name.Bound{ID: "a"}))

	_, err := src.Apply(context.Background(), name.Bound{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, service.Busy, src.Status(name.Bound{ID: "a"}))
}

func TestCachingSourceCloseOnce(t *testing.T) {
	t.Parallel()

	var factories []*countingFactory
	src := NewCachingSource(func(name.Bound) service.Factory {
		factory := &countingFactory{}
		factories = append(factories, factory)
		return factory
	})

	_, err := src.Apply(context.Background(), name.Bound{ID: "a"})
	require.NoError(t, err)
	_, err = src.Apply(context.Background(), name.Bound{ID: "b"})
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent
	for _, factory := range factories {
		assert.Equal(t, 1, factory.closes)
	}

	_, err = src.Apply(context.Background(), name.Bound{ID: "a"})
	assert.ErrorIs(t, err, service.ErrClosed)
	assert.Equal(t, service.Closed, src.Status(name.Bound{ID: "a"}))
}
