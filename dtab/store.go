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

package dtab

import (
	"context"
	"sync/atomic"
)

// Store holds a process-wide base table behind an atomic pointer. Each
// call reads a consistent snapshot; replacing the base only affects
// calls that start after the replacement.
type Store struct {
	base atomic.Pointer[Dtab]
}

// NewStore returns a store initialized with the given base table.
func NewStore(base Dtab) *Store {
	s := &Store{}
	s.base.Store(&base)
	return s
}

// Base returns the current base table snapshot.
func (s *Store) Base() Dtab {
	return *s.base.Load()
}

// SetBase atomically replaces the base table.
func (s *Store) SetBase(base Dtab) {
	s.base.Store(&base)
}

type localKey struct{}

// WithLocal returns a context carrying the per-call local table. The
// local table composes ahead of the base table for calls made with the
// returned context.
func WithLocal(ctx context.Context, local Dtab) context.Context {
	return context.WithValue(ctx, localKey{}, local)
}

// Local returns the per-call local table carried by ctx, or an empty
// table if none was set.
func Local(ctx context.Context) Dtab {
	if local, ok := ctx.Value(localKey{}).(Dtab); ok {
		return local
	}
	return nil
}
