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

// Package watch provides a small time-varying value primitive. A Cell
// holds a value that is pending, available, or failed, and supports both
// snapshot reads and subscriptions that replay the current state before
// streaming subsequent updates.
package watch

import (
	"io"
	"sync"
)

// State describes what a Cell currently holds.
type State int

const (
	// Pending means no value has been produced yet.
	Pending State = iota
	// Ok means a value is available.
	Ok
	// Failed means producing a value failed.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ok:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Update is a snapshot of a Cell. Value is meaningful only when State is
// Ok; Err only when State is Failed.
type Update[T any] struct {
	State State
	Value T
	Err   error
}

// Cell is a time-varying value shared by many observers. The zero value
// is not usable; use NewCell, NewOk or NewFailed.
//
// Subscriber callbacks are invoked synchronously on the goroutine that
// publishes an update, while the cell's lock is held. Callbacks must be
// fast, must not block, and must not call back into the same cell. This
// mirrors the contract of a resolver receiver: the delivering goroutine
// only performs bookkeeping, never I/O.
type Cell[T any] struct {
	mu     sync.Mutex
	cur    Update[T]
	nextID int
	subs   map[int]func(Update[T])
}

// NewCell returns a cell in the Pending state.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subs: map[int]func(Update[T]){}}
}

// NewOk returns a cell already holding the given value.
func NewOk[T any](value T) *Cell[T] {
	c := NewCell[T]()
	c.cur = Update[T]{State: Ok, Value: value}
	return c
}

// NewFailed returns a cell already failed with the given error.
func NewFailed[T any](err error) *Cell[T] {
	c := NewCell[T]()
	c.cur = Update[T]{State: Failed, Err: err}
	return c
}

// Sample returns the cell's current state without subscribing.
func (c *Cell[T]) Sample() Update[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Set publishes a new value, moving the cell to the Ok state and
// notifying all subscribers.
func (c *Cell[T]) Set(value T) {
	c.publish(Update[T]{State: Ok, Value: value})
}

// Fail publishes an error, moving the cell to the Failed state and
// notifying all subscribers. A failed cell may later recover via Set.
func (c *Cell[T]) Fail(err error) {
	c.publish(Update[T]{State: Failed, Err: err})
}

func (c *Cell[T]) publish(u Update[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = u
	for _, fn := range c.subs {
		fn(u)
	}
}

// Subscribe registers fn and immediately replays the current state to it.
// Subsequent updates are streamed until the returned subscription is
// closed. Subscriptions are independent: closing one has no effect on
// other subscribers. Closing is idempotent.
func (c *Cell[T]) Subscribe(fn func(Update[T])) io.Closer {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	fn(c.cur)
	return &subscription[T]{cell: c, id: id}
}

type subscription[T any] struct {
	cell *Cell[T]
	id   int
}

func (s *subscription[T]) Close() error {
	s.cell.mu.Lock()
	defer s.cell.mu.Unlock()
	delete(s.cell.subs, s.id)
	return nil
}
