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

package watch

import (
	"io"
	"sync"
)

// Map returns a cell that tracks c through f. The returned closer stops
// the tracking; the derived cell then retains its last state.
func Map[T, U any](c *Cell[T], f func(T) U) (*Cell[U], io.Closer) {
	out := NewCell[U]()
	sub := c.Subscribe(func(u Update[T]) {
		switch u.State {
		case Ok:
			out.Set(f(u.Value))
		case Failed:
			out.Fail(u.Err)
		case Pending:
			// Initial replay of a pending cell; the derived cell is
			// already pending.
		}
	})
	return out, sub
}

// Collect combines several cells into one holding all of their values in
// order. The combined cell is Failed as soon as any input is Failed, Ok
// once every input is Ok, and Pending otherwise. The returned closer
// stops tracking all inputs.
func Collect[T any](cells []*Cell[T]) (*Cell[[]T], io.Closer) {
	if len(cells) == 0 {
		return NewOk[[]T](nil), multiCloser(nil)
	}
	out := NewCell[[]T]()
	col := &collector[T]{out: out, latest: make([]Update[T], len(cells))}
	subs := make(multiCloser, len(cells))
	for i, c := range cells {
		subs[i] = c.Subscribe(col.observer(i))
	}
	return out, subs
}

type collector[T any] struct {
	out *Cell[[]T]

	mu     sync.Mutex
	latest []Update[T]
}

func (c *collector[T]) observer(i int) func(Update[T]) {
	return func(u Update[T]) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.latest[i] = u
		c.recomputeLocked()
	}
}

func (c *collector[T]) recomputeLocked() {
	values := make([]T, len(c.latest))
	for i, u := range c.latest {
		switch u.State {
		case Failed:
			c.out.Fail(u.Err)
			return
		case Pending:
			// Not all inputs have produced a value yet; the combined
			// cell keeps its current state.
			return
		case Ok:
			values[i] = u.Value
		}
	}
	c.out.Set(values)
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
