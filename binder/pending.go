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
	"io"
	"sync"

	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/service"
	"github.com/routebind/routebind/watch"
)

type boundTree = name.Tree[name.Bound]

// pendingFactory defers acquisitions until a name's resolution is
// available. While the resolution cell is pending, callers queue in
// arrival order; the goroutine delivering the resolution drains the
// queue with list manipulation only, and each caller then constructs its
// service against the tree observed at drain time on its own goroutine.
type pendingFactory struct {
	dispatch func(ctx context.Context, tree boundTree) (service.Service, error)
	status   func(tree boundTree) service.Status
	closeRes io.Closer // stops tracking the resolution

	mu      sync.Mutex
	latest  watch.Update[boundTree]
	waiters []*waiter
	closed  bool

	sub io.Closer
}

type waiter struct {
	done chan struct{}
	tree boundTree
	err  error
}

func newPendingFactory(
	resolution *watch.Cell[boundTree],
	closeRes io.Closer,
	dispatch func(ctx context.Context, tree boundTree) (service.Service, error),
	status func(tree boundTree) service.Status,
) *pendingFactory {
	p := &pendingFactory{
		dispatch: dispatch,
		status:   status,
		closeRes: closeRes,
	}
	// Subscribe replays the current state, so p.latest is correct
	// before the first acquisition.
	p.sub = resolution.Subscribe(p.observe)
	return p
}

// observe runs on the goroutine delivering a resolution update. It only
// updates the snapshot and hands queued waiters their result; it never
// constructs services.
func (p *pendingFactory) observe(u watch.Update[boundTree]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = u
	if u.State == watch.Pending {
		return
	}
	waiters := p.waiters
	p.waiters = nil
	for _, w := range waiters {
		switch u.State {
		case watch.Ok:
			w.tree = u.Value
		case watch.Failed:
			w.err = &NamingError{Cause: u.Err}
		}
		close(w.done)
	}
}

func (p *pendingFactory) New(ctx context.Context) (service.Service, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, service.ErrClosed
	}
	u := p.latest
	var w *waiter
	if u.State == watch.Pending {
		w = &waiter{done: make(chan struct{})}
		p.waiters = append(p.waiters, w)
	}
	p.mu.Unlock()

	switch u.State {
	case watch.Ok:
		return p.dispatch(ctx, u.Value)
	case watch.Failed:
		return nil, &NamingError{Cause: u.Err}
	}

	select {
	case <-w.done:
	case <-ctx.Done():
		if p.abandon(w) {
			return nil, &CancelledError{Cause: ctx.Err()}
		}
		// Drained concurrently with the cancellation; the result is
		// already decided, use it.
		<-w.done
	}
	if w.err != nil {
		return nil, w.err
	}
	return p.dispatch(ctx, w.tree)
}

// abandon removes a still-queued waiter. It reports false if the waiter
// was already drained, in which case other queued entries and the
// resolution subscription are unaffected either way.
func (p *pendingFactory) abandon(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, queued := range p.waiters {
		if queued == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Status is Busy until the resolution produces a tree, then reflects the
// availability of that tree.
func (p *pendingFactory) Status() service.Status {
	p.mu.Lock()
	u, closed := p.latest, p.closed
	p.mu.Unlock()
	switch {
	case closed:
		return service.Closed
	case u.State == watch.Ok:
		return p.status(u.Value)
	default:
		return service.Busy
	}
}

// Close stops tracking the resolution and fails any still-queued
// waiters.
func (p *pendingFactory) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.err = service.ErrClosed
		close(w.done)
	}
	err := p.sub.Close()
	if p.closeRes != nil {
		if cerr := p.closeRes.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
