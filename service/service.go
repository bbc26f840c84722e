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

// Package service defines the request plane that routing composes over:
// a Service handles requests, a Factory produces services for individual
// caller sessions, and Status reports whether either is willing to take
// load. Transports implement these; this module only wraps and routes
// them.
package service

import (
	"context"
	"errors"
)

// ErrClosed is returned by factories asked for a service after Close.
var ErrClosed = errors.New("factory is closed")

// Status reports availability. A Busy service or factory is alive but
// should not be offered new load; Closed means it has been torn down.
type Status int

const (
	// Open means ready to serve.
	Open Status = iota
	// Busy means alive but unwilling to accept new load right now.
	Busy
	// Closed means permanently unavailable.
	Closed
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Service handles requests for a single caller session.
type Service interface {
	// Call dispatches one request. The request and response types are
	// owned by the transport; this module never inspects them.
	Call(ctx context.Context, req any) (any, error)
	// Status reports the service's availability.
	Status() Status
	// Close releases the session. It must be safe to call once after
	// the last in-flight Call returns.
	Close() error
}

// Factory produces a Service per caller session. A factory is shared by
// many concurrent callers; New may block on network I/O but must be safe
// for concurrent use.
type Factory interface {
	New(ctx context.Context) (Service, error)
	Status() Status
	Close() error
}

// Func adapts a plain function to a Service that is always Open and
// whose Close is a no-op.
type Func func(ctx context.Context, req any) (any, error)

func (f Func) Call(ctx context.Context, req any) (any, error) {
	return f(ctx, req)
}

func (f Func) Status() Status { return Open }

func (f Func) Close() error { return nil }
