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
	"github.com/routebind/routebind/dtab"
	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/selector"
)

// NoBrokersError is returned when a name's resolution offered no
// destination: the tree evaluated to a negative or empty result with no
// remaining alternative. It records the path being resolved and the
// per-call local table in effect. It matches selector.ErrNoBrokers under
// errors.Is.
type NoBrokersError struct {
	Path  name.Path
	Local dtab.Dtab
}

func (e *NoBrokersError) Error() string {
	return "no brokers available: " + e.Path.String() + " (local dtab: " + e.Local.String() + ")"
}

func (e *NoBrokersError) Unwrap() error {
	return selector.ErrNoBrokers
}

// NamingError wraps a failure of resolution itself: the resolver
// reported an error or rewriting cycled. It is never retried internally.
type NamingError struct {
	Cause error
}

func (e *NamingError) Error() string {
	return "naming failure: " + e.Cause.Error()
}

func (e *NamingError) Unwrap() error {
	return e.Cause
}

// CancelledError is returned to a caller whose request was cancelled
// while still queued behind a pending resolution. Only the cancelled
// call is affected.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return "connection cancelled: " + e.Cause.Error()
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}
