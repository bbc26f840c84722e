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

package name

import "github.com/routebind/routebind/watch"

// Address is a resolved network endpoint.
type Address struct {
	// HostPort stores the host:port pair of the resolved address.
	HostPort string
}

// Bound is a logical name resolved to a reactive, possibly-changing set
// of addresses. ID is the name's stable identity; two Bound values with
// equal IDs refer to the same destination and may share per-destination
// state (factories, breakers). Residual is the part of the original path
// not consumed by rewriting; it travels with forwarded requests.
type Bound struct {
	ID       string
	Addrs    *watch.Cell[[]Address]
	Residual Path
}

func (b Bound) String() string {
	if len(b.Residual) == 0 {
		return b.ID
	}
	return b.ID + b.Residual.String()
}
