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

// Package name provides hierarchical names and the alternatives tree that
// rewrite rules and resolvers produce: ordered fallback (Alt) and
// weighted fan-out (Union) over leaf destinations.
package name

import (
	"fmt"
	"strings"
)

// Path is a hierarchical name: an ordered sequence of non-empty
// segments. A Path must be treated as immutable; operations that would
// modify it return a copy. The empty path prints as "/".
type Path []string

// ParsePath parses a slash-separated path such as "/s/web". The empty
// string and "/" both parse to the empty path.
func ParsePath(s string) (Path, error) {
	if s == "" || s == "/" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return nil, fmt.Errorf("path %q must begin with '/'", s)
	}
	segments := strings.Split(s[1:], "/")
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("path %q has an empty segment", s)
		}
	}
	return Path(segments), nil
}

// MustParsePath is like ParsePath but panics on malformed input. It is
// intended for statically known paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	return "/" + strings.Join(p, "/")
}

// Equal reports whether p and q have identical segment sequences.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p begins with the segments of prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Join returns a new path consisting of p followed by q.
func (p Path) Join(q Path) Path {
	joined := make(Path, 0, len(p)+len(q))
	joined = append(joined, p...)
	return append(joined, q...)
}
