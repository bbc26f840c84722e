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

// Package dtab provides delegation tables: ordered lists of
// prefix-rewrite rules used to turn logical paths into concrete
// destinations. A process-wide base table and a per-call local table
// compose into the effective table for each call.
package dtab

import (
	"strings"

	"github.com/routebind/routebind/name"
)

// Dentry is a single rewrite rule: paths beginning with Prefix are
// rewritten to Target, with the remainder of the path appended to each
// leaf of the target tree.
type Dentry struct {
	Prefix name.Path
	Target name.Tree[name.Path]
}

func (e Dentry) String() string {
	return e.Prefix.String() + "=>" + e.Target.String()
}

// Dtab is an ordered delegation table. Entries earlier in the table take
// precedence when two rules match a path with prefixes of equal length;
// longer prefixes always beat shorter ones.
type Dtab []Dentry

// String renders the table in its text form, one entry per ';'. The
// result is canonical for a given table value and is usable as a cache
// key.
func (d Dtab) String() string {
	parts := make([]string, len(d))
	for i, e := range d {
		parts[i] = e.String()
	}
	return strings.Join(parts, ";")
}

// Equal reports whether two tables render identically.
func (d Dtab) Equal(other Dtab) bool {
	return d.String() == other.String()
}

// Lookup finds the rule to apply to path: the entry with the longest
// matching prefix, earliest entry winning ties. It returns the matched
// entry and whether any rule matched.
func (d Dtab) Lookup(path name.Path) (Dentry, bool) {
	best := -1
	for i, e := range d {
		if !path.HasPrefix(e.Prefix) {
			continue
		}
		if best < 0 || len(e.Prefix) > len(d[best].Prefix) {
			best = i
		}
	}
	if best < 0 {
		return Dentry{}, false
	}
	return d[best], true
}

// Concat returns a table with the entries of d followed by those of
// others, in order. Composing a per-call local table with the base table
// is Concat(local, base): local entries come first and so win ties.
func Concat(tables ...Dtab) Dtab {
	var size int
	for _, t := range tables {
		size += len(t)
	}
	combined := make(Dtab, 0, size)
	for _, t := range tables {
		combined = append(combined, t...)
	}
	return combined
}
