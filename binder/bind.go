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
	"errors"
	"io"

	"github.com/routebind/routebind/dtab"
	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/watch"
)

// Namer is the external resolver capability this module consumes. It
// maps paths that no rewrite rule claims onto reactive trees of bound
// names, and exposes the rule sets it serves under a prefix.
type Namer interface {
	// Lookup resolves a path to a time-varying alternatives tree of
	// bound names. Lookup itself must not block; resolution progress is
	// reported through the returned cell.
	Lookup(path name.Path) *watch.Cell[name.Tree[name.Bound]]
	// Enumerate exposes the time-varying rewrite table rooted at
	// prefix. SyncBase consumes it to keep a base store current.
	Enumerate(prefix name.Path) *watch.Cell[dtab.Dtab]
}

// SyncBase keeps store's base table updated from the rewrite rules the
// namer exposes under prefix. Pending and failed enumerations leave the
// store's current base in place. The returned closer stops the sync.
func SyncBase(namer Namer, prefix name.Path, store *dtab.Store) io.Closer {
	return namer.Enumerate(prefix).Subscribe(func(u watch.Update[dtab.Dtab]) {
		if u.State == watch.Ok {
			store.SetBase(u.Value)
		}
	})
}

// maxRewriteDepth bounds iterative prefix substitution. A table whose
// rules feed into each other past this depth is cyclic.
const maxRewriteDepth = 100

var errRewriteLoop = errors.New("rewrite loop: maximum substitution depth exceeded")

// bind evaluates the effective table against the resolver: iterative
// longest-prefix substitution until no rule matches (the path is handed
// to the namer), an explicit negative result, or the depth limit. The
// returned closer stops tracking every reactive input the evaluation
// subscribed to.
func bind(namer Namer, d dtab.Dtab, path name.Path) (*watch.Cell[boundTree], io.Closer) {
	return bindPath(namer, d, path, 0)
}

func bindPath(namer Namer, d dtab.Dtab, path name.Path, depth int) (*watch.Cell[boundTree], io.Closer) {
	if depth > maxRewriteDepth {
		return watch.NewFailed[boundTree](errRewriteLoop), nopCloser{}
	}
	entry, ok := d.Lookup(path)
	if !ok {
		return namer.Lookup(path), nopCloser{}
	}
	suffix := path[len(entry.Prefix):]
	rewritten := name.MapLeaves(entry.Target, func(p name.Path) name.Path {
		return p.Join(suffix)
	})
	return bindTree(namer, d, rewritten, depth+1)
}

func bindTree(namer Namer, d dtab.Dtab, tree name.Tree[name.Path], depth int) (*watch.Cell[boundTree], io.Closer) {
	switch tree := tree.(type) {
	case name.Leaf[name.Path]:
		return bindPath(namer, d, tree.Value, depth)
	case name.Neg[name.Path]:
		return watch.NewOk[boundTree](name.Neg[name.Bound]{}), nopCloser{}
	case name.Fail[name.Path]:
		return watch.NewOk[boundTree](name.Fail[name.Bound]{}), nopCloser{}
	case name.Empty[name.Path]:
		return watch.NewOk[boundTree](name.Empty[name.Bound]{}), nopCloser{}
	case name.Alt[name.Path]:
		cells, closeAll := bindChildren(namer, d, tree.Trees, depth)
		combined, sub := watch.Collect(cells)
		out, mapSub := watch.Map(combined, func(trees []boundTree) boundTree {
			return name.Simplify[name.Bound](name.Alt[name.Bound]{Trees: trees})
		})
		return out, append(closeAll, sub, mapSub)
	case name.Union[name.Path]:
		children := make([]name.Tree[name.Path], len(tree.Branches))
		weights := make([]float64, len(tree.Branches))
		for i, branch := range tree.Branches {
			children[i] = branch.Tree
			weights[i] = branch.Weight
		}
		cells, closeAll := bindChildren(namer, d, children, depth)
		combined, sub := watch.Collect(cells)
		out, mapSub := watch.Map(combined, func(trees []boundTree) boundTree {
			branches := make([]name.Branch[name.Bound], len(trees))
			for i, t := range trees {
				branches[i] = name.Branch[name.Bound]{Weight: weights[i], Tree: t}
			}
			return name.Simplify[name.Bound](name.Union[name.Bound]{Branches: branches})
		})
		return out, append(closeAll, sub, mapSub)
	default:
		return watch.NewFailed[boundTree](errors.New("unknown tree variant")), nopCloser{}
	}
}

func bindChildren(namer Namer, d dtab.Dtab, trees []name.Tree[name.Path], depth int) ([]*watch.Cell[boundTree], closers) {
	cells := make([]*watch.Cell[boundTree], len(trees))
	closeAll := make(closers, 0, len(trees)+2)
	for i, child := range trees {
		cell, closer := bindTree(namer, d, child, depth+1)
		cells[i] = cell
		closeAll = append(closeAll, closer)
	}
	return cells, closeAll
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closers []io.Closer

func (c closers) Close() error {
	var firstErr error
	for _, closer := range c {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
