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

import (
	"fmt"
	"strconv"
	"strings"
)

// Tree is an alternatives tree over leaf values of type T. It is a closed
// union: the only implementations are Leaf, Alt, Union, Fail, Neg and
// Empty. Trees are immutable.
//
// Alt expresses ordered fallback: the first child that does not resolve
// to Neg wins. Union expresses weighted fan-out: all children are
// considered together, with nested unions contributing multiplicatively
// to leaf weights. Fail is a hard stop, Neg means "no match, try the next
// alternative", and Empty is an explicitly empty but available
// destination set.
type Tree[T any] interface {
	fmt.Stringer
	tree()
}

// Leaf is a single destination.
type Leaf[T any] struct {
	Value T
}

// Alt is an ordered list of alternatives.
type Alt[T any] struct {
	Trees []Tree[T]
}

// Union is a set of weighted branches considered together.
type Union[T any] struct {
	Branches []Branch[T]
}

// Branch is one weighted arm of a Union.
type Branch[T any] struct {
	Weight float64
	Tree   Tree[T]
}

// Fail is a hard stop: no more alternatives may be tried.
type Fail[T any] struct{}

// Neg is a negative result: no match here, try the next alternative.
type Neg[T any] struct{}

// Empty is an explicitly empty destination set. It counts as available
// but yields nothing to dispatch to.
type Empty[T any] struct{}

func (Leaf[T]) tree()  {}
func (Alt[T]) tree()   {}
func (Union[T]) tree() {}
func (Fail[T]) tree()  {}
func (Neg[T]) tree()   {}
func (Empty[T]) tree() {}

func (l Leaf[T]) String() string {
	return fmt.Sprint(l.Value)
}

func (a Alt[T]) String() string {
	parts := make([]string, len(a.Trees))
	for i, t := range a.Trees {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

func (u Union[T]) String() string {
	parts := make([]string, len(u.Branches))
	for i, b := range u.Branches {
		parts[i] = strconv.FormatFloat(b.Weight, 'g', -1, 64) + "*" + b.Tree.String()
	}
	return "(" + strings.Join(parts, " & ") + ")"
}

func (Fail[T]) String() string  { return "!" }
func (Neg[T]) String() string   { return "~" }
func (Empty[T]) String() string { return "$" }

// MapLeaves returns a tree of the same shape with every leaf value
// replaced by f applied to it.
func MapLeaves[T, U any](t Tree[T], f func(T) U) Tree[U] {
	switch t := t.(type) {
	case Leaf[T]:
		return Leaf[U]{Value: f(t.Value)}
	case Alt[T]:
		trees := make([]Tree[U], len(t.Trees))
		for i, child := range t.Trees {
			trees[i] = MapLeaves(child, f)
		}
		return Alt[U]{Trees: trees}
	case Union[T]:
		branches := make([]Branch[U], len(t.Branches))
		for i, b := range t.Branches {
			branches[i] = Branch[U]{Weight: b.Weight, Tree: MapLeaves(b.Tree, f)}
		}
		return Union[U]{Branches: branches}
	case Fail[T]:
		return Fail[U]{}
	case Neg[T]:
		return Neg[U]{}
	case Empty[T]:
		return Empty[U]{}
	default:
		panic(fmt.Sprintf("name: unknown tree variant %T", t))
	}
}

// Simplify returns an equivalent tree with redundant structure removed:
// nested Alts are spliced into their parent, Neg children of Alts are
// dropped, everything after a Fail alternative is unreachable and
// removed, Neg branches of Unions are pruned, and single-child Alts and
// Unions collapse to their child. An Alt or Union left with no children
// simplifies to Neg.
func Simplify[T any](t Tree[T]) Tree[T] {
	switch t := t.(type) {
	case Alt[T]:
		var trees []Tree[T]
		for _, child := range t.Trees {
			child = Simplify[T](child)
			switch child := child.(type) {
			case Neg[T]:
				continue
			case Alt[T]:
				trees = append(trees, child.Trees...)
			default:
				trees = append(trees, child)
			}
			if _, stop := child.(Fail[T]); stop {
				// Nothing after a hard stop can be reached.
				break
			}
		}
		switch len(trees) {
		case 0:
			return Neg[T]{}
		case 1:
			return trees[0]
		default:
			return Alt[T]{Trees: trees}
		}
	case Union[T]:
		var branches []Branch[T]
		for _, b := range t.Branches {
			child := Simplify[T](b.Tree)
			if _, neg := child.(Neg[T]); neg {
				continue
			}
			branches = append(branches, Branch[T]{Weight: b.Weight, Tree: child})
		}
		switch len(branches) {
		case 0:
			return Neg[T]{}
		case 1:
			return branches[0].Tree
		default:
			return Union[T]{Branches: branches}
		}
	default:
		return t
	}
}
