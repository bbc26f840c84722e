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

// Package selector evaluates alternatives trees of bound names and
// dispatches requests to one destination: ordered fallback across Alt
// children, a weighted random draw across Union leaves.
package selector

import (
	"context"
	"errors"

	"github.com/routebind/routebind/internal"
	"github.com/routebind/routebind/name"
	"github.com/routebind/routebind/service"
)

// ErrNoBrokers is returned when a tree offers no destination to dispatch
// to: it evaluated to a negative or hard-stop result, all alternatives
// were exhausted, or the winning alternative was explicitly empty.
var ErrNoBrokers = errors.New("no brokers available")

// Rand is the source of randomness for weighted draws. *rand.Rand
// satisfies it; tests inject a seeded source for deterministic draws.
type Rand interface {
	Float64() float64
}

// Selector evaluates trees against a Source. It holds no per-tree state;
// one selector may serve many trees and many concurrent callers.
type Selector struct {
	source Source
	rnd    Rand
}

// Option configures a Selector.
type Option interface {
	apply(*Selector)
}

type option func(*Selector)

func (o option) apply(s *Selector) { o(s) }

// WithRand configures the random source used for weighted draws. The
// source must be safe for concurrent use.
func WithRand(rnd Rand) Option {
	return option(func(s *Selector) {
		s.rnd = rnd
	})
}

// New returns a selector dispatching through the given source.
func New(source Source, opts ...Option) *Selector {
	s := &Selector{source: source}
	for _, opt := range opts {
		opt.apply(s)
	}
	if s.rnd == nil {
		s.rnd = internal.NewLockedRand()
	}
	return s
}

// Dispatch picks one destination from the tree and acquires a service
// from its factory. Draws are independent per call; nothing about the
// pick is memoized.
func (s *Selector) Dispatch(ctx context.Context, tree name.Tree[name.Bound]) (service.Service, error) {
	dest, err := s.Pick(tree)
	if err != nil {
		return nil, err
	}
	return s.source.Apply(ctx, dest)
}

// Pick evaluates the tree and draws one destination. Alt children are
// tried left to right and the first that does not evaluate to Neg wins;
// Fail anywhere on the winning route, an exhausted Alt, or a winning
// Empty all yield ErrNoBrokers.
func (s *Selector) Pick(tree name.Tree[name.Bound]) (name.Bound, error) {
	leaves, kind := evaluate(tree)
	if kind != evalLeaves {
		return name.Bound{}, ErrNoBrokers
	}
	var total float64
	for _, leaf := range leaves {
		if leaf.weight > 0 {
			total += leaf.weight
		}
	}
	if total <= 0 {
		return name.Bound{}, ErrNoBrokers
	}
	draw := s.rnd.Float64() * total
	for _, leaf := range leaves {
		if leaf.weight <= 0 {
			continue
		}
		draw -= leaf.weight
		if draw < 0 {
			return leaf.dest, nil
		}
	}
	// Floating-point underflow on the last boundary; the draw belongs to
	// the final positive-weight leaf.
	for i := len(leaves) - 1; i >= 0; i-- {
		if leaves[i].weight > 0 {
			return leaves[i].dest, nil
		}
	}
	return name.Bound{}, ErrNoBrokers
}

// Status reports the availability of the whole structure: the logical
// AND over every transitively reachable leaf factory. Empty counts as
// available; Fail and Neg count as unavailable.
func (s *Selector) Status(tree name.Tree[name.Bound]) service.Status {
	return s.statusOf(tree)
}

func (s *Selector) statusOf(tree name.Tree[name.Bound]) service.Status {
	switch tree := tree.(type) {
	case name.Leaf[name.Bound]:
		return s.source.Status(tree.Value)
	case name.Empty[name.Bound]:
		return service.Open
	case name.Fail[name.Bound], name.Neg[name.Bound]:
		return service.Busy
	case name.Alt[name.Bound]:
		worst := service.Open
		for _, child := range tree.Trees {
			worst = worstStatus(worst, s.statusOf(child))
		}
		return worst
	case name.Union[name.Bound]:
		worst := service.Open
		for _, branch := range tree.Branches {
			worst = worstStatus(worst, s.statusOf(branch.Tree))
		}
		return worst
	default:
		return service.Busy
	}
}

func worstStatus(a, b service.Status) service.Status {
	if b > a {
		return b
	}
	return a
}

type weightedLeaf struct {
	weight float64
	dest   name.Bound
}

type evalKind int

const (
	// evalLeaves means the tree evaluated to a (possibly empty) set of
	// weighted destinations.
	evalLeaves evalKind = iota
	// evalNeg means no match; an enclosing Alt should try the next
	// alternative.
	evalNeg
	// evalFail means a hard stop; no further alternatives may be tried.
	evalFail
)

func evaluate(tree name.Tree[name.Bound]) ([]weightedLeaf, evalKind) {
	switch tree := tree.(type) {
	case name.Leaf[name.Bound]:
		return []weightedLeaf{{weight: 1, dest: tree.Value}}, evalLeaves
	case name.Empty[name.Bound]:
		return nil, evalLeaves
	case name.Neg[name.Bound]:
		return nil, evalNeg
	case name.Fail[name.Bound]:
		return nil, evalFail
	case name.Alt[name.Bound]:
		for _, child := range tree.Trees {
			leaves, kind := evaluate(child)
			switch kind {
			case evalNeg:
				continue
			case evalFail:
				return nil, evalFail
			case evalLeaves:
				return leaves, evalLeaves
			}
		}
		return nil, evalNeg
	case name.Union[name.Bound]:
		var leaves []weightedLeaf
		for _, branch := range tree.Branches {
			childLeaves, kind := evaluate(branch.Tree)
			switch kind {
			case evalNeg:
				// A negative branch contributes nothing to the union.
				continue
			case evalFail:
				return nil, evalFail
			case evalLeaves:
				for _, leaf := range childLeaves {
					leaves = append(leaves, weightedLeaf{
						weight: branch.Weight * leaf.weight,
						dest:   leaf.dest,
					})
				}
			}
		}
		return leaves, evalLeaves
	default:
		return nil, evalFail
	}
}
