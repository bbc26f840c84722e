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

package breaker

import (
	"time"

	"github.com/routebind/routebind/internal"
)

// Backoff is a lazy, immutable stream of wait durations. Next returns
// the head of the stream and the remaining tail; a breaker consumes one
// head per dead period and keeps the tail as its remaining sequence.
type Backoff interface {
	Next() (time.Duration, Backoff)
}

// Rand is the source of randomness for jitter. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Constant returns a stream that always yields d.
func Constant(d time.Duration) Backoff {
	return constant(d)
}

type constant time.Duration

func (c constant) Next() (time.Duration, Backoff) {
	return time.Duration(c), c
}

// ExponentialJittered returns a stream of exponentially growing values
// from base up to ceiling, constant at ceiling thereafter, each with
// ±10% jitter applied. The jitter spreads re-probe times across peer
// clients that marked the same endpoint dead together.
func ExponentialJittered(base, ceiling time.Duration, rnd Rand) Backoff {
	if rnd == nil {
		rnd = internal.NewLockedRand()
	}
	if base > ceiling {
		base = ceiling
	}
	return &jittered{cur: base, ceiling: ceiling, rnd: rnd}
}

// DefaultBackoff is the stream breakers use unless configured otherwise:
// jittered exponential growth from 5s to a 300s ceiling.
func DefaultBackoff() Backoff {
	return ExponentialJittered(5*time.Second, 300*time.Second, nil)
}

type jittered struct {
	cur     time.Duration
	ceiling time.Duration
	rnd     Rand
}

func (j *jittered) Next() (time.Duration, Backoff) {
	head := jitter(j.cur, j.rnd)
	next := j.cur * 2
	if next > j.ceiling {
		next = j.ceiling
	}
	return head, &jittered{cur: next, ceiling: j.ceiling, rnd: j.rnd}
}

// jitter spreads d uniformly across [0.9d, 1.1d).
func jitter(d time.Duration, rnd Rand) time.Duration {
	spread := (rnd.Float64()*2 - 1) * 0.1
	return d + time.Duration(spread*float64(d))
}
