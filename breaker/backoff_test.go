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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedRand always draws the same value. A draw of 0.5 makes the ±10%
// jitter vanish, so streams built with it yield exact durations.
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

func TestConstantBackoff(t *testing.T) {
	t.Parallel()

	stream := Constant(7 * time.Second)
	for range 3 {
		var head time.Duration
		head, stream = stream.Next()
		assert.Equal(t, 7*time.Second, head)
	}
}

func TestExponentialGrowthAndCeiling(t *testing.T) {
	t.Parallel()

	stream := ExponentialJittered(5*time.Second, 20*time.Second, fixedRand(0.5))
	var heads []time.Duration
	for range 5 {
		var head time.Duration
		head, stream = stream.Next()
		heads = append(heads, head)
	}
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		20 * time.Second,
		20 * time.Second,
	}, heads)
}

func TestExponentialJitterBounds(t *testing.T) {
	t.Parallel()

	base := 10 * time.Second
	for _, draw := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		stream := ExponentialJittered(base, time.Minute, fixedRand(draw))
		head, _ := stream.Next()
		assert.GreaterOrEqual(t, head, 9*time.Second, "draw %v", draw)
		assert.Less(t, head, 11*time.Second, "draw %v", draw)
	}
}

func TestBackoffStreamsAreImmutable(t *testing.T) {
	t.Parallel()

	stream := ExponentialJittered(5*time.Second, time.Minute, fixedRand(0.5))
	first, _ := stream.Next()
	again, _ := stream.Next()
	// Reading the head twice yields the same value; consumption happens
	// only by holding on to the returned tail.
	assert.Equal(t, first, again)
}

func TestExponentialBaseClampedToCeiling(t *testing.T) {
	t.Parallel()

	stream := ExponentialJittered(time.Minute, 10*time.Second, fixedRand(0.5))
	head, _ := stream.Next()
	assert.Equal(t, 10*time.Second, head)
}
