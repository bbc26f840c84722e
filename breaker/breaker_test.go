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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/routebind/routebind/internal/clocktest"
	"github.com/routebind/routebind/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedFactory hands out services whose calls return whatever error
// the test currently scripts.
type scriptedFactory struct {
	mu     sync.Mutex
	err    error
	news   int
	closes int
	status service.Status
}

func (f *scriptedFactory) New(context.Context) (service.Service, error) {
	f.mu.Lock()
	f.news++
	f.mu.Unlock()
	return service.Func(func(context.Context, any) (any, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return nil, f.err
	}), nil
}

func (f *scriptedFactory) Status() service.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *scriptedFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *scriptedFactory) script(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// dispatch issues one request through the breaker and reports the call
// error, failing the test if the dispatch itself was rejected.
func dispatch(t *testing.T, f *Factory) error {
	t.Helper()
	svc, err := f.New(context.Background())
	require.NoError(t, err)
	_, err = svc.Call(context.Background(), "req")
	return err
}

var errBoom = errors.New("boom")

// awaitProbeOpen polls until the revival timer's callback has run. The
// fake clock fires callbacks on their own goroutine, like time.AfterFunc.
func awaitProbeOpen(t *testing.T, f *Factory) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		f.mu.Lock()
		current := f.state
		f.mu.Unlock()
		if current == stateProbeOpen {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the probe window to open")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSuccessResetsAccruedFailures(t *testing.T) {
	t.Parallel()

	underlying := &scriptedFactory{}
	f := Wrap(underlying, WithFailureThreshold(2), WithMarkDeadFor(time.Minute))
	defer f.Close()

	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))
	underlying.script(nil)
	require.NoError(t, dispatch(t, f))
	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))

	// Only consecutive failures accrue, so one success in between keeps
	// the endpoint alive.
	assert.Equal(t, service.Open, f.Status())
	_, err := f.New(context.Background())
	assert.NoError(t, err)
}

func TestThresholdMarksDead(t *testing.T) {
	t.Parallel()

	underlying := &scriptedFactory{}
	f := Wrap(underlying, WithFailureThreshold(3), WithMarkDeadFor(time.Minute))
	defer f.Close()

	underlying.script(errBoom)
	for range 3 {
		require.Error(t, dispatch(t, f))
	}

	assert.Equal(t, service.Busy, f.Status())
	_, err := f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)
	news := underlying.news
	_, err = f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)
	// Rejected dispatches never reach the wrapped factory.
	assert.Equal(t, news, underlying.news)
}

func TestProbeRevivesEndpoint(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	underlying := &scriptedFactory{}
	f := Wrap(underlying,
		WithFailureThreshold(1),
		WithMarkDeadFor(5*time.Second),
		WithClock(clock))
	defer f.Close()

	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))
	assert.Equal(t, service.Busy, f.Status())

	clock.Advance(4 * time.Second)
	_, err := f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)

	clock.Advance(time.Second)
	awaitProbeOpen(t, f)
	// The backoff has elapsed; the next dispatch is the probe, and while
	// it is outstanding the endpoint stays busy.
	underlying.script(nil)
	svc, err := f.New(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.Busy, f.Status())

	_, err = svc.Call(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, service.Open, f.Status())
}

func TestProbeFailureConsumesNextBackoff(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	underlying := &scriptedFactory{}
	f := Wrap(underlying,
		WithFailureThreshold(1),
		WithBackoff(ExponentialJittered(5*time.Second, time.Minute, fixedRand(0.5))),
		WithClock(clock))
	defer f.Close()

	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))

	clock.Advance(5 * time.Second)
	awaitProbeOpen(t, f)
	require.Error(t, dispatch(t, f)) // failed probe

	// The second dead period is the next head of the stream: 10s.
	clock.Advance(5 * time.Second)
	_, err := f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)
	clock.Advance(5 * time.Second)
	awaitProbeOpen(t, f)
	underlying.script(nil)
	require.NoError(t, dispatch(t, f))
	assert.Equal(t, service.Open, f.Status())

	// Revival resets the stream, so the next ejection starts over at 5s.
	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))
	clock.Advance(5 * time.Second)
	awaitProbeOpen(t, f)
	underlying.script(nil)
	require.NoError(t, dispatch(t, f))
	assert.Equal(t, service.Open, f.Status())
}

func TestCloseCancelsRevivalTimer(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	underlying := &scriptedFactory{}
	f := Wrap(underlying,
		WithFailureThreshold(1),
		WithMarkDeadFor(5*time.Second),
		WithClock(clock))

	underlying.script(errBoom)
	require.Error(t, dispatch(t, f))

	require.NoError(t, f.Close())
	require.NoError(t, f.Close()) // idempotent
	assert.Equal(t, 1, underlying.closes)

	clock.Advance(time.Minute)
	assert.Equal(t, service.Closed, f.Status())
	_, err := f.New(context.Background())
	assert.ErrorIs(t, err, service.ErrClosed)
}

func TestOutcomeAfterCloseDoesNotScheduleTimer(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	underlying := &scriptedFactory{}
	f := Wrap(underlying,
		WithFailureThreshold(1),
		WithMarkDeadFor(5*time.Second),
		WithClock(clock))

	underlying.script(errBoom)
	svc, err := f.New(context.Background())
	require.NoError(t, err)

	// The call completes only after the factory is torn down; its
	// failure must not eject the endpoint or arm a revival timer.
	require.NoError(t, f.Close())
	_, err = svc.Call(context.Background(), "req")
	require.ErrorIs(t, err, errBoom)

	f.mu.Lock()
	current, timer := f.state, f.timer
	f.mu.Unlock()
	assert.Equal(t, stateAlive, current)
	assert.Nil(t, timer)
}

func TestClassifierGovernsAccrual(t *testing.T) {
	t.Parallel()

	underlying := &scriptedFactory{}
	f := Wrap(underlying,
		WithFailureThreshold(1),
		WithMarkDeadFor(time.Minute),
		WithClassifier(func(rsp any, err error) bool {
			// Calls only count as successful when they return "ok".
			return err == nil && rsp == "ok"
		}))
	defer f.Close()

	svc, err := f.New(context.Background())
	require.NoError(t, err)
	rsp, err := svc.Call(context.Background(), "req")
	// Classification never rewrites the outcome.
	require.NoError(t, err)
	assert.Nil(t, rsp)

	assert.Equal(t, service.Busy, f.Status())
	_, err = f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)
}

func TestFactoryNewErrorAccrues(t *testing.T) {
	t.Parallel()

	calls := 0
	failing := &failingFactory{err: errBoom, calls: &calls}
	f := Wrap(failing, WithFailureThreshold(2), WithMarkDeadFor(time.Minute))
	defer f.Close()

	for range 2 {
		_, err := f.New(context.Background())
		assert.ErrorIs(t, err, errBoom)
	}
	_, err := f.New(context.Background())
	assert.ErrorIs(t, err, ErrMarkedDead)
	assert.Equal(t, 2, calls)
}

type failingFactory struct {
	err   error
	calls *int
}

func (f *failingFactory) New(context.Context) (service.Service, error) {
	*f.calls++
	return nil, f.err
}

func (f *failingFactory) Status() service.Status { return service.Open }

func (f *failingFactory) Close() error { return nil }

func TestStatusReflectsUnderlyingWhileAlive(t *testing.T) {
	t.Parallel()

	underlying := &scriptedFactory{status: service.Busy}
	f := Wrap(underlying)
	defer f.Close()
	assert.Equal(t, service.Busy, f.Status())

	underlying.mu.Lock()
	underlying.status = service.Open
	underlying.mu.Unlock()
	assert.Equal(t, service.Open, f.Status())
}
