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

// Package breaker provides a per-endpoint failure-accrual circuit
// breaker. A breaker wraps a connection factory: consecutive request
// failures eject the endpoint for a backoff period, after which a single
// probe request decides whether it is readmitted.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/routebind/routebind/internal"
	"github.com/routebind/routebind/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrMarkedDead is returned when a dispatch reaches an endpoint that has
// been ejected and whose revival timer has not yet fired.
var ErrMarkedDead = errors.New("endpoint marked dead")

// Classifier decides whether a completed request counts as a success for
// accrual purposes. The default treats any non-error response as a
// success. Classification never rewrites the response or error; it only
// feeds the breaker's bookkeeping.
type Classifier func(rsp any, err error) bool

func defaultClassifier(_ any, err error) bool {
	return err == nil
}

type state int

const (
	// stateAlive is the healthy state; failures accrue toward the
	// threshold and any success resets them.
	stateAlive state = iota
	// stateDead means the endpoint is ejected; dispatches are rejected
	// until the revival timer fires.
	stateDead
	// stateProbeOpen means the backoff elapsed; the next dispatch
	// becomes the probe.
	stateProbeOpen
	// stateProbeClosed means a probe is in flight; its outcome decides
	// the next state. Requests racing through the transition window are
	// not blocked, and only the first completing outcome governs.
	stateProbeClosed
)

// Factory wraps an underlying service factory with failure accrual. It
// is shared by many concurrent callers; all state transitions happen
// under one mutex, and the wrapped request itself is never invoked while
// that mutex is held.
type Factory struct {
	underlying service.Factory
	threshold  int
	label      string
	classifier Classifier
	backoff    Backoff
	clock      internal.Clock
	logger     *slog.Logger
	removals   metric.Int64Counter
	revivals   metric.Int64Counter
	attrs      metric.MeasurementOption

	mu        sync.Mutex
	state     state
	failures  int
	remaining Backoff
	timer     internal.Timer
	closed    bool
}

// Option configures a Factory.
type Option interface {
	apply(*Factory)
}

type option func(*Factory)

func (o option) apply(f *Factory) { o(f) }

// WithFailureThreshold sets how many consecutive failures mark the
// endpoint dead. The default is 5.
func WithFailureThreshold(n int) Option {
	return option(func(f *Factory) {
		f.threshold = n
	})
}

// WithBackoff sets the stream of dead periods. The default is a jittered
// exponential stream from 5s to 300s.
func WithBackoff(b Backoff) Option {
	return option(func(f *Factory) {
		f.backoff = b
	})
}

// WithMarkDeadFor uses a constant dead period instead of the default
// stream.
func WithMarkDeadFor(d time.Duration) Option {
	return WithBackoff(Constant(d))
}

// WithClassifier sets the success classifier.
func WithClassifier(c Classifier) Option {
	return option(func(f *Factory) {
		f.classifier = c
	})
}

// WithLabel attributes log lines and counters to the given endpoint
// label.
func WithLabel(label string) Option {
	return option(func(f *Factory) {
		f.label = label
	})
}

// WithClock substitutes the clock used for revival timers. Tests use a
// fake clock.
func WithClock(clock internal.Clock) Option {
	return option(func(f *Factory) {
		f.clock = clock
	})
}

// WithLogger sets the logger for mark-dead and revival events.
func WithLogger(logger *slog.Logger) Option {
	return option(func(f *Factory) {
		f.logger = logger
	})
}

// WithMeter sets the meter that records the removals and revivals
// counters. The default is the globally registered meter provider.
func WithMeter(meter metric.Meter) Option {
	return option(func(f *Factory) {
		f.newCounters(meter)
	})
}

// Wrap returns a failure-accrual factory around underlying. The breaker
// starts alive with zero accrued failures.
func Wrap(underlying service.Factory, opts ...Option) *Factory {
	f := &Factory{
		underlying: underlying,
		threshold:  5,
		classifier: defaultClassifier,
	}
	for _, opt := range opts {
		opt.apply(f)
	}
	if f.backoff == nil {
		f.backoff = DefaultBackoff()
	}
	if f.clock == nil {
		f.clock = internal.NewRealClock()
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.removals == nil {
		f.newCounters(otel.Meter("routebind.breaker"))
	}
	f.remaining = f.backoff
	f.attrs = metric.WithAttributes(attribute.String("endpoint", f.label))
	return f
}

func (f *Factory) newCounters(meter metric.Meter) {
	f.removals, _ = meter.Int64Counter("breaker.removals",
		metric.WithDescription("Endpoints marked dead by failure accrual"),
		metric.WithUnit("{removal}"))
	f.revivals, _ = meter.Int64Counter("breaker.revivals",
		metric.WithDescription("Endpoints readmitted by a successful probe"),
		metric.WithUnit("{revival}"))
}

// New acquires a service from the wrapped factory. While the endpoint is
// dead the dispatch is rejected with ErrMarkedDead. The first dispatch
// after the backoff elapses becomes the probe; it is not blocked, and
// neither are requests racing through the transition window.
func (f *Factory) New(ctx context.Context) (service.Service, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, service.ErrClosed
	}
	switch f.state {
	case stateDead:
		f.mu.Unlock()
		return nil, ErrMarkedDead
	case stateProbeOpen:
		f.state = stateProbeClosed
	case stateAlive, stateProbeClosed:
	}
	f.mu.Unlock()

	svc, err := f.underlying.New(ctx)
	if err != nil {
		f.didFail()
		return nil, err
	}
	return &accrualService{Service: svc, factory: f}, nil
}

// Status reports Busy exactly while the endpoint is dead or a probe is
// in flight; otherwise it reflects the wrapped factory, so a healthy
// breaker still surfaces transport-level degradation.
func (f *Factory) Status() service.Status {
	f.mu.Lock()
	current, closed := f.state, f.closed
	f.mu.Unlock()
	switch {
	case closed:
		return service.Closed
	case current == stateDead || current == stateProbeClosed:
		return service.Busy
	default:
		return f.underlying.Status()
	}
}

// Close closes the wrapped factory and cancels any pending revival timer
// so it cannot fire afterward. It is idempotent.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.mu.Unlock()
	return f.underlying.Close()
}

func (f *Factory) didSucceed() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	revived := false
	switch f.state {
	case stateAlive:
		f.failures = 0
	case stateProbeClosed:
		f.state = stateAlive
		f.failures = 0
		// A revived endpoint starts over with the full backoff
		// sequence for its next dead period.
		f.remaining = f.backoff
		revived = true
	case stateDead, stateProbeOpen:
		// A stale outcome from before the ejection; it carries no
		// information about the endpoint's current health.
	}
	f.mu.Unlock()
	if revived {
		f.revivals.Add(context.Background(), 1, f.attrs)
		f.logger.Info("endpoint revived", slog.String("endpoint", f.label))
	}
}

// didFail ignores outcomes arriving after Close so no revival timer can
// be scheduled against a torn-down factory.
func (f *Factory) didFail() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	var deadFor time.Duration
	marked := false
	switch f.state {
	case stateAlive:
		f.failures++
		if f.failures >= f.threshold {
			deadFor = f.markDeadLocked()
			marked = true
		}
	case stateProbeClosed:
		deadFor = f.markDeadLocked()
		marked = true
	case stateDead, stateProbeOpen:
	}
	f.mu.Unlock()
	if marked {
		f.removals.Add(context.Background(), 1, f.attrs)
		f.logger.Warn("marking endpoint dead",
			slog.String("endpoint", f.label),
			slog.Duration("for", deadFor))
	}
}

// markDeadLocked consumes the head of the remaining backoff sequence and
// schedules the one-shot revival timer. Callers hold f.mu.
func (f *Factory) markDeadLocked() time.Duration {
	f.state = stateDead
	deadFor, rest := f.remaining.Next()
	f.remaining = rest
	f.timer = f.clock.AfterFunc(deadFor, f.startProbing)
	return deadFor
}

func (f *Factory) startProbing() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == stateDead && !f.closed {
		f.state = stateProbeOpen
		f.timer = nil
	}
}

// accrualService feeds each completed call's classified outcome back to
// the breaker. The original response and error pass through unchanged.
type accrualService struct {
	service.Service
	factory *Factory
}

func (s *accrualService) Call(ctx context.Context, req any) (any, error) {
	rsp, err := s.Service.Call(ctx, req)
	if s.factory.classifier(rsp, err) {
		s.factory.didSucceed()
	} else {
		s.factory.didFail()
	}
	return rsp, err
}
