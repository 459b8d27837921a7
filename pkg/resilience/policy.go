// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"

	"github.com/metislabs/metis/pkg/core"
	"github.com/metislabs/metis/pkg/errors"
)

// Policy composes the resilience primitives applied to every outbound call:
// the retry loop wraps a permit acquisition and a breaker-guarded invocation.
// Each attempt emits one observability event to the sink.
type Policy struct {
	// Operation names the wrapped call for observability events.
	Operation string

	Retry   RetryConfig
	Breaker *CircuitBreaker
	Limiter *Limiter
	Sink    core.Sink
}

// NewPolicy builds a policy with default retry settings and a fresh breaker
// and limiter named after the operation.
func NewPolicy(operation string, sink core.Sink) *Policy {
	if sink == nil {
		sink = core.NopSink{}
	}
	return &Policy{
		Operation: operation,
		Retry:     DefaultRetryConfig(),
		Breaker:   NewCircuitBreaker(CircuitBreakerConfig{Name: operation}),
		Limiter:   NewLimiter(0),
		Sink:      sink,
	}
}

// Do runs fn under the policy.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempt := 0
	return p.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		start := time.Now()
		err := p.call(ctx, fn)
		p.emit(ctx, attempt, time.Since(start), err)
		return err
	})
}

func (p *Policy) call(ctx context.Context, fn func(context.Context) error) error {
	run := fn
	if p.Breaker != nil {
		inner := run
		run = func(ctx context.Context) error { return p.Breaker.Call(ctx, inner) }
	}
	if p.Limiter != nil {
		inner := run
		run = func(ctx context.Context) error { return p.Limiter.Do(ctx, inner) }
	}
	return run(ctx)
}

func (p *Policy) emit(ctx context.Context, attempt int, duration time.Duration, err error) {
	if p.Sink == nil {
		return
	}
	event := core.Event{
		Operation: p.Operation,
		Status:    core.StatusOK,
		Duration:  duration,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	if err != nil {
		event.Status = core.StatusError
		event.ErrorCode = string(errors.CodeOf(err))
	}
	p.Sink.Emit(ctx, event)
}

// Invoke runs fn under the policy and returns its result.
func Invoke[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
