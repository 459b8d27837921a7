// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/metislabs/metis/pkg/errors"
)

// Limiter bounds the number of simultaneous in-flight calls to a dependency.
// A permit is acquired before the call and released after it, including on
// failure.
type Limiter struct {
	sem     *semaphore.Weighted
	permits int64
}

// NewLimiter creates a limiter with the given number of permits (default 10).
func NewLimiter(permits int) *Limiter {
	if permits < 1 {
		permits = 10
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(int64(permits)),
		permits: int64(permits),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return errors.New(errors.CodeTimeout, "context canceled while waiting for permit", err).
			WithRecoverable(false)
	}
	return nil
}

// Release returns a permit.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Permits returns the configured permit count.
func (l *Limiter) Permits() int {
	return int(l.permits)
}

// Do runs fn holding one permit.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}
