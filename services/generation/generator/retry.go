// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moddersomni/modforge/services/generation/nexus"
)

// ErrCatalogExhausted marks a catalog call that failed transiently on every
// retry attempt. Tool handlers catch it and tell the agent to try a
// different query instead of aborting the run.
var ErrCatalogExhausted = errors.New("catalog retries exhausted")

// EmitFunc publishes one observability event for a run.
type EmitFunc func(eventType string, data map[string]any)

// RetryPolicy controls backoff for transient catalog failures. Rate limits
// back off longer than server errors and timeouts; both double per attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// RateLimitBase is the first wait after a rate-limit response
	// (5s, then 10s, 20s).
	RateLimitBase time.Duration

	// TransientBase is the first wait after a server error, timeout, or
	// connection failure (3s, then 6s, 12s).
	TransientBase time.Duration

	// Sleep is the wait primitive, injectable for tests. Nil means a
	// context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the backoff schedule the Nexus API tolerates.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		RateLimitBase: 5 * time.Second,
		TransientBase: 3 * time.Second,
	}
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryReason names the transient failure class for the "retrying" event.
func retryReason(err error) string {
	switch {
	case nexus.IsRateLimit(err):
		return "nexus_rate_limit"
	default:
		var connErr *nexus.ConnectionError
		if errors.As(err, &connErr) {
			if connErr.Timeout {
				return "nexus_timeout"
			}
			return "nexus_connection"
		}
		return "nexus_server_error"
	}
}

// withRetry executes op with exponential backoff on transient catalog
// failures.
//
// Non-transient errors propagate immediately without retry. Each backoff
// emits a "retrying" event carrying the wait so live observers see it.
// When every attempt fails transiently, the last error is wrapped in
// ErrCatalogExhausted.
func withRetry[T any](ctx context.Context, policy RetryPolicy, emit EmitFunc,
	op func(ctx context.Context) (T, error)) (T, error) {

	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !nexus.IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		base := policy.TransientBase
		if nexus.IsRateLimit(err) {
			base = policy.RateLimitBase
		}
		wait := base << attempt

		if emit != nil {
			emit("retrying", map[string]any{
				"reason":       retryReason(err),
				"wait_seconds": int(wait / time.Second),
				"attempt":      attempt + 1,
				"max_attempts": maxAttempts,
			})
		}
		if err := policy.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %v", ErrCatalogExhausted, maxAttempts, lastErr)
}
