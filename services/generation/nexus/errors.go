// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"errors"
	"fmt"
	"net"
)

// RateLimitError is returned when the catalog API responds with HTTP 429.
// The retry layer backs off on a slower schedule for this class.
type RateLimitError struct {
	// RetryAfter is the server-suggested wait in seconds, 0 if absent.
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("nexus rate limit exceeded (retry after %ds)", e.RetryAfter)
	}
	return "nexus rate limit exceeded"
}

// ServerError is returned for 5xx responses from the catalog API.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("nexus server error: status %d", e.Status)
}

// ConnectionError wraps transport-level failures (dial, reset, timeout).
type ConnectionError struct {
	// Timeout distinguishes deadline expiry from other transport faults.
	Timeout bool
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("nexus request timed out: %v", e.Err)
	}
	return fmt.Sprintf("nexus connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is a catalog rate-limit failure.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransient reports whether err is a failure class the retry wrapper
// should back off and retry: rate limits, 5xx server errors, timeouts,
// and connection failures. Anything else propagates immediately.
func IsTransient(err error) bool {
	var (
		rl *RateLimitError
		se *ServerError
		ce *ConnectionError
	)
	if errors.As(err, &rl) || errors.As(err, &se) || errors.As(err, &ce) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wrapTransport classifies a transport error from http.Client.Do.
func wrapTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Timeout: true, Err: err}
	}
	return &ConnectionError{Err: err}
}
