// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"fmt"
	"strings"
)

// Provider error classes reported in "provider_error" events. They decide
// nothing locally; fallback always moves to the next provider. The class
// tells the frontend which credential to blame.
const (
	errRateLimit  = "rate_limit"
	errAuth       = "auth_error"
	errTokenLimit = "token_limit"
	errTimeout    = "timeout"
	errConnection = "connection"
	errUnknown    = "unknown"
)

// classifyProviderError inspects an LLM provider failure and returns a
// machine-readable class plus a human-readable message for the frontend.
//
// Classification is by error text: provider SDKs do not share exception
// types, but their messages are consistent enough to route on.
func classifyProviderError(providerName string, err error) (string, string) {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "rate") || strings.Contains(msg, "429"):
		return errRateLimit, fmt.Sprintf("%s: Rate limited - too many requests", providerName)
	case strings.Contains(lower, "auth") || strings.Contains(msg, "401") ||
		(strings.Contains(lower, "invalid") && strings.Contains(lower, "key")):
		return errAuth, fmt.Sprintf("%s: Invalid API key", providerName)
	case strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") ||
		strings.Contains(lower, "billing"):
		return errTokenLimit, fmt.Sprintf("%s: Quota exceeded or billing issue", providerName)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return errTimeout, fmt.Sprintf("%s: Request timed out", providerName)
	case strings.Contains(lower, "connect") || strings.Contains(lower, "network"):
		return errConnection, fmt.Sprintf("%s: Connection failed", providerName)
	case strings.Contains(lower, "token") &&
		(strings.Contains(lower, "limit") || strings.Contains(lower, "max")):
		return errTokenLimit, fmt.Sprintf("%s: Token limit exceeded", providerName)
	}

	if len(msg) > 120 {
		msg = msg[:120]
	}
	return errUnknown, fmt.Sprintf("%s: %s", providerName, msg)
}
