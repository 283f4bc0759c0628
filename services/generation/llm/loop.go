// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("modforge/llm")

// RunToolLoop drives one bounded tool-calling conversation against caller.
//
// # Description
//
// Each iteration sends the accumulated history plus tool specs to the
// backend. Assistant free text is appended to history and forwarded to
// session.OnText. If the model requests no tool calls, the loop terminates
// successfully. Otherwise every requested call is dispatched through
// session.Handlers: a missing handler yields a synthesized error result, a
// failing or panicking handler yields a structured error result — a single
// bad tool invocation never crashes the conversation. All results are
// appended to history keyed to their originating call before the next
// iteration.
//
// Hitting session.MaxIterations is not an error: the partial history is
// returned with a warning logged, and the caller decides what to do with
// the accumulated state.
//
// # Inputs
//
//	ctx - Context for cancellation; checked before each round trip.
//	caller - The backend's single-round-trip primitive.
//	session - Messages, tool specs, handler table, bounds, text sink.
//
// # Outputs
//
//	[]Message - The accumulated history, complete or partial.
//	error - Non-nil only for backend failures or context cancellation.
func RunToolLoop(ctx context.Context, caller ChatCaller, session ToolSession) ([]Message, error) {
	history := make([]Message, len(session.Messages))
	copy(history, session.Messages)

	maxIterations := session.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	ctx, span := tracer.Start(ctx, "llm.RunToolLoop")
	defer span.End()
	span.SetAttributes(attribute.Int("llm.max_iterations", maxIterations))

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		turn, err := caller.ChatTurn(ctx, history, session.Tools)
		if err != nil {
			return history, fmt.Errorf("chat turn %d: %w", iteration+1, err)
		}

		if turn.Text != "" && session.OnText != nil {
			session.OnText(turn.Text)
		}

		history = append(history, Message{
			Role:      RoleAssistant,
			Content:   turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		if len(turn.ToolCalls) == 0 {
			span.SetAttributes(attribute.Int("llm.iterations", iteration+1))
			return history, nil
		}

		for _, call := range turn.ToolCalls {
			result := dispatchToolCall(ctx, session.Handlers, call)
			history = append(history, Message{
				Role:       RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	slog.Warn("tool loop hit iteration limit, returning partial history",
		slog.Int("max_iterations", maxIterations),
		slog.Int("history_len", len(history)),
	)
	return history, nil
}

// dispatchToolCall invokes the handler for one call, converting every
// failure mode into a result string for the model.
func dispatchToolCall(ctx context.Context, handlers map[string]ToolHandler, call ToolCall) string {
	handler, ok := handlers[call.Name]
	if !ok {
		slog.Warn("model requested unknown tool", slog.String("tool", call.Name))
		return errorResult(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	result, err := safeInvoke(ctx, handler, call.Arguments)
	if err != nil {
		slog.Warn("tool handler failed",
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return errorResult(err.Error())
	}
	return result
}

// safeInvoke runs a handler with panic recovery so a misbehaving handler
// surfaces as an error result instead of tearing down the run.
func safeInvoke(ctx context.Context, handler ToolHandler, args json.RawMessage) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}

// errorResult builds the structured error payload fed back to the model.
func errorResult(message string) string {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return string(payload)
}
