// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides a uniform capability surface over heterogeneous
// chat-completion backends, plus the bounded tool-calling loop that drives
// them.
//
// Backends expose tool calling in incompatible shapes (OpenAI-style inline
// function calls vs. Anthropic content blocks). The contract here is always
// the same: uniform Message/ToolSpec/ToolResult values in, a uniform message
// history out. Each Provider hides its own wire translation.
package llm

import (
	"context"
	"encoding/json"
)

// Message roles in the uniform conversation shape.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in the uniform conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID keys a RoleTool message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Name is the tool name for RoleTool messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolHandler executes one tool invocation. The returned string is fed back
// to the model verbatim (handlers return JSON by convention). A non-nil
// error is converted by the loop into a structured error result; it never
// aborts the conversation.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// ChatTurn is the uniform result of one model round trip.
type ChatTurn struct {
	// Text is the assistant's free text for this turn, possibly empty.
	Text string

	// ToolCalls are the tool invocations requested this turn. Empty means
	// the model considers the conversation complete.
	ToolCalls []ToolCall
}

// ChatCaller is the single-round-trip primitive a backend must provide for
// the tool loop. Translation between the uniform shapes and the backend's
// native wire format happens entirely inside implementations.
type ChatCaller interface {
	// ChatTurn sends the history plus tool specs and returns the model's
	// next turn.
	ChatTurn(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error)
}

// ToolSession bundles the inputs for one bounded tool-calling conversation.
type ToolSession struct {
	Messages      []Message
	Tools         []ToolSpec
	Handlers      map[string]ToolHandler
	MaxIterations int

	// OnText, when set, is invoked synchronously with each piece of
	// assistant free text (used to surface agent "thinking" to observers).
	OnText func(text string)
}

// Provider is the uniform capability surface over one chat backend.
//
// Construction takes explicit credentials rather than ambient
// configuration, so per-run user-supplied keys never mutate shared state.
type Provider interface {
	// Generate performs a plain system+user completion.
	Generate(ctx context.Context, system, user string) (string, error)

	// GenerateWithTools runs the bounded tool-calling loop (see loop.go)
	// and returns the accumulated message history.
	GenerateWithTools(ctx context.Context, session ToolSession) ([]Message, error)

	// Name identifies the provider and model for logs and events.
	Name() string
}
