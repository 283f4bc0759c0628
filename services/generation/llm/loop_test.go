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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCaller returns canned turns in order, repeating the last one.
type scriptedCaller struct {
	turns []ChatTurn
	calls int
}

func (s *scriptedCaller) ChatTurn(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error) {
	idx := s.calls
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	}
	s.calls++
	turn := s.turns[idx]
	return &turn, nil
}

func toolCall(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestRunToolLoop_TerminatesWhenNoToolCalls(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{Text: "done, no tools needed"},
	}}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		MaxIterations: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls)
	require.Len(t, history, 2)
	assert.Equal(t, RoleAssistant, history[1].Role)
	assert.Equal(t, "done, no tools needed", history[1].Content)
}

func TestRunToolLoop_DispatchesHandlers(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{ToolCalls: []ToolCall{toolCall("c1", "echo", `{"msg":"hello"}`)}},
		{Text: "finished"},
	}}

	var got string
	handlers := map[string]ToolHandler{
		"echo": func(ctx context.Context, args json.RawMessage) (string, error) {
			var payload struct {
				Msg string `json:"msg"`
			}
			if err := json.Unmarshal(args, &payload); err != nil {
				return "", err
			}
			got = payload.Msg
			return `{"status":"ok"}`, nil
		},
	}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      handlers,
		MaxIterations: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// user, assistant(tool call), tool result, assistant(final)
	require.Len(t, history, 4)
	assert.Equal(t, RoleTool, history[2].Role)
	assert.Equal(t, "c1", history[2].ToolCallID)
	assert.Equal(t, `{"status":"ok"}`, history[2].Content)
}

func TestRunToolLoop_HandlerErrorDoesNotAbort(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{ToolCalls: []ToolCall{toolCall("c1", "boom", `{}`)}},
		{Text: "recovered"},
	}}

	handlers := map[string]ToolHandler{
		"boom": func(ctx context.Context, args json.RawMessage) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      handlers,
		MaxIterations: 5,
	})
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(history[2].Content), &result))
	assert.Contains(t, result["error"], "backend unavailable")
	assert.Equal(t, "recovered", history[3].Content)
}

func TestRunToolLoop_HandlerPanicIsContained(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{ToolCalls: []ToolCall{toolCall("c1", "panicky", `{}`)}},
		{Text: "still alive"},
	}}

	handlers := map[string]ToolHandler{
		"panicky": func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("nil map write")
		},
	}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      handlers,
		MaxIterations: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, history[2].Content, "panicked")
	assert.Equal(t, "still alive", history[3].Content)
}

func TestRunToolLoop_UnknownToolSynthesizesError(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{ToolCalls: []ToolCall{toolCall("c1", "no_such_tool", `{}`)}},
		{Text: "ok"},
	}}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      map[string]ToolHandler{},
		MaxIterations: 5,
	})
	require.NoError(t, err)
	assert.Contains(t, history[2].Content, "unknown tool: no_such_tool")
}

func TestRunToolLoop_HaltsAtMaxIterations(t *testing.T) {
	// The model requests a tool call on every turn and never finishes.
	caller := &scriptedCaller{turns: []ChatTurn{
		{ToolCalls: []ToolCall{toolCall("c1", "loop", `{}`)}},
	}}

	handlers := map[string]ToolHandler{
		"loop": func(ctx context.Context, args json.RawMessage) (string, error) {
			return `{"again":true}`, nil
		},
	}

	history, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      handlers,
		MaxIterations: 3,
	})
	require.NoError(t, err, "hitting the iteration cap is not an error")
	assert.Equal(t, 3, caller.calls)
	// user + 3 * (assistant + tool result)
	assert.Len(t, history, 7)
}

func TestRunToolLoop_OnTextCallback(t *testing.T) {
	caller := &scriptedCaller{turns: []ChatTurn{
		{Text: "thinking about mods", ToolCalls: []ToolCall{toolCall("c1", "noop", `{}`)}},
		{Text: "done"},
	}}

	handlers := map[string]ToolHandler{
		"noop": func(ctx context.Context, args json.RawMessage) (string, error) {
			return "{}", nil
		},
	}

	var texts []string
	_, err := RunToolLoop(context.Background(), caller, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		Handlers:      handlers,
		MaxIterations: 5,
		OnText:        func(text string) { texts = append(texts, text) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"thinking about mods", "done"}, texts)
}

func TestRunToolLoop_BackendErrorPropagates(t *testing.T) {
	failing := chatCallerFunc(func(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error) {
		return nil, fmt.Errorf("connection refused")
	})

	_, err := RunToolLoop(context.Background(), failing, ToolSession{
		Messages:      []Message{{Role: RoleUser, Content: "go"}},
		MaxIterations: 5,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

type chatCallerFunc func(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error)

func (f chatCallerFunc) ChatTurn(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error) {
	return f(ctx, messages, tools)
}

func TestToAnthropicMessages_RoundTripShapes(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "you are a curator"},
		{Role: RoleUser, Content: "build a list"},
		{Role: RoleAssistant, Content: "searching", ToolCalls: []ToolCall{
			toolCall("t1", "search_nexus", `{"query":"combat"}`),
		}},
		{Role: RoleTool, ToolCallID: "t1", Content: `{"results":[]}`},
	}

	system, apiMessages := toAnthropicMessages(messages)
	assert.Equal(t, "you are a curator", system)
	require.Len(t, apiMessages, 3)

	assert.Equal(t, "user", apiMessages[0].Role)
	assert.Equal(t, "assistant", apiMessages[1].Role)
	require.Len(t, apiMessages[1].Content, 2)
	assert.Equal(t, "tool_use", apiMessages[1].Content[1].Type)

	assert.Equal(t, "user", apiMessages[2].Role)
	require.Len(t, apiMessages[2].Content, 1)
	assert.Equal(t, "tool_result", apiMessages[2].Content[0].Type)
	assert.Equal(t, "t1", apiMessages[2].Content[0].ToolUseID)
}
