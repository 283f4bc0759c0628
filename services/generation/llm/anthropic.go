// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const (
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1/messages"
	anthropicMaxTokens      = 4096
)

// --- Wire types ---
//
// The Anthropic messages API represents tool use as distinct content-block
// types rather than inline function calls: the model emits "tool_use"
// blocks, and results go back as "tool_result" blocks inside a user
// message. All of that stays inside this file.

type anthropicRequest struct {
	Model     string              `json:"model"`
	Messages  []anthropicMessage  `json:"messages"`
	System    string              `json:"system,omitempty"`
	MaxTokens int                 `json:"max_tokens"`
	Tools     []anthropicToolSpec `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	// Text blocks.
	Text string `json:"text,omitempty"`

	// Tool use blocks (model -> caller).
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result blocks (caller -> model).
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Role       string           `json:"role"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Error      *anthropicError  `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Provider ---

// AnthropicProvider speaks the native Anthropic messages API.
type AnthropicProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

// NewAnthropicProvider builds a provider from explicit credentials.
func NewAnthropicProvider(baseURL, apiKey, model string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		logger:     slog.Default(),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return p.model }

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, system, user string) (string, error) {
	resp, err := p.send(ctx, anthropicRequest{
		Model:  p.model,
		System: system,
		Messages: []anthropicMessage{
			{Role: "user", Content: []anthropicBlock{{Type: "text", Text: user}}},
		},
		MaxTokens: anthropicMaxTokens,
	})
	if err != nil {
		return "", err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return text, nil
}

// GenerateWithTools implements Provider by delegating to the shared loop.
func (p *AnthropicProvider) GenerateWithTools(ctx context.Context, session ToolSession) ([]Message, error) {
	return RunToolLoop(ctx, p, session)
}

// ChatTurn implements ChatCaller: one round trip translated between the
// uniform message shape and Anthropic content blocks.
func (p *AnthropicProvider) ChatTurn(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error) {
	ctx, span := tracer.Start(ctx, "AnthropicProvider.ChatTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", p.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	system, apiMessages := toAnthropicMessages(messages)

	req := anthropicRequest{
		Model:     p.model,
		System:    system,
		Messages:  apiMessages,
		MaxTokens: anthropicMaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	resp, err := p.send(ctx, req)
	if err != nil {
		return nil, err
	}

	turn := &ChatTurn{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			turn.Text += block.Text
		case "tool_use":
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	p.logger.Debug("anthropic turn complete",
		slog.String("model", p.model),
		slog.String("stop_reason", resp.StopReason),
		slog.Int("tool_calls", len(turn.ToolCalls)),
	)
	return turn, nil
}

func (p *AnthropicProvider) send(ctx context.Context, payload anthropicRequest) (*anthropicResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	return &apiResp, nil
}

// toAnthropicMessages converts the uniform history into Anthropic's block
// shape. System messages become the top-level system prompt; RoleTool
// messages become tool_result blocks in a user message, with consecutive
// results for one assistant turn merged into a single user message as the
// API requires.
func toAnthropicMessages(messages []Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage

	flushResults := func(results []anthropicBlock) []anthropicBlock {
		if len(results) > 0 {
			out = append(out, anthropicMessage{Role: "user", Content: results})
		}
		return nil
	}

	var pendingResults []anthropicBlock
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleTool:
			pendingResults = append(pendingResults, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
		case RoleAssistant:
			pendingResults = flushResults(pendingResults)
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			}
		default:
			pendingResults = flushResults(pendingResults)
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}
	flushResults(pendingResults)

	return system, out
}
