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

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
)

// OpenAICompatibleProvider speaks the OpenAI chat completions protocol.
// It serves OpenAI itself and every compatible backend (Groq, Together,
// DeepSeek, Mistral, Gemini's compatibility endpoint, Ollama).
type OpenAICompatibleProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAICompatibleProvider builds a provider from explicit credentials.
//
// Inputs:
//
//	baseURL - API endpoint. Empty means api.openai.com.
//	apiKey - Bearer token for the backend ("ollama" works for Ollama).
//	model - Model identifier sent with every request.
func NewOpenAICompatibleProvider(baseURL, apiKey, model string) *OpenAICompatibleProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICompatibleProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: slog.Default(),
	}
}

// Name implements Provider.
func (p *OpenAICompatibleProvider) Name() string { return p.model }

// Generate implements Provider.
func (p *OpenAICompatibleProvider) Generate(ctx context.Context, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAICompatibleProvider.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", p.model))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools implements Provider by delegating to the shared loop.
func (p *OpenAICompatibleProvider) GenerateWithTools(ctx context.Context, session ToolSession) ([]Message, error) {
	return RunToolLoop(ctx, p, session)
}

// ChatTurn implements ChatCaller: one round trip in the backend's native
// inline function-call shape, translated to and from the uniform types.
func (p *OpenAICompatibleProvider) ChatTurn(ctx context.Context, messages []Message, tools []ToolSpec) (*ChatTurn, error) {
	ctx, span := tracer.Start(ctx, "OpenAICompatibleProvider.ChatTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", p.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(messages),
		Tools:       toOpenAITools(tools),
		Temperature: 0.3,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	msg := resp.Choices[0].Message
	turn := &ChatTurn{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	p.logger.Debug("openai-compatible turn complete",
		slog.String("model", p.model),
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
		slog.Int("tool_calls", len(turn.ToolCalls)),
	)
	return turn, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		cm := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
		if m.Role == RoleTool {
			cm.Role = openai.ChatMessageRoleTool
			cm.ToolCallID = m.ToolCallID
			cm.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, cm)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
