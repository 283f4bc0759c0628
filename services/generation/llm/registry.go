// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

// backendKind selects the wire translation for a provider family.
type backendKind int

const (
	// kindOpenAICompatible covers every backend speaking the OpenAI chat
	// completions protocol (OpenAI, Groq, Together, DeepSeek, Mistral,
	// Gemini's compatibility endpoint, Ollama).
	kindOpenAICompatible backendKind = iota

	// kindAnthropicNative is the Anthropic messages API with content
	// blocks.
	kindAnthropicNative
)

// RegistryEntry describes one known provider id.
//
// To support a new OpenAI-compatible backend, append an entry here; no
// other code changes are needed.
type RegistryEntry struct {
	// ID is the identifier carried in request credentials.
	ID string `json:"id"`

	// DisplayName is shown in UIs and events.
	DisplayName string `json:"name"`

	// DefaultModel is used when the credential has no model override.
	DefaultModel string `json:"model"`

	// BaseURL is the default endpoint. Empty for native-protocol backends.
	BaseURL string `json:"base_url,omitempty"`

	kind backendKind
}

// providerRegistry is the ordered list of known provider ids.
var providerRegistry = []RegistryEntry{
	{
		ID:           "anthropic",
		DisplayName:  "Anthropic",
		DefaultModel: "claude-sonnet-4-20250514",
		kind:         kindAnthropicNative,
	},
	{
		ID:           "openai",
		DisplayName:  "OpenAI",
		DefaultModel: "gpt-4o",
		BaseURL:      "https://api.openai.com/v1",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "gemini",
		DisplayName:  "Google Gemini",
		DefaultModel: "gemini-2.0-flash",
		BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai/",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "groq",
		DisplayName:  "Groq",
		DefaultModel: "llama-3.3-70b-versatile",
		BaseURL:      "https://api.groq.com/openai/v1",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "together",
		DisplayName:  "Together AI",
		DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		BaseURL:      "https://api.together.xyz/v1",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "deepseek",
		DisplayName:  "DeepSeek",
		DefaultModel: "deepseek-chat",
		BaseURL:      "https://api.deepseek.com/v1",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "mistral",
		DisplayName:  "Mistral AI",
		DefaultModel: "mistral-large-latest",
		BaseURL:      "https://api.mistral.ai/v1",
		kind:         kindOpenAICompatible,
	},
	{
		ID:           "ollama",
		DisplayName:  "Ollama",
		DefaultModel: "qwen3:14b",
		BaseURL:      "http://localhost:11434/v1",
		kind:         kindOpenAICompatible,
	},
}

// LookupProvider returns the registry entry for id, or false if unknown.
func LookupProvider(id string) (RegistryEntry, bool) {
	for _, entry := range providerRegistry {
		if entry.ID == id {
			return entry, true
		}
	}
	return RegistryEntry{}, false
}

// KnownProviders returns a copy of the registry for API exposure.
func KnownProviders() []RegistryEntry {
	out := make([]RegistryEntry, len(providerRegistry))
	copy(out, providerRegistry)
	return out
}
