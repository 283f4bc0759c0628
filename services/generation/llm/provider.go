// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"log/slog"

	"github.com/moddersomni/modforge/services/generation/datatypes"
)

// DefaultCredentials is the process-wide fallback used when a request
// carries no credentials.
type DefaultCredentials struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// BuildProviders constructs the ordered provider fallback list for one run.
//
// # Description
//
// Each credential entry is resolved against the provider registry and
// turned into a Provider with the entry's key, endpoint, and model
// overrides. Unknown provider ids are skipped with a warning, not a
// failure — a typo in one credential must not kill the run when others
// remain. If no credential resolves, a single default provider is built
// from defaults so local inference still works without any keys.
//
// # Outputs
//
//	[]Provider - Always at least one provider.
func BuildProviders(credentials []datatypes.Credential, defaults DefaultCredentials) []Provider {
	var providers []Provider

	for _, cred := range credentials {
		entry, ok := LookupProvider(cred.Provider)
		if !ok {
			slog.Warn("skipping unknown provider", slog.String("provider", cred.Provider))
			continue
		}
		providers = append(providers, newFromEntry(entry, cred.BaseURL, cred.APIKey, cred.Model))
	}

	if len(providers) == 0 {
		providers = append(providers, defaultProvider(defaults))
	}
	return providers
}

func newFromEntry(entry RegistryEntry, baseURL, apiKey, model string) Provider {
	if baseURL == "" {
		baseURL = entry.BaseURL
	}
	if model == "" {
		model = entry.DefaultModel
	}

	switch entry.kind {
	case kindAnthropicNative:
		return NewAnthropicProvider("", apiKey, model)
	default:
		return NewOpenAICompatibleProvider(baseURL, apiKey, model)
	}
}

func defaultProvider(defaults DefaultCredentials) Provider {
	entry, ok := LookupProvider(defaults.Provider)
	if !ok {
		entry, _ = LookupProvider("ollama")
	}

	apiKey := defaults.APIKey
	if apiKey == "" && entry.ID == "ollama" {
		// Ollama ignores the key but the protocol requires one.
		apiKey = "ollama"
	}

	slog.Info("no request credentials, using default provider",
		slog.String("provider", entry.ID),
	)
	return newFromEntry(entry, defaults.BaseURL, apiKey, defaults.Model)
}
