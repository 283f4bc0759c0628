// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire-level data contracts consumed and
// produced by the generation service: the generation request, per-request
// LLM credentials, and the catalog library types (games, playstyles, and
// per-game build phases).
package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credential is one entry in the ordered list of LLM credentials supplied
// with a generation request. Providers are tried in list order when the
// previous one fails a phase.
type Credential struct {
	// Provider is a known provider id (e.g. "anthropic", "openai", "groq").
	Provider string `json:"provider" validate:"required"`

	// APIKey authenticates against the provider.
	APIKey string `json:"api_key" validate:"required"`

	// BaseURL optionally overrides the provider's default endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// Model optionally overrides the provider's default model.
	Model string `json:"model,omitempty"`
}

// GenerateRequest is the input for one modlist generation run.
//
// Hardware fields are opaque hints passed through into prompts; the service
// does not interpret them beyond the budget tables in the generator. The
// hardware tier is supplied by the caller (the frontend classifies the
// machine before submitting).
type GenerateRequest struct {
	GameID      string `json:"game_id" binding:"required" validate:"required"`
	PlaystyleID string `json:"playstyle_id" binding:"required" validate:"required"`

	// GameVersion selects version-specific guidance ("SE", "AE",
	// "Standard", "Next-Gen"). Empty means unspecified.
	GameVersion string `json:"game_version,omitempty"`

	// HardwareTier is one of "low", "mid", "high", "ultra". Defaults to
	// "mid" when empty.
	HardwareTier string `json:"hardware_tier,omitempty" validate:"omitempty,oneof=low mid high ultra"`

	GPU                string  `json:"gpu,omitempty"`
	VRAMMB             int     `json:"vram_mb,omitempty" validate:"omitempty,gte=0"`
	CPU                string  `json:"cpu,omitempty"`
	CPUCores           int     `json:"cpu_cores,omitempty"`
	CPUSpeedGHz        float64 `json:"cpu_speed_ghz,omitempty"`
	RAMGB              int     `json:"ram_gb,omitempty"`
	AvailableStorageGB int     `json:"available_storage_gb,omitempty" validate:"omitempty,gte=0"`

	// Credentials is the ordered provider fallback list. May be empty, in
	// which case the process-wide default provider is used.
	Credentials []Credential `json:"llm_credentials,omitempty" validate:"dive"`
}

// Validate checks the request beyond what gin binding enforces.
func (r *GenerateRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid generation request: %w", err)
	}
	return nil
}
