// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Game identifies one moddable game and its catalog domain.
type Game struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Domain is the Nexus Mods game domain slug
	// (e.g. "skyrimspecialedition").
	Domain string `json:"domain" yaml:"domain"`
}

// Playstyle is a user-selectable style preference that shapes prompts in
// playstyle-driven phases.
type Playstyle struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// Description is free text injected into prompts verbatim.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// BuildPhase is one ordered unit of work in the generation pipeline.
//
// Phases are external per-game configuration consumed verbatim when
// building prompts. The phase with the highest PhaseNumber in a game's
// ordered sequence is, by convention, the compatibility patch review
// phase: it reconciles already-discovered mods instead of discovering
// new ones. That convention is load-bearing — the pipeline selects its
// tool set and prompt builder from it.
type BuildPhase struct {
	// PhaseNumber orders phases within a game. Numbering starts at 1.
	PhaseNumber int `json:"phase_number" yaml:"phase_number"`

	Name string `json:"name" yaml:"name"`

	// Description, SearchGuidance, and Rules are free text consumed
	// verbatim by the prompt builders.
	Description    string `json:"description" yaml:"description"`
	SearchGuidance string `json:"search_guidance" yaml:"search_guidance"`
	Rules          string `json:"rules" yaml:"rules"`

	// ExampleMods lists reference mods for the phase, one per line.
	// Optional.
	ExampleMods string `json:"example_mods,omitempty" yaml:"example_mods,omitempty"`

	// MaxMods caps how many mods the agent may add in this phase. Also
	// bounds the tool-calling loop (MaxMods + 5 iterations).
	MaxMods int `json:"max_mods" yaml:"max_mods"`

	// IsPlaystyleDriven marks phases whose emphasis follows the user's
	// chosen playstyle rather than baseline quality.
	IsPlaystyleDriven bool `json:"is_playstyle_driven" yaml:"is_playstyle_driven"`
}
