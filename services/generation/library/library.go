// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package library loads the game catalog: supported games, playstyles,
// and each game's ordered build phases, from a YAML file.
package library

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/moddersomni/modforge/services/generation/datatypes"
)

// Library is the loaded game catalog. Read-only after Load.
type Library struct {
	games      map[string]datatypes.Game
	playstyles map[string]datatypes.Playstyle
	phases     map[string][]datatypes.BuildPhase
}

// file is the YAML document shape.
type file struct {
	Games      []datatypes.Game                  `yaml:"games"`
	Playstyles []datatypes.Playstyle             `yaml:"playstyles"`
	Phases     map[string][]datatypes.BuildPhase `yaml:"phases"`
}

// Load reads and validates a library file.
//
// Phases are sorted by phase number per game; a game listed without phases
// is allowed (generation for it fails at run start, not at load).
func Load(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading library file: %w", err)
	}
	var doc file
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing library file %s: %w", path, err)
	}

	lib := &Library{
		games:      make(map[string]datatypes.Game, len(doc.Games)),
		playstyles: make(map[string]datatypes.Playstyle, len(doc.Playstyles)),
		phases:     make(map[string][]datatypes.BuildPhase, len(doc.Phases)),
	}
	for _, g := range doc.Games {
		if g.ID == "" || g.Domain == "" {
			return nil, fmt.Errorf("game %q missing id or domain", g.Name)
		}
		lib.games[g.ID] = g
	}
	for _, p := range doc.Playstyles {
		if p.ID == "" {
			return nil, fmt.Errorf("playstyle %q missing id", p.Name)
		}
		lib.playstyles[p.ID] = p
	}
	for gameID, phases := range doc.Phases {
		if _, ok := lib.games[gameID]; !ok {
			return nil, fmt.Errorf("phases reference unknown game %q", gameID)
		}
		sorted := append([]datatypes.BuildPhase(nil), phases...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].PhaseNumber < sorted[j].PhaseNumber
		})
		for i, phase := range sorted {
			if phase.PhaseNumber <= 0 {
				return nil, fmt.Errorf("game %q phase %d has invalid phase_number", gameID, i)
			}
			if phase.MaxMods <= 0 {
				return nil, fmt.Errorf("game %q phase %q has invalid max_mods", gameID, phase.Name)
			}
		}
		lib.phases[gameID] = sorted
	}
	return lib, nil
}

// Game looks up a game by id.
func (l *Library) Game(id string) (datatypes.Game, bool) {
	g, ok := l.games[id]
	return g, ok
}

// Playstyle looks up a playstyle by id.
func (l *Library) Playstyle(id string) (datatypes.Playstyle, bool) {
	p, ok := l.playstyles[id]
	return p, ok
}

// Phases returns a game's ordered build phases, possibly empty.
func (l *Library) Phases(gameID string) []datatypes.BuildPhase {
	return l.phases[gameID]
}

// Games lists all games, ordered by id.
func (l *Library) Games() []datatypes.Game {
	out := make([]datatypes.Game, 0, len(l.games))
	for _, g := range l.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Playstyles lists all playstyles, ordered by id.
func (l *Library) Playstyles() []datatypes.Playstyle {
	out := make([]datatypes.Playstyle, 0, len(l.playstyles))
	for _, p := range l.playstyles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
