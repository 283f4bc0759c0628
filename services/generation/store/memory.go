// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists finished modlists. The in-memory implementation
// backs the serve path; swapping in a durable backend only requires
// implementing generator.Persistence.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moddersomni/modforge/services/generation/datatypes"
	"github.com/moddersomni/modforge/services/generation/generator"
)

// SavedModlist is one persisted generation result.
type SavedModlist struct {
	ID          string                    `json:"id"`
	GameID      string                    `json:"game_id"`
	PlaystyleID string                    `json:"playstyle_id"`
	GameVersion string                    `json:"game_version,omitempty"`
	Entries     []generator.ModEntry      `json:"entries"`
	Flags       []generator.KnowledgeFlag `json:"knowledge_flags"`
	Provider    string                    `json:"llm_provider"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Memory is an in-memory modlist store.
//
// # Thread Safety
//
// Memory is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	modlists map[string]*SavedModlist
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{modlists: make(map[string]*SavedModlist)}
}

// SaveModlist stores a finished result and returns its durable id.
// Implements generator.Persistence.
func (m *Memory) SaveModlist(ctx context.Context, req *datatypes.GenerateRequest, result *generator.Result) (string, error) {
	saved := &SavedModlist{
		ID:          uuid.NewString(),
		GameID:      req.GameID,
		PlaystyleID: req.PlaystyleID,
		GameVersion: req.GameVersion,
		Entries:     result.Entries,
		Flags:       result.Flags,
		Provider:    result.Provider,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	m.modlists[saved.ID] = saved
	m.mu.Unlock()
	return saved.ID, nil
}

// Get returns a saved modlist, or false if unknown.
func (m *Memory) Get(id string) (*SavedModlist, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	saved, ok := m.modlists[id]
	return saved, ok
}
