// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator implements the agentic modlist generation pipeline.
//
// A run iterates ordered per-game build phases. Each phase drives an LLM
// through a bounded tool-calling conversation against the Nexus catalog,
// accumulating results into a shared Session. Catalog calls go through a
// retry wrapper with class-dependent backoff; provider failures fall back
// across the request's ordered credential list; when every provider fails
// a phase, the pipeline pauses with a resumable session snapshot instead
// of failing the run.
package generator

import (
	"context"
	"strconv"

	"github.com/moddersomni/modforge/services/generation/nexus"
)

// CatalogClient is the slice of the Nexus client the generator consumes.
// Satisfied by *nexus.Client; faked in tests.
type CatalogClient interface {
	SearchMods(ctx context.Context, domain, term, sortBy string) ([]nexus.ModSummary, error)
	GetModDetails(ctx context.Context, domain string, modID int) (*nexus.ModDetails, error)
}

// ModEntry is one mod in the accumulating modlist. Patch entries reuse the
// same shape with IsPatch set and PatchesMods naming their targets.
type ModEntry struct {
	NexusModID      int      `json:"nexus_mod_id"`
	Name            string   `json:"name"`
	Author          string   `json:"author,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Reason          string   `json:"reason"`
	LoadOrder       int      `json:"load_order"`
	EstimatedSizeMB int      `json:"estimated_size_mb,omitempty"`
	IsPatch         bool     `json:"is_patch"`
	PatchesMods     []string `json:"patches_mods,omitempty"`
}

// KnowledgeFlag records a compatibility issue between two mods for which
// no patch exists yet.
type KnowledgeFlag struct {
	ModA     string `json:"mod_a"`
	ModB     string `json:"mod_b"`
	Issue    string `json:"issue"`
	Severity string `json:"severity"`
}

// Session is the mutable accumulator threaded through every phase of one
// generation run.
//
// # Thread Safety
//
// Session is single-writer: only the pipeline goroutine driving the run
// mutates it. Concurrent catalog calls within a phase never share it.
type Session struct {
	// Domain is the Nexus game domain the run targets.
	Domain string

	// Catalog is the live client binding. It is never serialized; resume
	// re-injects a fresh one.
	Catalog CatalogClient

	Mods    []ModEntry
	Patches []ModEntry
	Flags   []KnowledgeFlag

	// DescriptionCache maps mod id to its stripped page description, so
	// the patch review phase rereads pages fetched during discovery
	// without another catalog round trip.
	DescriptionCache map[int]string

	// Finalized is set by the finalize tools; the pipeline resets it at
	// the start of each provider attempt.
	Finalized bool

	// CompletedPhases lists phase numbers finished so far, in order.
	CompletedPhases []int
}

// NewSession creates an empty session bound to a catalog client.
func NewSession(domain string, catalog CatalogClient) *Session {
	return &Session{
		Domain:           domain,
		Catalog:          catalog,
		DescriptionCache: make(map[int]string),
	}
}

// SessionSnapshot is the serializable form of a Session, stored verbatim
// when a run pauses. Cache keys are strings because JSON object keys are.
type SessionSnapshot struct {
	Domain           string            `json:"game_domain"`
	Mods             []ModEntry        `json:"modlist"`
	Patches          []ModEntry        `json:"patches"`
	Flags            []KnowledgeFlag   `json:"knowledge_flags"`
	DescriptionCache map[string]string `json:"description_cache"`
	CompletedPhases  []int             `json:"completed_phases"`
}

// Snapshot serializes the session state for pause/resume. The catalog
// binding and the per-attempt Finalized marker are deliberately excluded.
func (s *Session) Snapshot() *SessionSnapshot {
	snap := &SessionSnapshot{
		Domain:           s.Domain,
		Mods:             append([]ModEntry(nil), s.Mods...),
		Patches:          append([]ModEntry(nil), s.Patches...),
		Flags:            append([]KnowledgeFlag(nil), s.Flags...),
		DescriptionCache: make(map[string]string, len(s.DescriptionCache)),
		CompletedPhases:  append([]int(nil), s.CompletedPhases...),
	}
	for id, desc := range s.DescriptionCache {
		snap.DescriptionCache[strconv.Itoa(id)] = desc
	}
	return snap
}

// RestoreSession reconstructs a session from a snapshot with a fresh
// catalog binding. Entries, patches, flags, cache, and completed phases
// come back verbatim; the round trip through Snapshot is lossless.
func RestoreSession(snap *SessionSnapshot, catalog CatalogClient) *Session {
	session := &Session{
		Domain:           snap.Domain,
		Catalog:          catalog,
		Mods:             append([]ModEntry(nil), snap.Mods...),
		Patches:          append([]ModEntry(nil), snap.Patches...),
		Flags:            append([]KnowledgeFlag(nil), snap.Flags...),
		DescriptionCache: make(map[int]string, len(snap.DescriptionCache)),
		CompletedPhases:  append([]int(nil), snap.CompletedPhases...),
	}
	for key, desc := range snap.DescriptionCache {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		session.DescriptionCache[id] = desc
	}
	return session
}
