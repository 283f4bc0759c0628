// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populatedSession(catalog CatalogClient) *Session {
	session := NewSession("skyrimspecialedition", catalog)
	session.Mods = []ModEntry{
		{NexusModID: 12604, Name: "SkyUI", Author: "SkyUI Team", Reason: "UI overhaul", LoadOrder: 1},
		{NexusModID: 266, Name: "USSEP", Reason: "bug fixes", LoadOrder: 2, EstimatedSizeMB: 250},
	}
	session.Patches = []ModEntry{
		{NexusModID: 9999, Name: "SkyUI USSEP Patch", Reason: "menu fix", LoadOrder: 3,
			IsPatch: true, PatchesMods: []string{"SkyUI", "USSEP"}},
	}
	session.Flags = []KnowledgeFlag{
		{ModA: "SkyUI", ModB: "Some Overhaul", Issue: "menu conflict", Severity: "warning"},
	}
	session.DescriptionCache[12604] = "An elegant, PC-friendly interface."
	session.DescriptionCache[266] = "Comprehensive bugfixing mod."
	session.CompletedPhases = []int{1, 2}
	return session
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	catalog := &fakeCatalog{}
	original := populatedSession(catalog)

	snap := original.Snapshot()
	freshCatalog := &fakeCatalog{}
	restored := RestoreSession(snap, freshCatalog)

	assert.Equal(t, original.Domain, restored.Domain)
	assert.Equal(t, original.Mods, restored.Mods)
	assert.Equal(t, original.Patches, restored.Patches)
	assert.Equal(t, original.Flags, restored.Flags)
	assert.Equal(t, original.DescriptionCache, restored.DescriptionCache)
	assert.Equal(t, original.CompletedPhases, restored.CompletedPhases)
	assert.Same(t, freshCatalog, restored.Catalog.(*fakeCatalog))

	// Finalized is per-attempt state and never survives the round trip.
	original.Finalized = true
	restored2 := RestoreSession(original.Snapshot(), freshCatalog)
	assert.False(t, restored2.Finalized)
}

func TestSessionSnapshotSurvivesJSON(t *testing.T) {
	original := populatedSession(&fakeCatalog{})

	// The snapshot must round-trip through its stored JSON form, since
	// pauses persist it as a blob.
	raw, err := json.Marshal(original.Snapshot())
	require.NoError(t, err)

	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored := RestoreSession(&snap, &fakeCatalog{})

	assert.Equal(t, original.Mods, restored.Mods)
	assert.Equal(t, original.Patches, restored.Patches)
	assert.Equal(t, original.Flags, restored.Flags)
	assert.Equal(t, original.DescriptionCache, restored.DescriptionCache)
	assert.Equal(t, original.CompletedPhases, restored.CompletedPhases)
}

func TestSnapshotIsDetachedFromSession(t *testing.T) {
	session := populatedSession(&fakeCatalog{})
	snap := session.Snapshot()

	session.Mods = append(session.Mods, ModEntry{NexusModID: 1, Name: "Later"})
	session.DescriptionCache[1] = "later"

	assert.Len(t, snap.Mods, 2)
	assert.Len(t, snap.DescriptionCache, 2)
}

func TestRestoreSessionEmptySnapshot(t *testing.T) {
	restored := RestoreSession(&SessionSnapshot{Domain: "fallout4"}, &fakeCatalog{})
	assert.Equal(t, "fallout4", restored.Domain)
	assert.Empty(t, restored.Mods)
	assert.NotNil(t, restored.DescriptionCache)
	assert.Empty(t, restored.CompletedPhases)
}
