// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"fmt"
	"strings"

	"github.com/moddersomni/modforge/services/generation/datatypes"
)

// Defaults used when the request omits hardware hints.
const (
	defaultVRAMMB    = 6144
	defaultStorageGB = 50

	// storageBudgetFloorGB keeps the budget usable even on nearly full
	// disks.
	storageBudgetFloorGB = 10
)

// tierVRAMPct is the share of reported VRAM the modlist may budget, by
// hardware tier. Lower tiers keep more headroom for the base game.
var tierVRAMPct = map[string]float64{
	"low":   0.60,
	"mid":   0.70,
	"high":  0.80,
	"ultra": 0.85,
}

// versionNotes are edition-specific constraints injected into prompts.
var versionNotes = map[string]string{
	"SE":       "User is on Skyrim SE (not Anniversary Edition). Do NOT include AE-only mods or Creation Club content mods.",
	"AE":       "User is on Skyrim AE (Anniversary Edition) with all Creation Club content. Include AE-specific fixes and enhancements where relevant.",
	"Standard": "User is on classic Fallout 4 (pre-Next-Gen Update). Use classic F4SE and Buffout 4 (not NG versions). Some newer mods may not be compatible.",
	"Next-Gen": "User is on Fallout 4 Next-Gen Update. Use Next-Gen compatible F4SE and Buffout 4 NG. Some older mods may need NG-compatible versions.",
}

func versionNotesFor(gameVersion string) string {
	if note, ok := versionNotes[gameVersion]; ok {
		return note
	}
	return "No specific version selected."
}

// budgets derives the VRAM and storage budgets for a request.
func budgets(req *datatypes.GenerateRequest) (vramBudgetMB, storageBudgetGB int) {
	vram := req.VRAMMB
	if vram <= 0 {
		vram = defaultVRAMMB
	}
	pct, ok := tierVRAMPct[req.HardwareTier]
	if !ok {
		pct = 0.75
	}
	vramBudgetMB = int(float64(vram) * pct)

	storage := req.AvailableStorageGB
	if storage <= 0 {
		storage = defaultStorageGB
	}
	storageBudgetGB = int(float64(storage) * 0.80)
	if storageBudgetGB < storageBudgetFloorGB {
		storageBudgetGB = storageBudgetFloorGB
	}
	return vramBudgetMB, storageBudgetGB
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// buildHardwareContext renders the hardware block shared by discovery
// prompts.
func buildHardwareContext(req *datatypes.GenerateRequest, vramBudgetMB, storageBudgetGB int) string {
	vram := req.VRAMMB
	if vram <= 0 {
		vram = defaultVRAMMB
	}
	storage := req.AvailableStorageGB
	if storage <= 0 {
		storage = defaultStorageGB
	}
	ram := "Unknown"
	if req.RAMGB > 0 {
		ram = fmt.Sprintf("%d", req.RAMGB)
	}
	tier := req.HardwareTier
	if tier == "" {
		tier = "mid"
	}

	return fmt.Sprintf(`USER HARDWARE:
- GPU: %s (%dMB VRAM)
- CPU: %s
- RAM: %sGB
- Available disk space: %dGB (budget: %dGB)
- VRAM budget: %dMB
- Hardware tier: %s`,
		orUnknown(req.GPU), vram,
		orUnknown(req.CPU),
		ram,
		storage, storageBudgetGB,
		vramBudgetMB,
		tier,
	)
}

// modlistSoFar renders the already-added mods block for later phases.
func modlistSoFar(session *Session) string {
	if len(session.Mods) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nMODS ALREADY IN YOUR MODLIST (from earlier phases, do NOT re-add these):\n")
	for i, m := range session.Mods {
		fmt.Fprintf(&b, "  %d. %s (Nexus ID: %d)\n", i+1, m.Name, m.NexusModID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildPhasePrompt builds the focused system prompt for one discovery
// phase.
func buildPhasePrompt(
	phase datatypes.BuildPhase,
	game datatypes.Game,
	playstyle datatypes.Playstyle,
	gameVersion string,
	hardwareContext string,
	session *Session,
	totalPhases int,
) string {
	var playstyleContext string
	if phase.IsPlaystyleDriven {
		playstyleContext = fmt.Sprintf(`PLAYSTYLE FOCUS: %s
The user wants a %s experience. Your mod choices in this phase should
directly support this playstyle. Prioritize mods that enhance the %s feel.`,
			playstyle.Name, playstyle.Name, playstyle.Name)
	} else {
		playstyleContext = fmt.Sprintf(`PLAYSTYLE: %s (for context; this phase is not heavily playstyle-driven,
but keep the overall experience in mind).`, playstyle.Name)
	}

	examples := ""
	if phase.ExampleMods != "" {
		examples = fmt.Sprintf(
			"EXAMPLE MODS (for reference; verify these exist and are current before adding):\n%s\n",
			phase.ExampleMods,
		)
	}

	return fmt.Sprintf(`You are an expert %s mod curator working on Phase %d/%d: "%s".

GAME: %s (%s edition)
%s

%s

%s

PHASE %d: %s
%s

SEARCH GUIDANCE:
%s

RULES FOR THIS PHASE:
%s

%s%s

INSTRUCTIONS:
1. Search for mods using varied, specific terms related to this phase's focus.
2. Use get_mod_details to read about a mod BEFORE adding it. Check:
   - Compatibility with %s game version
   - Performance impact relative to the user's hardware
   - Whether it actually fits this phase's purpose
3. Add up to %d mods for this phase (fewer is fine if quality is high).
4. Set load_order based on the mod's position within this phase.
5. Call finalize() when you are done with this phase.`,
		game.Name, phase.PhaseNumber, totalPhases, phase.Name,
		game.Name, orUnknown(gameVersion),
		versionNotesFor(gameVersion),
		hardwareContext,
		playstyleContext,
		phase.PhaseNumber, phase.Name,
		phase.Description,
		phase.SearchGuidance,
		phase.Rules,
		examples, modlistSoFar(session),
		orUnknown(gameVersion),
		phase.MaxMods,
	)
}

// buildPatchPhasePrompt builds the system prompt for the final
// compatibility patch review phase.
func buildPatchPhasePrompt(
	phase datatypes.BuildPhase,
	game datatypes.Game,
	gameVersion string,
	session *Session,
	totalPhases int,
) string {
	var summary strings.Builder
	for i, m := range session.Mods {
		fmt.Fprintf(&summary, "  %d. %s (Nexus ID: %d) - %s\n", i+1, m.Name, m.NexusModID, m.Reason)
	}

	return fmt.Sprintf(`You are reviewing a %s (%s edition) modlist for compatibility.

This is Phase %d/%d: "%s".

THE MODLIST TO REVIEW:
%s
%s

RULES:
%s

PROCESS:
1. For each potential conflict pair, FIRST use get_mod_description to check if the
   mod page mentions patches or compatibility notes.
2. If the description doesn't mention a patch, use search_patches to search Nexus.
3. If you find a patch, use add_patch with correct load_order (patches load AFTER the mods they patch).
4. If a patch is NEEDED but doesn't exist, use flag_user_knowledge to alert the user.

IMPORTANT:
- Not every mod pair needs a patch. Only flag genuine conflicts.
- Framework mods (SKSE, Address Library, etc.) don't need patches with each other.
- Focus on mods that edit the same game systems.
- Call finalize_review when done.`,
		game.Name, orUnknown(gameVersion),
		phase.PhaseNumber, totalPhases, phase.Name,
		strings.TrimRight(summary.String(), "\n"),
		phase.SearchGuidance,
		phase.Rules,
	)
}

// buildPhaseUserMsg builds the user message that kicks off a discovery
// phase.
func buildPhaseUserMsg(
	phase datatypes.BuildPhase,
	playstyle datatypes.Playstyle,
	game datatypes.Game,
	gameVersion string,
) string {
	version := gameVersion
	if version == "" {
		version = "any version"
	}
	if phase.IsPlaystyleDriven {
		return fmt.Sprintf(
			"Build the %s section of a %s modlist for %s (%s). Focus on mods that enhance the %s experience.",
			phase.Name, playstyle.Name, game.Name, version, playstyle.Name,
		)
	}
	return fmt.Sprintf("Build the %s section of a modlist for %s (%s).", phase.Name, game.Name, version)
}
