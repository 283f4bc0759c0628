// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import "github.com/moddersomni/modforge/services/generation/llm"

// discoveryTools is the tool set for discovery phases: search, read, add,
// finalize.
var discoveryTools = []llm.ToolSpec{
	{
		Name: "search_nexus",
		Description: "Search Nexus Mods for mods matching a query. " +
			"Use varied, specific search terms for different mod categories. " +
			"Try different sort orders to discover hidden gems beyond the most popular.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search term (e.g. 'texture overhaul', 'combat', 'UI')",
				},
				"sort_by": map[string]any{
					"type":        "string",
					"enum":        []string{"endorsements", "updated"},
					"description": "Sort order. Use 'updated' to find newer mods.",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name: "get_mod_details",
		Description: "Get full details and description for a specific mod. " +
			"Use this to read about a mod before deciding to include it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mod_id": map[string]any{
					"type":        "integer",
					"description": "Nexus mod ID",
				},
			},
			"required": []string{"mod_id"},
		},
	},
	{
		Name: "add_to_modlist",
		Description: "Add a mod to the modlist. Only add mods you've reviewed " +
			"and believe fit the user's playstyle and hardware.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mod_id": map[string]any{
					"type":        "integer",
					"description": "Nexus mod ID",
				},
				"name":   map[string]any{"type": "string"},
				"author": map[string]any{"type": "string"},
				"summary": map[string]any{
					"type":        "string",
					"description": "Short summary of the mod",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why this mod fits the user's playstyle",
				},
				"load_order": map[string]any{
					"type":        "integer",
					"description": "Position in load order",
				},
				"estimated_size_mb": map[string]any{
					"type":        "integer",
					"description": "Estimated download size in MB",
				},
			},
			"required": []string{"mod_id", "name", "reason", "load_order"},
		},
	},
	{
		Name: "finalize",
		Description: "Call when you are done with this phase. Do not call this " +
			"until you have added all desired mods for this phase.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

// patchReviewTools is the tool set for the final reconciliation phase:
// read cached descriptions, search for patches, add them, flag gaps.
var patchReviewTools = []llm.ToolSpec{
	{
		Name: "get_mod_description",
		Description: "Get the full description of a mod page. " +
			"Check this FIRST for patch links and compatibility notes before searching.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mod_id": map[string]any{
					"type":        "integer",
					"description": "Nexus mod ID",
				},
			},
			"required": []string{"mod_id"},
		},
	},
	{
		Name:        "search_patches",
		Description: "Search Nexus for compatibility patches between mods.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search term (e.g. 'SkyUI USSEP patch')",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name:        "add_patch",
		Description: "Add a compatibility patch mod to the modlist.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mod_id": map[string]any{
					"type":        "integer",
					"description": "Nexus mod ID of the patch",
				},
				"name":   map[string]any{"type": "string"},
				"author": map[string]any{"type": "string"},
				"patches_mods": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Names of the mods this patches",
				},
				"reason":     map[string]any{"type": "string"},
				"load_order": map[string]any{"type": "integer"},
			},
			"required": []string{"mod_id", "name", "patches_mods", "reason", "load_order"},
		},
	},
	{
		Name: "flag_user_knowledge",
		Description: "Flag a compatibility issue where no patch exists yet. " +
			"This helps the user know where future AI-generated patches may be needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mod_a": map[string]any{
					"type":        "string",
					"description": "First mod name",
				},
				"mod_b": map[string]any{
					"type":        "string",
					"description": "Second mod name",
				},
				"issue": map[string]any{
					"type":        "string",
					"description": "Description of the compatibility issue",
				},
				"severity": map[string]any{
					"type": "string",
					"enum": []string{"warning", "critical"},
				},
			},
			"required": []string{"mod_a", "mod_b", "issue", "severity"},
		},
	},
	{
		Name:        "finalize_review",
		Description: "Call when you are done reviewing all mods for patches.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}
