// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/moddersomni/modforge/services/generation/llm"
	"github.com/moddersomni/modforge/services/generation/nexus"
)

const (
	// searchResultLimit bounds how many discovery search rows are fed back
	// to the model; patchSearchLimit bounds the patch phase's searches.
	searchResultLimit = 15
	patchSearchLimit  = 10

	// summaryTruncate caps per-result summaries in tool output.
	summaryTruncate = 200

	// sampleNameCount is how many result names go into search_results
	// events.
	sampleNameCount = 5

	// descriptionTruncate caps cached mod page descriptions.
	descriptionTruncate = 3000
)

var (
	brTags     = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlTags   = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// stripHTML reduces a mod page's description HTML to plain text, truncated
// so a handful of cached descriptions cannot blow the prompt budget.
func stripHTML(html string) string {
	text := brTags.ReplaceAllString(html, "\n")
	text = htmlTags.ReplaceAllString(text, " ")
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if len(text) > descriptionTruncate {
		text = text[:descriptionTruncate] + "... [truncated]"
	}
	return text
}

// decodeArgs decodes a tool call's argument payload into a typed struct,
// rejecting unknown fields so schema drift between the tool spec and the
// handler surfaces as an explicit error result instead of silent data loss.
func decodeArgs(args json.RawMessage, into any) error {
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decoding tool arguments: %w", err)
	}
	return nil
}

// toolJSON marshals a handler result. The payloads are maps of primitives;
// marshaling cannot fail on them.
func toolJSON(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

// searchRow is one search result row fed back to the model.
type searchRow struct {
	ModID        int    `json:"mod_id"`
	Name         string `json:"name"`
	Author       string `json:"author"`
	Summary      string `json:"summary"`
	Endorsements int    `json:"endorsements"`
	Category     string `json:"category,omitempty"`
	Updated      string `json:"updated,omitempty"`
}

func toSearchRows(results []nexus.ModSummary, limit int, withDates bool) []searchRow {
	if len(results) > limit {
		results = results[:limit]
	}
	rows := make([]searchRow, 0, len(results))
	for _, m := range results {
		summary := m.Summary
		if len(summary) > summaryTruncate {
			summary = summary[:summaryTruncate]
		}
		row := searchRow{
			ModID:        m.ModID,
			Name:         m.Name,
			Author:       m.Author,
			Summary:      summary,
			Endorsements: m.Endorsements,
		}
		if withDates {
			row.Category = m.Category
			row.Updated = m.UpdatedAt
		}
		rows = append(rows, row)
	}
	return rows
}

func sampleNames(rows []searchRow) []string {
	n := len(rows)
	if n > sampleNameCount {
		n = sampleNameCount
	}
	names := make([]string, 0, n)
	for _, row := range rows[:n] {
		names = append(names, row.Name)
	}
	return names
}

// buildDiscoveryHandlers wires the discovery tool set to a session.
//
// Handlers return JSON the model reads directly. Catalog failures after
// retries become error payloads telling the agent to adjust, never Go
// errors, so one flaky search cannot end a phase.
func buildDiscoveryHandlers(session *Session, retry RetryPolicy, emit EmitFunc) map[string]llm.ToolHandler {
	return map[string]llm.ToolHandler{
		"search_nexus": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				Query  string `json:"query"`
				SortBy string `json:"sort_by"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}
			if params.SortBy == "" {
				params.SortBy = "endorsements"
			}

			emit("searching", map[string]any{"query": params.Query})
			results, err := withRetry(ctx, retry, emit, func(ctx context.Context) ([]nexus.ModSummary, error) {
				return session.Catalog.SearchMods(ctx, session.Domain, params.Query, params.SortBy)
			})
			if err != nil {
				slog.Warn("nexus search failed after retries", slog.String("error", err.Error()))
				return toolJSON(map[string]any{
					"error": "Search temporarily unavailable. Try a different query.",
				}), nil
			}

			rows := toSearchRows(results, searchResultLimit, true)
			emit("search_results", map[string]any{
				"count":        len(rows),
				"sample_names": sampleNames(rows),
			})
			return toolJSON(map[string]any{"results": rows, "count": len(rows)}), nil
		},

		"get_mod_details": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				ModID int `json:"mod_id"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			emit("reading_mod", map[string]any{"mod_id": params.ModID})
			details, err := withRetry(ctx, retry, emit, func(ctx context.Context) (*nexus.ModDetails, error) {
				return session.Catalog.GetModDetails(ctx, session.Domain, params.ModID)
			})
			if err != nil {
				slog.Warn("nexus mod details failed after retries", slog.String("error", err.Error()))
				return toolJSON(map[string]any{
					"error": fmt.Sprintf("Could not fetch mod %d. Try another mod.", params.ModID),
				}), nil
			}
			if details == nil {
				return toolJSON(map[string]any{
					"error": fmt.Sprintf("Mod %d not found", params.ModID),
				}), nil
			}

			description := stripHTML(details.Description)
			session.DescriptionCache[params.ModID] = description
			return toolJSON(map[string]any{
				"mod_id":       details.ModID,
				"name":         details.Name,
				"author":       details.Author,
				"summary":      details.Summary,
				"description":  description,
				"endorsements": details.Endorsements,
				"category":     details.Category,
			}), nil
		},

		"add_to_modlist": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				ModID           int    `json:"mod_id"`
				Name            string `json:"name"`
				Author          string `json:"author"`
				Summary         string `json:"summary"`
				Reason          string `json:"reason"`
				LoadOrder       int    `json:"load_order"`
				EstimatedSizeMB int    `json:"estimated_size_mb"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}
			if params.Name == "" {
				return "", fmt.Errorf("add_to_modlist requires a name")
			}

			session.Mods = append(session.Mods, ModEntry{
				NexusModID:      params.ModID,
				Name:            params.Name,
				Author:          params.Author,
				Summary:         params.Summary,
				Reason:          params.Reason,
				LoadOrder:       params.LoadOrder,
				EstimatedSizeMB: params.EstimatedSizeMB,
			})
			emit("mod_added", map[string]any{
				"mod_id":     params.ModID,
				"name":       params.Name,
				"reason":     params.Reason,
				"load_order": params.LoadOrder,
			})
			return toolJSON(map[string]any{
				"status":        "added",
				"name":          params.Name,
				"current_count": len(session.Mods),
			}), nil
		},

		"finalize": func(ctx context.Context, args json.RawMessage) (string, error) {
			session.Finalized = true
			return toolJSON(map[string]any{
				"status":     "finalized",
				"total_mods": len(session.Mods),
			}), nil
		},
	}
}

// buildPatchReviewHandlers wires the reconciliation tool set to a session.
// Description reads hit the shared cache before touching the catalog.
func buildPatchReviewHandlers(session *Session, retry RetryPolicy, emit EmitFunc) map[string]llm.ToolHandler {
	return map[string]llm.ToolHandler{
		"get_mod_description": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				ModID int `json:"mod_id"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			emit("reading_mod", map[string]any{"mod_id": params.ModID})
			if cached, ok := session.DescriptionCache[params.ModID]; ok {
				return toolJSON(map[string]any{
					"mod_id":      params.ModID,
					"description": cached,
				}), nil
			}

			details, err := withRetry(ctx, retry, emit, func(ctx context.Context) (*nexus.ModDetails, error) {
				return session.Catalog.GetModDetails(ctx, session.Domain, params.ModID)
			})
			if err != nil {
				slog.Warn("nexus mod description failed after retries", slog.String("error", err.Error()))
				return toolJSON(map[string]any{
					"error": fmt.Sprintf("Could not fetch mod %d", params.ModID),
				}), nil
			}
			if details == nil {
				return toolJSON(map[string]any{
					"error": fmt.Sprintf("Mod %d not found", params.ModID),
				}), nil
			}

			description := stripHTML(details.Description)
			session.DescriptionCache[params.ModID] = description
			return toolJSON(map[string]any{
				"mod_id":      params.ModID,
				"description": description,
			}), nil
		},

		"search_patches": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				Query string `json:"query"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}

			emit("searching", map[string]any{"query": params.Query})
			results, err := withRetry(ctx, retry, emit, func(ctx context.Context) ([]nexus.ModSummary, error) {
				return session.Catalog.SearchMods(ctx, session.Domain, params.Query, "endorsements")
			})
			if err != nil {
				slog.Warn("nexus patch search failed after retries", slog.String("error", err.Error()))
				return toolJSON(map[string]any{
					"error": "Patch search temporarily unavailable.",
				}), nil
			}

			rows := toSearchRows(results, patchSearchLimit, false)
			emit("search_results", map[string]any{
				"count":        len(rows),
				"sample_names": sampleNames(rows),
			})
			return toolJSON(map[string]any{"results": rows, "count": len(rows)}), nil
		},

		"add_patch": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				ModID       int      `json:"mod_id"`
				Name        string   `json:"name"`
				Author      string   `json:"author"`
				PatchesMods []string `json:"patches_mods"`
				Reason      string   `json:"reason"`
				LoadOrder   int      `json:"load_order"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}
			if params.Name == "" || len(params.PatchesMods) == 0 {
				return "", fmt.Errorf("add_patch requires a name and patches_mods")
			}

			session.Patches = append(session.Patches, ModEntry{
				NexusModID:  params.ModID,
				Name:        params.Name,
				Author:      params.Author,
				Reason:      params.Reason,
				LoadOrder:   params.LoadOrder,
				IsPatch:     true,
				PatchesMods: params.PatchesMods,
			})
			emit("patch_added", map[string]any{
				"mod_id":       params.ModID,
				"name":         params.Name,
				"patches_mods": params.PatchesMods,
			})
			return toolJSON(map[string]any{
				"status": "patch_added",
				"name":   params.Name,
			}), nil
		},

		"flag_user_knowledge": func(ctx context.Context, args json.RawMessage) (string, error) {
			var params struct {
				ModA     string `json:"mod_a"`
				ModB     string `json:"mod_b"`
				Issue    string `json:"issue"`
				Severity string `json:"severity"`
			}
			if err := decodeArgs(args, &params); err != nil {
				return "", err
			}
			if params.Severity == "" {
				params.Severity = "warning"
			}

			session.Flags = append(session.Flags, KnowledgeFlag{
				ModA:     params.ModA,
				ModB:     params.ModB,
				Issue:    params.Issue,
				Severity: params.Severity,
			})
			emit("knowledge_flag", map[string]any{
				"mod_a":    params.ModA,
				"mod_b":    params.ModB,
				"issue":    params.Issue,
				"severity": params.Severity,
			})
			return toolJSON(map[string]any{
				"status": "flagged",
				"mod_a":  params.ModA,
				"mod_b":  params.ModB,
			}), nil
		},

		"finalize_review": func(ctx context.Context, args json.RawMessage) (string, error) {
			session.Finalized = true
			return toolJSON(map[string]any{
				"status":        "review_complete",
				"patches_added": len(session.Patches),
				"flags_raised":  len(session.Flags),
			}), nil
		},
	}
}
