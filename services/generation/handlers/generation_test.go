// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moddersomni/modforge/services/generation/datatypes"
	"github.com/moddersomni/modforge/services/generation/generator"
	"github.com/moddersomni/modforge/services/generation/library"
	"github.com/moddersomni/modforge/services/generation/llm"
	"github.com/moddersomni/modforge/services/generation/nexus"
	"github.com/moddersomni/modforge/services/generation/observability"
	"github.com/moddersomni/modforge/services/generation/runs"
	"github.com/moddersomni/modforge/services/generation/store"
)

const testLibraryYAML = `
games:
  - id: skyrim-se
    name: Skyrim Special Edition
    domain: skyrimspecialedition
playstyles:
  - id: immersive
    name: Immersive
    description: Realism and survival focused.
phases:
  skyrim-se:
    - phase_number: 1
      name: Foundation
      description: Framework mods and bug fixes.
      search_guidance: Search SKSE and fixes.
      rules: Essentials only.
      max_mods: 3
    - phase_number: 2
      name: Patches
      description: Compatibility review.
      search_guidance: Search patches.
      rules: Only genuine conflicts.
      max_mods: 3
`

// stubCatalog satisfies generator.CatalogClient without network access.
type stubCatalog struct{}

func (stubCatalog) SearchMods(ctx context.Context, domain, term, sortBy string) ([]nexus.ModSummary, error) {
	return []nexus.ModSummary{{ModID: 1, Name: "USSEP", Author: "Arthmoor", Endorsements: 100000}}, nil
}

func (stubCatalog) GetModDetails(ctx context.Context, domain string, modID int) (*nexus.ModDetails, error) {
	return &nexus.ModDetails{ModSummary: nexus.ModSummary{ModID: modID, Name: "USSEP"}}, nil
}

// stubProvider adds one mod (or patch) per phase and finalizes. failPhases
// makes it report an error for those phases instead.
type stubProvider struct {
	name       string
	failPhases map[int]error
	serial     int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Generate(ctx context.Context, system, user string) (string, error) {
	return "", errors.New("not used")
}

func (p *stubProvider) GenerateWithTools(ctx context.Context, session llm.ToolSession) ([]llm.Message, error) {
	var phase int
	for _, msg := range session.Messages {
		if phase = phaseFromPrompt(msg.Content); phase > 0 {
			break
		}
	}
	if err, ok := p.failPhases[phase]; ok {
		return nil, err
	}

	p.serial++
	if _, patchPhase := session.Handlers["finalize_review"]; patchPhase {
		args := fmt.Sprintf(`{"mod_id": %d, "name": "Patch %d", "patches_mods": ["USSEP"], "reason": "compat", "load_order": 90}`, 100+p.serial, p.serial)
		if _, err := session.Handlers["add_patch"](ctx, json.RawMessage(args)); err != nil {
			return nil, err
		}
		_, err := session.Handlers["finalize_review"](ctx, json.RawMessage(`{}`))
		return nil, err
	}
	args := fmt.Sprintf(`{"mod_id": %d, "name": "Mod %d", "reason": "core fix", "load_order": %d}`, p.serial, p.serial, p.serial)
	if _, err := session.Handlers["add_to_modlist"](ctx, json.RawMessage(args)); err != nil {
		return nil, err
	}
	_, err := session.Handlers["finalize"](ctx, json.RawMessage(`{}`))
	return nil, err
}

// phaseFromPrompt recovers the phase number from the "Phase N/M" marker in
// a system prompt. Returns 0 when no marker parses.
func phaseFromPrompt(content string) int {
	var n, total int
	for i := 0; i < len(content); i++ {
		if _, err := fmt.Sscanf(content[i:], "Phase %d/%d", &n, &total); err == nil {
			return n
		}
	}
	return 0
}

func newTestRouter(t *testing.T, providers ...llm.Provider) (*gin.Engine, *Deps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLibraryYAML), 0o600))
	lib, err := library.Load(path)
	require.NoError(t, err)

	modlists := store.NewMemory()
	deps := &Deps{
		Registry: runs.NewRegistry(nil),
		Library:  lib,
		Store:    modlists,
		Metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		Pipeline: &generator.Pipeline{
			Catalog: stubCatalog{},
			Persist: modlists,
			Retry: generator.RetryPolicy{
				MaxAttempts: 1,
				Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
			},
			ProviderFactory: func([]datatypes.Credential) []llm.Provider { return providers },
		},
	}

	router := gin.New()
	router.POST("/v1/generation/start", StartGeneration(deps))
	router.GET("/v1/generation/:id/stream", StreamGeneration(deps))
	router.GET("/v1/generation/:id/status", GenerationStatus(deps))
	router.POST("/v1/generation/:id/resume", ResumeGeneration(deps))
	router.GET("/v1/modlists/:id", GetModlist(deps))
	router.GET("/v1/library/games", ListGames(deps))
	return router, deps
}

func postJSON(t *testing.T, router *gin.Engine, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, router *gin.Engine, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	return w
}

// waitForStatus polls the status endpoint until the run reaches want or the
// deadline passes. The pipeline runs in a background goroutine, so tests
// must wait for it.
func waitForStatus(t *testing.T, router *gin.Engine, runID string, want runs.Status) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := getJSON(t, router, "/v1/generation/"+runID+"/status")
		require.Equal(t, http.StatusOK, w.Code)
		var status map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		if status["status"] == string(want) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
	return nil
}

func startRun(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := postJSON(t, router, "/v1/generation/start", map[string]any{
		"game_id":      "skyrim-se",
		"playstyle_id": "immersive",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["run_id"])
	return resp["run_id"]
}

func TestStartGenerationRejectsBadRequests(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})

	w := postJSON(t, router, "/v1/generation/start", map[string]any{"game_id": "skyrim-se"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, router, "/v1/generation/start", map[string]any{
		"game_id":      "no-such-game",
		"playstyle_id": "immersive",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown game")

	w = postJSON(t, router, "/v1/generation/start", map[string]any{
		"game_id":       "skyrim-se",
		"playstyle_id":  "immersive",
		"hardware_tier": "quantum",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerationRunToCompletion(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})
	runID := startRun(t, router)

	status := waitForStatus(t, router, runID, runs.StatusComplete)
	modlistID, ok := status["modlist_id"].(string)
	require.True(t, ok, "complete status must carry modlist_id")

	w := getJSON(t, router, "/v1/modlists/"+modlistID)
	require.Equal(t, http.StatusOK, w.Code)
	var saved store.SavedModlist
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.Equal(t, "skyrim-se", saved.GameID)
	assert.Len(t, saved.Entries, 2)
	assert.False(t, saved.Entries[0].IsPatch)
	assert.True(t, saved.Entries[1].IsPatch)
}

func TestStreamReplaysCompletedRun(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})
	runID := startRun(t, router)
	waitForStatus(t, router, runID, runs.StatusComplete)

	w := getJSON(t, router, "/v1/generation/"+runID+"/stream")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"type":"phase_start"`)
	assert.Contains(t, body, `"type":"mod_added"`)
	assert.Contains(t, body, `"type":"complete"`)
}

func TestStreamUnknownRun(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})
	w := getJSON(t, router, "/v1/generation/nope/stream")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusUnknownRun(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})
	w := getJSON(t, router, "/v1/generation/nope/status")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseAndResume(t *testing.T) {
	flaky := &stubProvider{
		name:       "flaky",
		failPhases: map[int]error{2: errors.New("rate limit exceeded")},
	}
	router, deps := newTestRouter(t, flaky)
	runID := startRun(t, router)

	status := waitForStatus(t, router, runID, runs.StatusPaused)
	assert.Equal(t, float64(2), status["paused_phase"])
	assert.Equal(t, "Patches", status["paused_phase_name"])
	assert.Contains(t, status["pause_reason"], "Rate limited")

	// The flaky provider recovers before the resume.
	flaky.failPhases = nil

	w := postJSON(t, router, "/v1/generation/"+runID+"/resume", map[string]any{})
	require.Equal(t, http.StatusAccepted, w.Code)

	status = waitForStatus(t, router, runID, runs.StatusComplete)
	modlistID := status["modlist_id"].(string)
	saved, ok := deps.Store.Get(modlistID)
	require.True(t, ok)

	// Phase 1's mod survived the pause; phase 2 added its patch on resume.
	assert.Len(t, saved.Entries, 2)
}

func TestResumeRequiresPausedRun(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})

	w := postJSON(t, router, "/v1/generation/nope/resume", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	runID := startRun(t, router)
	waitForStatus(t, router, runID, runs.StatusComplete)

	w = postJSON(t, router, "/v1/generation/"+runID+"/resume", map[string]any{})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "not paused")
}

func TestListGames(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{name: "stub"})
	w := getJSON(t, router, "/v1/library/games")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skyrim-se")
}
