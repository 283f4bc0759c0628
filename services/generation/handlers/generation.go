// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the generation service.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moddersomni/modforge/services/generation/datatypes"
	"github.com/moddersomni/modforge/services/generation/generator"
	"github.com/moddersomni/modforge/services/generation/library"
	"github.com/moddersomni/modforge/services/generation/observability"
	"github.com/moddersomni/modforge/services/generation/runs"
	"github.com/moddersomni/modforge/services/generation/store"
)

// heartbeatInterval is how often an idle SSE stream sends a keepalive
// comment so intermediary hops keep the connection open.
const heartbeatInterval = 15 * time.Second

// Deps bundles the collaborators the generation handlers need.
type Deps struct {
	Registry *runs.Registry
	Library  *library.Library
	Pipeline *generator.Pipeline
	Store    *store.Memory
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// resolve maps a request's library ids to their records, or reports the
// client error.
func (d *Deps) resolve(req *datatypes.GenerateRequest) (datatypes.Game, datatypes.Playstyle, []datatypes.BuildPhase, error) {
	game, ok := d.Library.Game(req.GameID)
	if !ok {
		return datatypes.Game{}, datatypes.Playstyle{}, nil, fmt.Errorf("unknown game %q", req.GameID)
	}
	playstyle, ok := d.Library.Playstyle(req.PlaystyleID)
	if !ok {
		return datatypes.Game{}, datatypes.Playstyle{}, nil, fmt.Errorf("unknown playstyle %q", req.PlaystyleID)
	}
	phases := d.Library.Phases(req.GameID)
	if len(phases) == 0 {
		return datatypes.Game{}, datatypes.Playstyle{}, nil, fmt.Errorf("no build phases configured for game %q", req.GameID)
	}
	return game, playstyle, phases, nil
}

// finishRun records a pipeline outcome in the run registry. Shared by the
// start and resume paths.
func (d *Deps) finishRun(runID string, req *datatypes.GenerateRequest, outcome *generator.Outcome, err error) {
	switch {
	case err != nil:
		d.logger().Error("generation run failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		d.Registry.SetError(runID, err.Error())
		d.Metrics.RecordRun("error")

	case outcome.Paused != nil:
		pause := outcome.Paused
		sessionSnap, marshalErr := json.Marshal(pause.Snapshot)
		if marshalErr != nil {
			d.Registry.SetError(runID, fmt.Sprintf("serializing pause state: %v", marshalErr))
			d.Metrics.RecordRun("error")
			return
		}
		requestSnap, marshalErr := json.Marshal(req)
		if marshalErr != nil {
			d.Registry.SetError(runID, fmt.Sprintf("serializing pause state: %v", marshalErr))
			d.Metrics.RecordRun("error")
			return
		}
		d.Registry.SetPaused(runID, pause.PhaseNumber, pause.PhaseName, pause.Reason,
			sessionSnap, requestSnap, len(pause.Snapshot.Mods))
		d.Metrics.RecordRun("paused")

	default:
		d.Registry.SetComplete(runID, outcome.Completed.ModlistID)
		d.Metrics.RecordRun("complete")
	}
}

// StartGeneration launches a generation run.
//
// POST /v1/generation/start
//
// The pipeline runs on a background context detached from this request:
// the run outlives the originating connection and is observed through the
// stream and status endpoints.
func StartGeneration(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		game, playstyle, phases, err := d.resolve(&req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		runID := d.Registry.CreateRun(c.GetHeader("X-User-ID"))
		go func() {
			d.Metrics.RunStarted()
			defer d.Metrics.RunEnded()

			outcome, err := d.Pipeline.Run(context.Background(), &req,
				game, playstyle, phases, d.Registry.Emitter(runID))
			d.finishRun(runID, &req, outcome, err)
		}()

		c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
	}
}

// resumeRequest optionally replaces the credential list when resuming,
// since a pause usually means the original keys gave out.
type resumeRequest struct {
	Credentials []datatypes.Credential `json:"llm_credentials"`
}

// ResumeGeneration resumes a paused run at its recorded phase.
//
// POST /v1/generation/:id/resume
func ResumeGeneration(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")
		state, ok := d.Registry.GetState(runID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		if state.Status != runs.StatusPaused {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is %s, not paused", state.Status)})
			return
		}

		var req datatypes.GenerateRequest
		if err := json.Unmarshal(state.RequestSnapshot, &req); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stored request snapshot is unreadable"})
			return
		}
		var snapshot generator.SessionSnapshot
		if err := json.Unmarshal(state.SessionSnapshot, &snapshot); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stored session snapshot is unreadable"})
			return
		}

		var body resumeRequest
		if err := c.ShouldBindJSON(&body); err == nil && len(body.Credentials) > 0 {
			req.Credentials = body.Credentials
		}

		game, playstyle, phases, err := d.resolve(&req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resumePhase := state.PausedPhase
		d.Registry.SetResumed(runID, resumePhase, state.PausedPhaseName)
		go func() {
			d.Metrics.RunStarted()
			defer d.Metrics.RunEnded()

			outcome, err := d.Pipeline.Resume(context.Background(), &req,
				game, playstyle, phases, &snapshot, resumePhase, d.Registry.Emitter(runID))
			d.finishRun(runID, &req, outcome, err)
		}()

		c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "resumed_at_phase": resumePhase})
	}
}

// GenerationStatus returns a run's status snapshot for polling.
//
// GET /v1/generation/:id/status
func GenerationStatus(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, ok := d.Registry.GetState(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}

		resp := gin.H{
			"status":      state.Status,
			"event_count": state.EventCount,
			"created_at":  state.CreatedAt,
		}
		if state.ResultID != "" {
			resp["modlist_id"] = state.ResultID
		}
		if state.Status == runs.StatusPaused {
			resp["paused_phase"] = state.PausedPhase
			resp["paused_phase_name"] = state.PausedPhaseName
			resp["pause_reason"] = state.PauseReason
		}
		c.JSON(http.StatusOK, resp)
	}
}

// StreamGeneration streams a run's events over SSE.
//
// GET /v1/generation/:id/stream
//
// The durable log is replayed first, then live events; a reconnecting
// client sees every event exactly once. Client disconnect ends the stream
// but never cancels the run.
func StreamGeneration(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")
		sub := d.Registry.Subscribe(runID)
		if sub == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		defer d.Registry.Unsubscribe(runID, sub)

		d.Metrics.SubscriberConnected()
		defer d.Metrics.SubscriberDisconnected()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")
		c.Writer.WriteHeader(http.StatusOK)

		write := func(event runs.Event) bool {
			payload, err := json.Marshal(event)
			if err != nil {
				d.logger().Error("marshaling SSE event", slog.String("error", err.Error()))
				return true
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
				return false
			}
			c.Writer.Flush()
			return true
		}

		for _, event := range sub.Replay {
			if !write(event) {
				return
			}
			if event.Type == "complete" || event.Type == "error" {
				return
			}
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case event := <-sub.Ch:
				if !write(event) {
					return
				}
				if event.Type == "complete" || event.Type == "error" {
					return
				}
			}
		}
	}
}

// GetModlist returns a persisted generation result.
//
// GET /v1/modlists/:id
func GetModlist(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		saved, ok := d.Store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown modlist"})
			return
		}
		c.JSON(http.StatusOK, saved)
	}
}

// ListGames returns the supported game catalog.
//
// GET /v1/library/games
func ListGames(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"games": d.Library.Games()})
	}
}

// ListPlaystyles returns the available playstyles.
//
// GET /v1/library/playstyles
func ListPlaystyles(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"playstyles": d.Library.Playstyles()})
	}
}

// HealthCheck reports service liveness.
//
// GET /healthz
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
