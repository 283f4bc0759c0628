// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runs tracks active and recently finished generation runs.
//
// The Registry keeps, per run, an append-only event log (for SSE replay on
// reconnect) and a list of live subscriber channels (for active streams).
// It is an explicit, injectable object — construct one per process, or one
// per test — never a package-level singleton.
//
// # Concurrency Model
//
// Single writer, many readers: only the pipeline goroutine driving a run
// calls Emit and the Set* transitions for it, while any number of SSE
// consumers subscribe concurrently. Subscription registration and log
// replay are one atomic step under the registry lock, so a subscriber
// first consuming its Replay slice and then draining its channel sees
// every event exactly once, in emission order.
package runs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of one generation run. Transitions are one-directional except
// paused -> running (resume); complete and error are terminal.
type Status string

const (
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// subscriberBuffer is the per-subscriber channel capacity. A consumer that
// falls this far behind starts losing events (drop-on-full) rather than
// blocking the pipeline.
const subscriberBuffer = 500

// DefaultRetention is how long terminal runs are kept before cleanup.
const DefaultRetention = time.Hour

// Event is one timestamped entry in a run's event log.
type Event struct {
	Type      string
	Timestamp time.Time
	Data      map[string]any
}

// MarshalJSON flattens Data alongside type and timestamp, matching the
// wire shape SSE consumers expect:
//
//	{"type":"mod_added","timestamp":1718000000.25,"name":"SkyUI",...}
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Data)+2)
	for k, v := range e.Data {
		flat[k] = v
	}
	flat["type"] = e.Type
	flat["timestamp"] = float64(e.Timestamp.UnixNano()) / 1e9
	return json.Marshal(flat)
}

// StateSnapshot is a point-in-time copy of a run's status for polling and
// resume. The snapshot blobs are opaque to this package.
type StateSnapshot struct {
	RunID      string
	UserID     string
	Status     Status
	ResultID   string
	EventCount int
	CreatedAt  time.Time

	PausedPhase     int
	PausedPhaseName string
	PauseReason     string
	SessionSnapshot json.RawMessage
	RequestSnapshot json.RawMessage
}

// Subscription is one live event consumer.
type Subscription struct {
	// Replay holds every event emitted before the subscription was
	// registered. Consume it fully before reading Ch.
	Replay []Event

	// Ch receives events emitted after registration.
	Ch <-chan Event

	ch chan Event
}

// runState is the registry's record for one run. Mutated only under the
// registry lock.
type runState struct {
	id        string
	userID    string
	status    Status
	resultID  string
	createdAt time.Time

	events      []Event
	subscribers []chan Event

	pausedPhase     int
	pausedPhaseName string
	pauseReason     string
	sessionSnapshot json.RawMessage
	requestSnapshot json.RawMessage
}

// Registry tracks all runs for one process.
//
// # Thread Safety
//
// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*runState
	logger *slog.Logger
}

// NewRegistry creates an empty run registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:   make(map[string]*runState),
		logger: logger,
	}
}

// CreateRun registers a new run in StatusRunning and returns its id.
// userID may be empty for anonymous runs.
func (r *Registry) CreateRun(userID string) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.runs[id] = &runState{
		id:        id,
		userID:    userID,
		status:    StatusRunning,
		createdAt: time.Now(),
	}
	r.mu.Unlock()

	r.logger.Info("created generation run", slog.String("run_id", id))
	return id
}

// Emit appends a timestamped event to the run's log and pushes it to every
// live subscriber. Pushes never block: a full subscriber channel drops the
// event for that subscriber only (the durable log is unaffected).
func (r *Registry) Emit(runID, eventType string, data map[string]any) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}

	r.mu.Lock()
	state, ok := r.runs[runID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("emit for unknown run", slog.String("run_id", runID))
		return
	}
	state.events = append(state.events, event)
	subscribers := make([]chan Event, len(state.subscribers))
	copy(subscribers, state.subscribers)
	r.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			r.logger.Warn("subscriber channel full, dropping event",
				slog.String("run_id", runID),
				slog.String("event_type", eventType),
			)
		}
	}
}

// Emitter returns an emit callback bound to one run, for handing to the
// generation pipeline.
func (r *Registry) Emitter(runID string) func(eventType string, data map[string]any) {
	return func(eventType string, data map[string]any) {
		r.Emit(runID, eventType, data)
	}
}

// Subscribe registers a live consumer for a run.
//
// The returned Subscription carries a snapshot of the log taken at
// registration time plus a channel for everything after it — one atomic
// step, so replay-then-drain yields no gap and no duplicate.
//
// Outputs:
//
//	*Subscription - nil if the run does not exist.
func (r *Registry) Subscribe(runID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.runs[runID]
	if !ok {
		return nil
	}

	replay := make([]Event, len(state.events))
	copy(replay, state.events)

	ch := make(chan Event, subscriberBuffer)
	state.subscribers = append(state.subscribers, ch)

	r.logger.Info("new run subscriber",
		slog.String("run_id", runID),
		slog.Int("total_subscribers", len(state.subscribers)),
	)
	return &Subscription{Replay: replay, Ch: ch, ch: ch}
}

// Unsubscribe deregisters a subscription. Safe to call after the run has
// been cleaned up.
func (r *Registry) Unsubscribe(runID string, sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.runs[runID]
	if !ok {
		return
	}
	for i, ch := range state.subscribers {
		if ch == sub.ch {
			state.subscribers = append(state.subscribers[:i], state.subscribers[i+1:]...)
			break
		}
	}
}

// GetState returns a point-in-time snapshot of a run, or false if unknown.
func (r *Registry) GetState(runID string) (StateSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.runs[runID]
	if !ok {
		return StateSnapshot{}, false
	}
	return StateSnapshot{
		RunID:           state.id,
		UserID:          state.userID,
		Status:          state.status,
		ResultID:        state.resultID,
		EventCount:      len(state.events),
		CreatedAt:       state.createdAt,
		PausedPhase:     state.pausedPhase,
		PausedPhaseName: state.pausedPhaseName,
		PauseReason:     state.pauseReason,
		SessionSnapshot: state.sessionSnapshot,
		RequestSnapshot: state.requestSnapshot,
	}, true
}

// SetComplete marks a run complete with its saved result id and emits the
// terminal "complete" event.
func (r *Registry) SetComplete(runID, resultID string) {
	r.mu.Lock()
	if state, ok := r.runs[runID]; ok {
		state.status = StatusComplete
		state.resultID = resultID
	}
	r.mu.Unlock()

	r.Emit(runID, "complete", map[string]any{"modlist_id": resultID})
}

// SetError marks a run failed and emits the terminal "error" event.
func (r *Registry) SetError(runID, message string) {
	r.mu.Lock()
	if state, ok := r.runs[runID]; ok {
		state.status = StatusError
	}
	r.mu.Unlock()

	r.Emit(runID, "error", map[string]any{"message": message})
}

// SetPaused records the recovery state for a resumable pause and emits a
// "paused" event. Both snapshot blobs are stored verbatim for the resume
// endpoint.
func (r *Registry) SetPaused(runID string, phaseNumber int, phaseName, reason string,
	sessionSnapshot, requestSnapshot json.RawMessage, modsSoFar int) {

	r.mu.Lock()
	if state, ok := r.runs[runID]; ok {
		state.status = StatusPaused
		state.pausedPhase = phaseNumber
		state.pausedPhaseName = phaseName
		state.pauseReason = reason
		state.sessionSnapshot = sessionSnapshot
		state.requestSnapshot = requestSnapshot
	}
	r.mu.Unlock()

	r.Emit(runID, "paused", map[string]any{
		"reason":       reason,
		"phase_name":   phaseName,
		"phase_number": phaseNumber,
		"mods_so_far":  modsSoFar,
		"can_resume":   true,
	})
}

// SetResumed returns a paused run to StatusRunning and emits a "resumed"
// event naming the phase it re-enters at.
func (r *Registry) SetResumed(runID string, phaseNumber int, phaseName string) {
	r.mu.Lock()
	if state, ok := r.runs[runID]; ok {
		state.status = StatusRunning
		state.pausedPhase = 0
		state.pausedPhaseName = ""
	}
	r.mu.Unlock()

	r.Emit(runID, "resumed", map[string]any{
		"phase_name":   phaseName,
		"phase_number": phaseNumber,
	})
}

// StartJanitor runs CleanupOld every interval until ctx is cancelled.
// Call it once, in its own goroutine.
func (r *Registry) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupOld(maxAge)
		}
	}
}

// CleanupOld removes terminal runs older than maxAge and returns how many
// were removed. Paused runs are never collected; they hold resume state.
func (r *Registry) CleanupOld(maxAge time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int
	for id, state := range r.runs {
		terminal := state.status == StatusComplete || state.status == StatusError
		if terminal && now.Sub(state.createdAt) > maxAge {
			delete(r.runs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("cleaned up old runs", slog.Int("count", removed))
	}
	return removed
}
