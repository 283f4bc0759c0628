// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runs

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMarshalFlattensData(t *testing.T) {
	event := Event{
		Type:      "mod_added",
		Timestamp: time.Unix(1718000000, 250000000),
		Data:      map[string]any{"name": "SkyUI", "phase": 2},
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "mod_added", decoded["type"])
	assert.Equal(t, "SkyUI", decoded["name"])
	assert.Equal(t, float64(2), decoded["phase"])
	assert.InDelta(t, 1718000000.25, decoded["timestamp"], 0.001)
}

func TestCreateRunAndGetState(t *testing.T) {
	registry := NewRegistry(nil)
	runID := registry.CreateRun("user-1")

	state, ok := registry.GetState(runID)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Equal(t, "user-1", state.UserID)
	assert.Zero(t, state.EventCount)

	_, ok = registry.GetState("nonexistent")
	assert.False(t, ok)
}

func TestSubscribeReplaysThenStreams(t *testing.T) {
	registry := NewRegistry(nil)
	runID := registry.CreateRun("")

	for i := 0; i < 5; i++ {
		registry.Emit(runID, "phase_start", map[string]any{"seq": i})
	}

	sub := registry.Subscribe(runID)
	require.NotNil(t, sub)
	require.Len(t, sub.Replay, 5)

	registry.Emit(runID, "phase_start", map[string]any{"seq": 5})
	registry.Emit(runID, "phase_start", map[string]any{"seq": 6})

	// Replay then drain must produce every event exactly once, in order.
	seen := make([]int, 0, 7)
	for _, event := range sub.Replay {
		seen = append(seen, event.Data["seq"].(int))
	}
	for len(seen) < 7 {
		select {
		case event := <-sub.Ch:
			seen = append(seen, event.Data["seq"].(int))
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for live events")
		}
	}
	for i, seq := range seen {
		assert.Equal(t, i, seq)
	}

	registry.Unsubscribe(runID, sub)
	registry.Emit(runID, "phase_start", map[string]any{"seq": 7})
	select {
	case event := <-sub.Ch:
		t.Fatalf("received event after unsubscribe: %v", event)
	default:
	}
}

func TestSubscribeUnknownRun(t *testing.T) {
	registry := NewRegistry(nil)
	assert.Nil(t, registry.Subscribe("no-such-run"))
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	registry := NewRegistry(nil)
	runID := registry.CreateRun("")
	sub := registry.Subscribe(runID)
	require.NotNil(t, sub)

	// Nobody reads sub.Ch. Overfilling its buffer must not block Emit,
	// and the durable log must still record every event.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+50; i++ {
			registry.Emit(runID, "searching", map[string]any{"seq": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a full subscriber channel")
	}

	state, _ := registry.GetState(runID)
	assert.Equal(t, subscriberBuffer+50, state.EventCount)
	assert.Len(t, sub.Ch, subscriberBuffer)
}

func TestTerminalTransitions(t *testing.T) {
	registry := NewRegistry(nil)

	completeID := registry.CreateRun("")
	registry.SetComplete(completeID, "modlist-42")
	state, _ := registry.GetState(completeID)
	assert.Equal(t, StatusComplete, state.Status)
	assert.Equal(t, "modlist-42", state.ResultID)
	assert.Equal(t, 1, state.EventCount)

	errorID := registry.CreateRun("")
	registry.SetError(errorID, "all providers failed")
	state, _ = registry.GetState(errorID)
	assert.Equal(t, StatusError, state.Status)
}

func TestPauseAndResumeState(t *testing.T) {
	registry := NewRegistry(nil)
	runID := registry.CreateRun("user-2")
	sub := registry.Subscribe(runID)

	sessionSnap := json.RawMessage(`{"phases_completed":[1,2]}`)
	requestSnap := json.RawMessage(`{"game_id":"skyrimspecialedition"}`)
	registry.SetPaused(runID, 3, "Gameplay Overhauls", "rate_limit", sessionSnap, requestSnap, 14)

	state, _ := registry.GetState(runID)
	assert.Equal(t, StatusPaused, state.Status)
	assert.Equal(t, 3, state.PausedPhase)
	assert.Equal(t, "Gameplay Overhauls", state.PausedPhaseName)
	assert.Equal(t, "rate_limit", state.PauseReason)
	assert.JSONEq(t, string(sessionSnap), string(state.SessionSnapshot))
	assert.JSONEq(t, string(requestSnap), string(state.RequestSnapshot))

	event := <-sub.Ch
	assert.Equal(t, "paused", event.Type)
	assert.Equal(t, true, event.Data["can_resume"])
	assert.Equal(t, 14, event.Data["mods_so_far"])

	registry.SetResumed(runID, 3, "Gameplay Overhauls")
	state, _ = registry.GetState(runID)
	assert.Equal(t, StatusRunning, state.Status)
	assert.Zero(t, state.PausedPhase)

	event = <-sub.Ch
	assert.Equal(t, "resumed", event.Type)
}

func TestCleanupOldSparesPausedAndRecent(t *testing.T) {
	registry := NewRegistry(nil)

	oldComplete := registry.CreateRun("")
	registry.SetComplete(oldComplete, "m1")
	freshComplete := registry.CreateRun("")
	registry.SetComplete(freshComplete, "m2")
	paused := registry.CreateRun("")
	registry.SetPaused(paused, 1, "Foundation", "rate_limit", nil, nil, 0)

	// Backdate the first two; only the terminal old one may be collected.
	registry.mu.Lock()
	registry.runs[oldComplete].createdAt = time.Now().Add(-2 * time.Hour)
	registry.runs[paused].createdAt = time.Now().Add(-2 * time.Hour)
	registry.mu.Unlock()

	removed := registry.CleanupOld(DefaultRetention)
	assert.Equal(t, 1, removed)

	_, ok := registry.GetState(oldComplete)
	assert.False(t, ok)
	_, ok = registry.GetState(freshComplete)
	assert.True(t, ok)
	_, ok = registry.GetState(paused)
	assert.True(t, ok)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	registry := NewRegistry(nil)
	runID := registry.CreateRun("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			registry.Emit(runID, "searching", map[string]any{"term": fmt.Sprintf("q%d", i)})
		}
		close(done)
	}()

	// Subscribers joining mid-stream must each observe a consistent
	// replay+live sequence with no gaps.
	for i := 0; i < 10; i++ {
		sub := registry.Subscribe(runID)
		require.NotNil(t, sub)
		registry.Unsubscribe(runID, sub)
	}
	<-done

	sub := registry.Subscribe(runID)
	assert.Len(t, sub.Replay, 200)
}
