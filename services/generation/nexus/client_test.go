// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL))
}

func TestSearchMods(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("apikey"))

		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "*skyui*", req.Variables["searchTerm"])
		assert.Equal(t, "skyrimspecialedition", req.Variables["gameDomain"])

		_, _ = w.Write([]byte(`{"data":{"mods":{"nodes":[
			{"modId":12604,"name":"SkyUI","summary":"UI overhaul","author":"schlangster",
			 "endorsementCount":350000,"modCategory":{"name":"User Interface"}}
		]}}}`))
	})

	results, err := client.SearchMods(context.Background(), "skyrimspecialedition", "skyui", "endorsements")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 12604, results[0].ModID)
	assert.Equal(t, "SkyUI", results[0].Name)
	assert.Equal(t, "User Interface", results[0].Category)
}

func TestGetModDetails_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"mod":null}}`))
	})

	details, err := client.GetModDetails(context.Background(), "skyrimspecialedition", 999999)
	require.NoError(t, err)
	assert.Nil(t, details)
}

func TestQuery_RateLimitError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.SearchMods(context.Background(), "skyrimspecialedition", "combat", "endorsements")
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
	assert.True(t, IsTransient(err))

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30, rl.RetryAfter)
}

func TestQuery_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetModDetails(context.Background(), "skyrimspecialedition", 1)
	require.Error(t, err)
	assert.False(t, IsRateLimit(err))
	assert.True(t, IsTransient(err))

	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestQuery_PermanentErrorNotTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.SearchMods(context.Background(), "skyrimspecialedition", "combat", "endorsements")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestQuery_GraphQLErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"unknown field"}]}`))
	})

	_, err := client.SearchMods(context.Background(), "skyrimspecialedition", "combat", "endorsements")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
	assert.False(t, IsTransient(err))
}
