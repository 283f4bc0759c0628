// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nexus implements a client for the Nexus Mods v2 GraphQL API.
//
// The client bounds concurrent requests with a weighted semaphore and
// smooths request bursts with a token-bucket rate limiter, so agent fan-out
// (several mod detail lookups in parallel) stays within the API's limits.
// Failures are classified into typed errors (see errors.go) that the
// generator's retry wrapper understands.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// defaultBaseURL is the Nexus Mods v2 GraphQL endpoint.
	defaultBaseURL = "https://api.nexusmods.com/v2/graphql"

	// maxConcurrent caps in-flight catalog requests across all goroutines
	// sharing one client.
	maxConcurrent = 10

	// requestsPerSecond is the steady-state request rate. Nexus documents
	// roughly 30 requests per 30 seconds for authenticated clients; one
	// per second with a small burst stays comfortably inside that.
	requestsPerSecond = 1
	burstSize         = 5

	requestTimeout = 30 * time.Second
)

// sortClauses maps friendly sort names to GraphQL sort fragments.
var sortClauses = map[string]string{
	"endorsements": "endorsements: { direction: DESC }",
	"updated":      "updatedAt: { direction: DESC }",
	"name":         "name: { direction: ASC }",
}

// ModSummary is one search result row.
type ModSummary struct {
	ModID        int    `json:"modId"`
	Name         string `json:"name"`
	Summary      string `json:"summary"`
	Author       string `json:"author"`
	Version      string `json:"version"`
	Endorsements int    `json:"endorsementCount"`
	Category     string `json:"category"`
	UpdatedAt    string `json:"updatedAt"`
}

// ModDetails is the full record for one mod, including the author's page
// description HTML (which often carries compatibility notes and patch
// links).
type ModDetails struct {
	ModSummary
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

// Client talks to the Nexus Mods v2 GraphQL API.
//
// # Thread Safety
//
// Client is safe for concurrent use; the semaphore and rate limiter are
// shared across all callers.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a catalog client. An empty apiKey is allowed; the API
// then serves public data at a reduced rate limit.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		sem:        semaphore.NewWeighted(maxConcurrent),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphqlRequest is the wire shape of one GraphQL call.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// query executes one GraphQL request and decodes the "data" object into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring request slot: %w", err)
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("marshaling graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return &ServerError{Status: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("nexus returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parsing graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decoding graphql data: %w", err)
	}
	return nil
}

// rawMod is the GraphQL node shape shared by search and details queries.
type rawMod struct {
	ModID        int    `json:"modId"`
	Name         string `json:"name"`
	Summary      string `json:"summary"`
	Description  string `json:"description"`
	Author       string `json:"author"`
	Version      string `json:"version"`
	Endorsements int    `json:"endorsementCount"`
	ModCategory  struct {
		Name string `json:"name"`
	} `json:"modCategory"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func (m *rawMod) summary() ModSummary {
	return ModSummary{
		ModID:        m.ModID,
		Name:         m.Name,
		Summary:      m.Summary,
		Author:       m.Author,
		Version:      m.Version,
		Endorsements: m.Endorsements,
		Category:     m.ModCategory.Name,
		UpdatedAt:    m.UpdatedAt,
	}
}

// SearchMods searches a game domain for mods matching term.
//
// Inputs:
//
//	domain - Nexus game domain slug (e.g. "skyrimspecialedition").
//	term - Search query; wildcards are added around it.
//	sortBy - "endorsements" (default), "updated", or "name".
//
// Outputs:
//
//	[]ModSummary - Matching mods, possibly empty.
//	error - Typed transient errors (RateLimitError, ServerError,
//	        ConnectionError) or a permanent failure.
func (c *Client) SearchMods(ctx context.Context, domain, term, sortBy string) ([]ModSummary, error) {
	sortClause, ok := sortClauses[sortBy]
	if !ok {
		sortClause = sortClauses["endorsements"]
	}

	query := fmt.Sprintf(`
	query SearchMods($gameDomain: String!, $searchTerm: String!) {
		mods(
			filter: {
				gameDomainName: { value: $gameDomain }
				name: { value: $searchTerm, op: WILDCARD }
			}
			sort: { %s }
		) {
			nodes {
				modId
				name
				summary
				author
				version
				endorsementCount
				modCategory { name }
				updatedAt
			}
		}
	}`, sortClause)

	var data struct {
		Mods struct {
			Nodes []rawMod `json:"nodes"`
		} `json:"mods"`
	}
	err := c.query(ctx, query, map[string]any{
		"gameDomain": domain,
		"searchTerm": "*" + term + "*",
	}, &data)
	if err != nil {
		return nil, err
	}

	results := make([]ModSummary, 0, len(data.Mods.Nodes))
	for i := range data.Mods.Nodes {
		results = append(results, data.Mods.Nodes[i].summary())
	}
	c.logger.Debug("nexus search complete",
		slog.String("domain", domain),
		slog.String("term", term),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// GetModDetails fetches the full record for one mod.
//
// Outputs:
//
//	*ModDetails - The mod, or nil if the id does not exist in the domain.
//	error - Typed transient errors or a permanent failure.
func (c *Client) GetModDetails(ctx context.Context, domain string, modID int) (*ModDetails, error) {
	query := `
	query GetModDetails($gameDomain: String!, $modId: Int!) {
		mod(gameDomainName: $gameDomain, modId: $modId) {
			modId
			name
			summary
			description
			author
			version
			endorsementCount
			modCategory { name }
			createdAt
			updatedAt
		}
	}`

	var data struct {
		Mod *rawMod `json:"mod"`
	}
	err := c.query(ctx, query, map[string]any{
		"gameDomain": domain,
		"modId":      modID,
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Mod == nil {
		return nil, nil
	}
	return &ModDetails{
		ModSummary:  data.Mod.summary(),
		Description: data.Mod.Description,
		CreatedAt:   data.Mod.CreatedAt,
	}, nil
}
