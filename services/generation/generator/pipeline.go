// Copyright (C) 2025 ModdersOmni (team@moddersomni.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/moddersomni/modforge/services/generation/datatypes"
	"github.com/moddersomni/modforge/services/generation/llm"
	"github.com/moddersomni/modforge/services/generation/observability"
)

var tracer = otel.Tracer("modforge/generator")

// thinkingTruncate caps thinking text in events; the frontend shows a
// ticker, not a transcript.
const thinkingTruncate = 200

// Result is the complete output of a finished generation run.
type Result struct {
	// Entries is the final modlist: discovered mods followed by patches.
	Entries []ModEntry

	// Flags are unresolved compatibility issues for the user to review.
	Flags []KnowledgeFlag

	// Provider names the LLM that completed the last successful phase.
	Provider string

	// ModlistID is the durable id assigned by the persistence
	// collaborator, empty when no persistence is configured.
	ModlistID string
}

// PauseState carries everything needed to resume a run after every
// provider failed one phase.
type PauseState struct {
	PhaseNumber int
	PhaseName   string

	// Reason concatenates each provider's friendly error message.
	Reason string

	Snapshot *SessionSnapshot
}

// Outcome is the result of driving the pipeline. Exactly one field is set:
// Completed when every phase finished, Paused when a phase exhausted all
// providers. A pause is a recoverable condition, not an error.
type Outcome struct {
	Completed *Result
	Paused    *PauseState
}

// Persistence stores a finished modlist. Invoked once, only on full
// completion.
type Persistence interface {
	SaveModlist(ctx context.Context, req *datatypes.GenerateRequest, result *Result) (string, error)
}

// Pipeline drives the phased agentic generation state machine.
//
// # Description
//
// Each build phase runs its own bounded tool-calling conversation with
// focused prompts. Discovery phases search the catalog and grow the
// modlist; the final phase reviews it for compatibility patches. Providers
// fall back per phase, not per run: a provider that rate-limited out of a
// heavy discovery phase still gets a shot at the cheaper patch review.
//
// # Thread Safety
//
// A Pipeline value is safe to share; each Run call owns its session and
// event emitter exclusively.
type Pipeline struct {
	// Catalog is the mod catalog binding injected into every session.
	Catalog CatalogClient

	// Defaults builds the fallback provider when a request carries no
	// credentials.
	Defaults llm.DefaultCredentials

	// Persist receives the finished modlist. Optional.
	Persist Persistence

	// Metrics instruments the run. Optional (nil no-ops).
	Metrics *observability.Metrics

	// Retry is the catalog backoff policy. Zero value means defaults.
	Retry RetryPolicy

	Logger *slog.Logger

	// ProviderFactory overrides provider construction, for tests. Nil
	// means the registry-backed factory in the llm package.
	ProviderFactory func(credentials []datatypes.Credential) []llm.Provider
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) retryPolicy() RetryPolicy {
	if p.Retry.MaxAttempts == 0 {
		return DefaultRetryPolicy()
	}
	return p.Retry
}

func (p *Pipeline) providers(credentials []datatypes.Credential) []llm.Provider {
	if p.ProviderFactory != nil {
		return p.ProviderFactory(credentials)
	}
	return llm.BuildProviders(credentials, p.Defaults)
}

// instrumentEmit layers metrics onto the run's event stream and tolerates
// a nil emitter.
func (p *Pipeline) instrumentEmit(emit EmitFunc) EmitFunc {
	return func(eventType string, data map[string]any) {
		if eventType == "retrying" {
			if reason, ok := data["reason"].(string); ok {
				p.Metrics.RecordCatalogRetry(reason)
			}
		}
		if emit != nil {
			emit(eventType, data)
		}
	}
}

// Run executes all build phases for a fresh generation request.
//
// # Inputs
//
//   - req: Validated generation request.
//   - game, playstyle: Resolved library records for the request's ids.
//   - phases: Ordered build phases for the game; must be non-empty. The
//     highest-numbered phase is treated as the patch review phase.
//   - emit: Event sink for run observers. May be nil.
//
// # Outputs
//
//   - *Outcome: Completed result or pause state. Never nil on nil error.
//   - error: Run-level fatal failures only (bad input, persistence, context
//     cancellation). Provider exhaustion is an Outcome, not an error.
func (p *Pipeline) Run(
	ctx context.Context,
	req *datatypes.GenerateRequest,
	game datatypes.Game,
	playstyle datatypes.Playstyle,
	phases []datatypes.BuildPhase,
	emit EmitFunc,
) (*Outcome, error) {
	session := NewSession(game.Domain, p.Catalog)
	return p.run(ctx, req, game, playstyle, phases, session, 0, emit)
}

// Resume re-enters the state machine at the phase recorded in a pause.
// The session is rebuilt from the snapshot with a fresh catalog binding;
// phases numbered below resumeFromPhase are never re-run.
func (p *Pipeline) Resume(
	ctx context.Context,
	req *datatypes.GenerateRequest,
	game datatypes.Game,
	playstyle datatypes.Playstyle,
	phases []datatypes.BuildPhase,
	snapshot *SessionSnapshot,
	resumeFromPhase int,
	emit EmitFunc,
) (*Outcome, error) {
	session := RestoreSession(snapshot, p.Catalog)
	return p.run(ctx, req, game, playstyle, phases, session, resumeFromPhase, emit)
}

func (p *Pipeline) run(
	ctx context.Context,
	req *datatypes.GenerateRequest,
	game datatypes.Game,
	playstyle datatypes.Playstyle,
	phases []datatypes.BuildPhase,
	session *Session,
	resumeFromPhase int,
	emit EmitFunc,
) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "generation.run",
		trace.WithAttributes(
			attribute.String("game.id", game.ID),
			attribute.String("playstyle.id", playstyle.ID),
			attribute.Int("phases.total", len(phases)),
			attribute.Int("resume.from_phase", resumeFromPhase),
		))
	defer span.End()

	if len(phases) == 0 {
		return nil, fmt.Errorf("no build phases configured for game %q", game.ID)
	}

	emit = p.instrumentEmit(emit)
	retry := p.retryPolicy()
	logger := p.logger()

	providers := p.providers(req.Credentials)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable LLM providers")
	}

	vramBudget, storageBudget := budgets(req)
	hardwareContext := buildHardwareContext(req, vramBudget, storageBudget)

	totalPhases := len(phases)
	lastPhaseNumber := phases[totalPhases-1].PhaseNumber
	lastSuccessfulProvider := providers[0].Name()

	onText := func(text string) {
		if len(text) > thinkingTruncate {
			text = text[:thinkingTruncate]
		}
		emit("thinking", map[string]any{"text": text})
	}

	for _, phase := range phases {
		if resumeFromPhase > 0 && phase.PhaseNumber < resumeFromPhase {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		isPatchPhase := phase.PhaseNumber == lastPhaseNumber
		emit("phase_start", map[string]any{
			"phase":          phase.Name,
			"number":         phase.PhaseNumber,
			"total_phases":   totalPhases,
			"is_patch_phase": isPatchPhase,
		})

		phaseSucceeded := false
		var providerErrors []string

		for i, provider := range providers {
			session.Finalized = false

			var systemPrompt, userMsg string
			var tools []llm.ToolSpec
			var handlers map[string]llm.ToolHandler
			if isPatchPhase {
				systemPrompt = buildPatchPhasePrompt(phase, game, req.GameVersion, session, totalPhases)
				userMsg = "Review the modlist above for compatibility patches."
				tools = patchReviewTools
				handlers = buildPatchReviewHandlers(session, retry, emit)
			} else {
				systemPrompt = buildPhasePrompt(phase, game, playstyle, req.GameVersion,
					hardwareContext, session, totalPhases)
				userMsg = buildPhaseUserMsg(phase, playstyle, game, req.GameVersion)
				tools = discoveryTools
				handlers = buildDiscoveryHandlers(session, retry, emit)
			}

			logger.Info("running build phase",
				slog.Int("phase", phase.PhaseNumber),
				slog.Int("total_phases", totalPhases),
				slog.String("name", phase.Name),
				slog.String("provider", provider.Name()),
			)

			phaseCtx, phaseSpan := tracer.Start(ctx, "generation.phase",
				trace.WithAttributes(
					attribute.Int("phase.number", phase.PhaseNumber),
					attribute.String("phase.name", phase.Name),
					attribute.String("provider", provider.Name()),
				))

			start := time.Now()
			_, err := provider.GenerateWithTools(phaseCtx, llm.ToolSession{
				Messages: []llm.Message{
					{Role: llm.RoleSystem, Content: systemPrompt},
					{Role: llm.RoleUser, Content: userMsg},
				},
				Tools:         tools,
				Handlers:      handlers,
				MaxIterations: phase.MaxMods + 5,
				OnText:        onText,
			})
			p.Metrics.RecordPhaseDuration(time.Since(start).Seconds(), err == nil)
			phaseSpan.End()

			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}

				errorType, friendly := classifyProviderError(provider.Name(), err)
				logger.Warn("provider failed build phase",
					slog.String("provider", provider.Name()),
					slog.Int("phase", phase.PhaseNumber),
					slog.String("error_type", errorType),
					slog.String("error", err.Error()),
				)
				p.Metrics.RecordProviderError(provider.Name(), errorType)
				providerErrors = append(providerErrors, friendly)

				emit("provider_error", map[string]any{
					"provider": provider.Name(),
					"type":     errorType,
					"message":  friendly,
				})
				if i+1 < len(providers) {
					emit("provider_switch", map[string]any{
						"from_provider": provider.Name(),
						"to_provider":   providers[i+1].Name(),
					})
				}
				continue
			}

			phaseSucceeded = true
			lastSuccessfulProvider = provider.Name()
			session.CompletedPhases = append(session.CompletedPhases, phase.PhaseNumber)

			emit("phase_complete", map[string]any{
				"phase":       phase.Name,
				"number":      phase.PhaseNumber,
				"mod_count":   len(session.Mods),
				"patch_count": len(session.Patches),
			})
			logger.Info("build phase complete",
				slog.Int("phase", phase.PhaseNumber),
				slog.Int("mods", len(session.Mods)),
				slog.Int("patches", len(session.Patches)),
			)
			break
		}

		if !phaseSucceeded {
			// Every provider failed this phase. Pause with full state so
			// the run can resume here later; partial progress made inside
			// the phase stays in the snapshot.
			reason := strings.Join(providerErrors, "; ")
			span.SetAttributes(attribute.Int("paused.phase", phase.PhaseNumber))
			return &Outcome{Paused: &PauseState{
				PhaseNumber: phase.PhaseNumber,
				PhaseName:   phase.Name,
				Reason:      reason,
				Snapshot:    session.Snapshot(),
			}}, nil
		}
	}

	result := &Result{
		Entries:  append(append([]ModEntry(nil), session.Mods...), session.Patches...),
		Flags:    append([]KnowledgeFlag(nil), session.Flags...),
		Provider: lastSuccessfulProvider,
	}
	if p.Persist != nil {
		id, err := p.Persist.SaveModlist(ctx, req, result)
		if err != nil {
			return nil, fmt.Errorf("saving modlist: %w", err)
		}
		result.ModlistID = id
	}
	return &Outcome{Completed: result}, nil
}
