// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation tries content providers in priority order until one
// returns a usable draft.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/guide/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.guide.generation")

// Default section used when a provider returns a flat step list.
const (
	DefaultSectionID    = "main"
	DefaultSectionTitle = "Steps"
)

// Orchestrator runs the ordered provider fallback loop.
//
// # Description
//
// Each provider is tried once, in order, under its own timeout. Only
// provider errors and timeouts move on to the next provider; the first
// draft returned wins and is normalised. Structural checks belong to the
// caller, so a defective draft is reported rather than replaced. No state
// is shared between calls, so one Orchestrator serves any number of
// concurrent requests.
//
// # Thread Safety
//
// Safe for concurrent use.
type Orchestrator struct {
	providers []provider.Client
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New returns an Orchestrator over providers in priority order.
func New(providers []provider.Client, opts ...Option) (*Orchestrator, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one content provider is required")
	}
	o := &Orchestrator{
		providers: append([]provider.Client(nil), providers...),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Providers returns the provider names in priority order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.providers))
	for i, p := range o.providers {
		names[i] = p.Name()
	}
	return names
}

// Generate validates req and returns the first successful, normalised draft.
//
// # Outputs
//
//   - *datatypes.Draft: Normalised draft stamped with the winning provider.
//   - error: *datatypes.Error (validation) before any provider is called,
//     *datatypes.GenerationFailure when every provider failed, or the
//     context error when the caller gave up.
func (o *Orchestrator) Generate(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.Draft, error) {
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Orchestrator.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("guide.difficulty", string(req.Difficulty)),
		attribute.String("guide.request_id", req.RequestID),
	)

	attempts := make([]datatypes.ProviderAttempt, 0, len(o.providers))
	for _, p := range o.providers {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, err
		}

		start := time.Now()
		draft, err := o.attempt(ctx, p, req)
		elapsed := time.Since(start)

		if err == nil {
			recordAttempt(ctx, p.Name(), "success", elapsed)
			o.logger.Info("Guide draft generated",
				"provider", p.Name(),
				"request_id", req.RequestID,
				"duration_ms", elapsed.Milliseconds(),
				"failed_attempts", len(attempts))
			span.SetAttributes(attribute.String("guide.provider", p.Name()))
			return draft, nil
		}

		// The caller's own cancellation is not a provider failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctxErr
		}

		timedOut := errors.Is(err, context.DeadlineExceeded)
		outcome := "error"
		if timedOut {
			outcome = "timeout"
		}
		recordAttempt(ctx, p.Name(), outcome, elapsed)
		o.logger.Warn("Content provider failed, trying next",
			"provider", p.Name(),
			"request_id", req.RequestID,
			"timed_out", timedOut,
			"error", err)
		attempts = append(attempts, datatypes.ProviderAttempt{
			Provider: p.Name(),
			Error:    err.Error(),
			TimedOut: timedOut,
			Duration: elapsed,
		})
	}

	failure := &datatypes.GenerationFailure{Exhausted: true, Attempts: attempts}
	span.RecordError(failure)
	span.SetStatus(codes.Error, "all providers failed")
	o.logger.Error("All content providers failed", "request_id", req.RequestID, "attempts", len(attempts))
	return nil, failure
}

type attemptResult struct {
	draft *datatypes.Draft
	err   error
}

// attempt runs one provider under its timeout. The provider call runs in its
// own goroutine so a provider that ignores its context cannot hold the loop
// past the deadline.
func (o *Orchestrator) attempt(ctx context.Context, p provider.Client, req datatypes.GenerationRequest) (*datatypes.Draft, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.attempt")
	defer span.End()
	span.SetAttributes(attribute.String("guide.provider", p.Name()))

	if timeout := p.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		d, err := p.GenerateDraft(ctx, req)
		done <- attemptResult{draft: d, err: err}
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = attemptResult{err: ctx.Err()}
	}

	if res.err == nil && res.draft == nil {
		res.err = errors.New("provider returned no draft")
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return nil, res.err
	}
	return normalize(res.draft, req, p.Name()), nil
}

// normalize trims text, fills defaults and folds a flat step list into the
// default section. The input draft is not modified.
func normalize(in *datatypes.Draft, req datatypes.GenerationRequest, providerName string) *datatypes.Draft {
	d := *in
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Category = strings.ToLower(strings.TrimSpace(d.Category))

	if d.Title == "" {
		d.Title = "How to " + req.Instruction
	}
	if d.Category == "" {
		d.Category = "general"
	}
	if !d.Difficulty.Valid() {
		d.Difficulty = req.Difficulty
	}
	if len(d.Sections) == 0 && len(d.Steps) > 0 {
		d.Sections = []datatypes.DraftSection{{
			ID:    DefaultSectionID,
			Title: DefaultSectionTitle,
			Steps: d.Steps,
		}}
	}
	d.Steps = nil
	d.Provider = providerName
	return &d
}
