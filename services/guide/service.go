// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guide is the guide engine facade.
//
// # Description
//
// Service turns a natural-language instruction into a sectioned guide and
// walks users through it one step at a time. It composes:
//
//   - generation: ordered provider fallback producing a Draft
//   - builder: Draft -> immutable Guide
//   - cache: single-flight, TTL-bound reuse of guides per request key
//   - session: per-session serialized state with write-through storage
//   - navigator/progress: the state machine, completion tracking and views
//
// # Thread Safety
//
// Service is safe for concurrent use.
package guide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/AleutianAI/AleutianGuide/services/guide/builder"
	"github.com/AleutianAI/AleutianGuide/services/guide/cache"
	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/guide/generation"
	"github.com/AleutianAI/AleutianGuide/services/guide/navigator"
	"github.com/AleutianAI/AleutianGuide/services/guide/progress"
	"github.com/AleutianAI/AleutianGuide/services/guide/provider"
	"github.com/AleutianAI/AleutianGuide/services/guide/session"
	"github.com/AleutianAI/AleutianGuide/services/guide/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("aleutian.guide")

// DefaultMaxConcurrentGenerations caps simultaneous provider walks.
const DefaultMaxConcurrentGenerations = 8

// Config configures a Service.
type Config struct {
	// Providers in priority order. The rule-based provider is appended last
	// so generation always has a local fallback.
	Providers []provider.Client

	// NoRuleFallback makes generation fail instead of serving the
	// rule-based template guide when every configured provider fails.
	NoRuleFallback bool

	// Repository persists guides and sessions. Nil keeps them in memory.
	Repository storage.Repository

	CacheTTL                 time.Duration
	CacheMaxEntries          int
	LockWait                 time.Duration
	MaxConcurrentGenerations int64

	Logger *slog.Logger

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// Service is the guide engine.
type Service struct {
	generator *generation.Orchestrator
	builder   *builder.Builder
	cache     *cache.GenerationCache
	sessions  *session.Store
	slots     *semaphore.Weighted
	audit     extensions.AuditLogger
	filter    extensions.MessageFilter
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the engine.
//
// # Inputs
//
//   - cfg: Engine configuration. Zero values take defaults.
//   - opts: Extension points. Nil fields become no-ops.
//
// # Outputs
//
//   - *Service: Ready to use.
//   - error: Non-nil if the provider chain cannot be built.
func NewService(cfg Config, opts extensions.ServiceOptions) (*Service, error) {
	opts = opts.Normalize()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.MaxConcurrentGenerations <= 0 {
		cfg.MaxConcurrentGenerations = DefaultMaxConcurrentGenerations
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = cache.DefaultMaxEntries
	}

	providers := cfg.Providers
	if !cfg.NoRuleFallback {
		providers = withRuleFallback(cfg.Providers)
	}

	builderOpts := []builder.Option{builder.WithClock(cfg.Now)}
	storeOpts := []session.Option{
		session.WithClock(cfg.Now),
		session.WithLockWait(cfg.LockWait),
		session.WithLogger(cfg.Logger),
	}
	if cfg.NewID != nil {
		builderOpts = append(builderOpts, builder.WithIDFunc(cfg.NewID))
		storeOpts = append(storeOpts, session.WithIDFunc(cfg.NewID))
	}
	b := builder.New(builderOpts...)

	gen, err := generation.New(providers, generation.WithLogger(cfg.Logger))
	if err != nil {
		return nil, fmt.Errorf("create generation orchestrator: %w", err)
	}

	return &Service{
		generator: gen,
		builder:   b,
		cache: cache.NewGenerationCache(
			cache.WithTTL(cfg.CacheTTL),
			cache.WithMaxEntries(cfg.CacheMaxEntries),
		),
		sessions: session.NewStore(cfg.Repository, storeOpts...),
		slots:    semaphore.NewWeighted(cfg.MaxConcurrentGenerations),
		audit:    opts.AuditLogger,
		filter:   opts.MessageFilter,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

func withRuleFallback(providers []provider.Client) []provider.Client {
	out := make([]provider.Client, 0, len(providers)+1)
	for _, p := range providers {
		if p != nil && p.Name() != provider.RuleBasedName {
			out = append(out, p)
		}
	}
	return append(out, provider.NewRuleBasedProvider())
}

// Providers returns the provider names in the order they are tried.
func (s *Service) Providers() []string {
	return s.generator.Providers()
}

// CacheStats exposes generation cache counters.
func (s *Service) CacheStats() cache.CacheStats {
	return s.cache.Stats()
}

// Close flushes the audit trail and closes storage.
func (s *Service) Close(ctx context.Context) error {
	flushErr := s.audit.Flush(ctx)
	closeErr := s.sessions.Close()
	return errors.Join(flushErr, closeErr)
}

// =============================================================================
// Generation
// =============================================================================

// Generate creates a guide for the instruction and starts a session on it.
//
// # Description
//
// The request is validated and screened before any provider is called.
// Equivalent requests within the cache TTL reuse the same guide; each call
// still starts a fresh session. When every provider fails nothing is cached
// and no session is created.
//
// # Outputs
//
//   - *datatypes.GenerationResult: The session and its first step view.
//   - error: validation_error, generation_failed, structural_error when the
//     winning provider's draft breaks guide invariants, or ctx.Err().
func (s *Service) Generate(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "guide.Service.Generate")
	defer span.End()

	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		recordGeneration(ctx, "invalid", false)
		return nil, err
	}
	if err := s.screenInstruction(ctx, &req); err != nil {
		recordGeneration(ctx, "blocked", false)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("difficulty", string(req.Difficulty)),
	)

	key := cache.Key(req.Instruction, req.Difficulty)
	guide, cached, err := s.cache.GetOrGenerate(ctx, key, func(genCtx context.Context) (*datatypes.Guide, error) {
		return s.generateGuide(genCtx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		recordGeneration(ctx, "failed", false)
		s.logger.Warn("Guide generation failed",
			slog.String("request_id", req.RequestID),
			slog.String("error", err.Error()))
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, guide)
	if err != nil {
		return nil, err
	}
	recordGeneration(ctx, "success", cached)
	recordSessionEvent(ctx, "started")
	span.SetAttributes(
		attribute.String("guide_id", guide.ID),
		attribute.String("session_id", sess.ID),
		attribute.Bool("cached", cached),
	)

	s.emit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventGuideGenerated,
		Action:       "generate",
		ResourceType: "guide",
		ResourceID:   guide.ID,
		Outcome:      "success",
		Metadata: map[string]any{
			"session_id": sess.ID,
			"provider":   guide.Provider,
			"cached":     cached,
		},
	})
	s.logger.Info("Guide session started",
		slog.String("request_id", req.RequestID),
		slog.String("guide_id", guide.ID),
		slog.String("session_id", sess.ID),
		slog.String("provider", guide.Provider),
		slog.Bool("cached", cached))

	return &datatypes.GenerationResult{
		SessionID:        sess.ID,
		GuideID:          guide.ID,
		GuideTitle:       guide.Title,
		GuideDescription: guide.Description,
		Cached:           cached,
		CurrentStep:      navigator.CurrentView(sess, guide),
	}, nil
}

// generateGuide runs the provider chain under a concurrency slot and builds
// the guide. It runs detached from any single caller's cancellation. A draft
// that fails Build is returned as a structural error and never cached.
func (s *Service) generateGuide(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.Guide, error) {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	draft, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.screenDraft(ctx, draft); err != nil {
		return nil, err
	}
	return s.builder.Build(draft)
}

// screenInstruction applies the input filter to the instruction.
func (s *Service) screenInstruction(ctx context.Context, req *datatypes.GenerationRequest) error {
	res, err := s.filter.FilterInput(ctx, req.Instruction)
	if err != nil {
		return fmt.Errorf("filter instruction: %w", err)
	}
	if res.WasBlocked {
		s.emit(ctx, extensions.AuditEvent{
			EventType:    extensions.EventGuideGenerated,
			Action:       "generate",
			ResourceType: "guide",
			Outcome:      "blocked",
			Metadata:     map[string]any{"request_id": req.RequestID, "reason": res.BlockReason},
		})
		return datatypes.NewValidationError("instruction rejected",
			map[string]any{"instruction": res.BlockReason})
	}
	if res.WasModified {
		req.Instruction = res.Filtered
	}
	return nil
}

// screenDraft applies the output filter to user-visible draft text.
func (s *Service) screenDraft(ctx context.Context, d *datatypes.Draft) error {
	apply := func(text *string) error {
		if *text == "" {
			return nil
		}
		res, err := s.filter.FilterOutput(ctx, *text)
		if err != nil {
			return fmt.Errorf("filter guide content: %w", err)
		}
		*text = res.Filtered
		return nil
	}

	if err := apply(&d.Title); err != nil {
		return err
	}
	if err := apply(&d.Description); err != nil {
		return err
	}
	for i := range d.Sections {
		sec := &d.Sections[i]
		if err := apply(&sec.Title); err != nil {
			return err
		}
		for j := range sec.Steps {
			st := &sec.Steps[j]
			for _, text := range []*string{&st.Title, &st.Description, &st.CompletionCriteria} {
				if err := apply(text); err != nil {
					return err
				}
			}
			for k := range st.AssistanceHints {
				if err := apply(&st.AssistanceHints[k]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// =============================================================================
// Sessions
// =============================================================================

// StartSession starts a new session on an existing guide.
func (s *Service) StartSession(ctx context.Context, guideID string) (*datatypes.CurrentStepView, error) {
	g, err := s.sessions.Guide(ctx, guideID)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, g)
	if err != nil {
		return nil, err
	}
	recordSessionEvent(ctx, "started")
	s.emit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventSessionStarted,
		Action:       "start",
		ResourceType: "session",
		ResourceID:   sess.ID,
		Outcome:      "success",
		Metadata:     map[string]any{"guide_id": g.ID},
	})
	view := navigator.CurrentView(sess, g)
	return &view, nil
}

// CurrentStep returns the current step view.
func (s *Service) CurrentStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error) {
	sess, g, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := navigator.CurrentView(sess, g)
	return &view, nil
}

// AdvanceStep moves to the next step, completing the session after the last.
func (s *Service) AdvanceStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error) {
	view, err := s.transition(ctx, sessionID, navigator.Advance)
	if err == nil && view.Status == datatypes.SessionCompleted {
		recordSessionEvent(ctx, "completed")
	}
	return view, err
}

// PreviousStep moves back one step.
func (s *Service) PreviousStep(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error) {
	return s.transition(ctx, sessionID, navigator.Previous)
}

// Abandon ends the session.
func (s *Service) Abandon(ctx context.Context, sessionID string) (*datatypes.CurrentStepView, error) {
	view, err := s.transition(ctx, sessionID, navigator.Abandon)
	if err != nil {
		return nil, err
	}
	recordSessionEvent(ctx, "abandoned")
	s.emit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventSessionAbandoned,
		Action:       "abandon",
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      "success",
	})
	return view, nil
}

func (s *Service) transition(ctx context.Context, sessionID string, step func(*datatypes.Session, *datatypes.Guide, time.Time) error) (*datatypes.CurrentStepView, error) {
	var guide *datatypes.Guide
	sess, err := s.sessions.Mutate(ctx, sessionID, func(sess *datatypes.Session, g *datatypes.Guide) error {
		guide = g
		return step(sess, g, s.now())
	})
	if err != nil {
		return nil, err
	}
	view := navigator.CurrentView(sess, guide)
	return &view, nil
}

// CompleteStep records a completion of stepIndex without navigating.
func (s *Service) CompleteStep(ctx context.Context, sessionID string, stepIndex int, method datatypes.CompletionMethod) (*datatypes.ProgressSummary, error) {
	if method == "" {
		method = datatypes.CompletionManual
	}
	var guide *datatypes.Guide
	sess, err := s.sessions.Mutate(ctx, sessionID, func(sess *datatypes.Session, g *datatypes.Guide) error {
		guide = g
		_, err := progress.RecordCompletion(sess, g, stepIndex, method, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	recordStepCompletion(ctx, method)
	s.emit(ctx, extensions.AuditEvent{
		EventType:    extensions.EventStepCompleted,
		Action:       "complete",
		ResourceType: "session",
		ResourceID:   sessionID,
		Outcome:      "success",
		Metadata:     map[string]any{"step_index": stepIndex, "method": string(method)},
	})
	summary := progress.Summarize(sess, guide)
	return &summary, nil
}

// Progress returns the session's progress summary.
func (s *Service) Progress(ctx context.Context, sessionID string) (*datatypes.ProgressSummary, error) {
	sess, g, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary := progress.Summarize(sess, g)
	return &summary, nil
}

// Help returns the hints and completion criteria of the current step.
func (s *Service) Help(ctx context.Context, sessionID string) (*datatypes.HelpView, error) {
	sess, g, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	help, err := navigator.Help(sess, g)
	if err != nil {
		return nil, err
	}
	return &help, nil
}

// ListSessions returns summaries of sessions matching filter.
func (s *Service) ListSessions(ctx context.Context, filter datatypes.SessionFilter) ([]datatypes.SessionSummary, error) {
	sessions, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, navigator.Summary(sess))
	}
	return out, nil
}

// AbandonIdle abandons active sessions with no activity for idleFor.
//
// # Description
//
// A session's last activity is the later of its last mutation and its
// last recorded completion. Busy sessions are skipped and picked up on the
// next run.
//
// # Outputs
//
//   - int: Number of sessions abandoned.
//   - error: Non-nil only if listing sessions fails.
func (s *Service) AbandonIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	if idleFor <= 0 {
		return 0, nil
	}
	active, err := s.sessions.List(ctx, datatypes.SessionFilter{Status: datatypes.SessionActive})
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	cutoff := s.now().Add(-idleFor)
	abandoned := 0
	for _, candidate := range active {
		if !idleSince(candidate, cutoff) {
			continue
		}
		_, err := s.sessions.Mutate(ctx, candidate.ID, func(sess *datatypes.Session, g *datatypes.Guide) error {
			if !sess.Active() || !idleSince(sess, cutoff) {
				return errSkip
			}
			return navigator.Abandon(sess, g, s.now())
		})
		switch {
		case err == nil:
			abandoned++
			recordSessionEvent(ctx, "expired")
			s.emit(ctx, extensions.AuditEvent{
				EventType:    extensions.EventSessionAbandoned,
				UserID:       "system",
				Action:       "expire",
				ResourceType: "session",
				ResourceID:   candidate.ID,
				Outcome:      "success",
				Metadata:     map[string]any{"idle_for": idleFor.String()},
			})
		case errors.Is(err, errSkip):
		default:
			s.logger.Warn("Idle session not abandoned",
				slog.String("session_id", candidate.ID),
				slog.String("error", err.Error()))
		}
	}
	return abandoned, nil
}

// PurgeExpiredGuides drops expired generation cache entries.
func (s *Service) PurgeExpiredGuides() int {
	return s.cache.PurgeExpired()
}

var errSkip = errors.New("skip")

func idleSince(sess *datatypes.Session, cutoff time.Time) bool {
	last := sess.UpdatedAt
	if sess.Progress.LastActivityAt.After(last) {
		last = sess.Progress.LastActivityAt
	}
	return last.Before(cutoff)
}

func (s *Service) load(ctx context.Context, sessionID string) (*datatypes.Session, *datatypes.Guide, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	g, err := s.sessions.Guide(ctx, sess.GuideID)
	if err != nil {
		return nil, nil, err
	}
	return sess, g, nil
}

func (s *Service) emit(ctx context.Context, event extensions.AuditEvent) {
	if event.UserID == "" {
		event.UserID = extensions.UserIDFromContext(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.Warn("Audit log failed",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(event.EventType)
	}
}
