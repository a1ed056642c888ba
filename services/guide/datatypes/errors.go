// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Error Kinds
// =============================================================================

// Kind is the stable, machine-readable category of a guide engine error.
//
// Kinds are surfaced verbatim as the "code" field of HTTP error bodies, so
// their string values must not change.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindGenerationFailed  Kind = "generation_failed"
	KindStructural        Kind = "structural_error"
	KindSessionBusy       Kind = "session_busy"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindAtFirstStep       Kind = "at_first_step"
	KindStepNotInGuide    Kind = "step_not_in_guide"
	KindInternal          Kind = "internal_error"
)

// Sentinels for errors.Is comparisons. They carry no message and match any
// *Error of the same Kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrGenerationFailed  = &Error{Kind: KindGenerationFailed}
	ErrStructural        = &Error{Kind: KindStructural}
	ErrSessionBusy       = &Error{Kind: KindSessionBusy}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAtFirstStep       = &Error{Kind: KindAtFirstStep}
	ErrStepNotInGuide    = &Error{Kind: KindStepNotInGuide}
)

// =============================================================================
// Error
// =============================================================================

// Error is the typed error returned by every guide engine component.
//
// # Description
//
// Error carries a Kind, a human-readable message, optional structured
// details (echoed to API clients) and an optional wrapped cause.
//
// # Example
//
//	if errors.Is(err, datatypes.ErrAtFirstStep) {
//	    // stay on step 0
//	}
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the same operation unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindSessionBusy || e.Kind == KindGenerationFailed
}

// NewValidationError builds a validation error with optional field details.
func NewValidationError(message string, details map[string]any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NewStructuralError reports a draft that cannot form a valid guide.
func NewStructuralError(format string, args ...any) *Error {
	return &Error{Kind: KindStructural, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError reports a missing guide or session.
func NewNotFoundError(resource, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

// NewSessionBusyError reports a session whose mutation lock could not be acquired.
func NewSessionBusyError(sessionID string, cause error) *Error {
	return &Error{
		Kind:    KindSessionBusy,
		Message: "session is busy with another operation",
		Details: map[string]any{"session_id": sessionID},
		Err:     cause,
	}
}

// NewInvalidTransitionError reports an operation not allowed in the session's status.
func NewInvalidTransitionError(op string, status SessionStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot %s a %s session", op, status),
		Details: map[string]any{"operation": op, "status": string(status)},
	}
}

// NewAtFirstStepError reports a previous-step request on step 0.
func NewAtFirstStepError() *Error {
	return &Error{Kind: KindAtFirstStep, Message: "already at the first step"}
}

// NewStepNotInGuideError reports a step index outside [0, totalSteps).
func NewStepNotInGuideError(index, totalSteps int) *Error {
	return &Error{
		Kind:    KindStepNotInGuide,
		Message: fmt.Sprintf("step %d is not part of this guide", index),
		Details: map[string]any{"step_index": index, "total_steps": totalSteps},
	}
}

// =============================================================================
// Generation Failure
// =============================================================================

// ProviderAttempt records one provider's failed attempt at producing a draft.
type ProviderAttempt struct {
	Provider string        `json:"provider"`
	Error    string        `json:"error"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration_ns"`
}

// GenerationFailure is returned when no provider produced a usable draft.
//
// It matches ErrGenerationFailed under errors.Is and is always retryable.
type GenerationFailure struct {
	Exhausted bool
	Attempts  []ProviderAttempt
}

func (f *GenerationFailure) Error() string {
	if len(f.Attempts) == 0 {
		return "all content providers failed"
	}
	parts := make([]string, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Error))
	}
	return fmt.Sprintf("all content providers failed (%s)", strings.Join(parts, "; "))
}

func (f *GenerationFailure) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindGenerationFailed
}

func (f *GenerationFailure) Retryable() bool { return true }

// =============================================================================
// Helpers
// =============================================================================

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var gf *GenerationFailure
	if errors.As(err, &gf) {
		return KindGenerationFailed
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a retryable guide engine error.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}
