// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
	"strings"
)

// ErrMessageBlocked is returned when a filter rejects an instruction.
var ErrMessageBlocked = errors.New("message blocked by filter")

// FilterResult is the outcome of screening one message.
type FilterResult struct {
	Original string

	// Filtered equals Original unless WasModified.
	Filtered string

	WasModified bool

	// WasBlocked means the message must not reach a content provider.
	WasBlocked  bool
	BlockReason string

	Detections []Detection
}

// Detection describes a single item found by a filter.
type Detection struct {
	// Type categorizes the finding, e.g. "blocked_term" or "pii".
	Type string

	// Action is "redacted", "blocked" or "flagged".
	Action string

	Location string
}

// MessageFilter screens text flowing into and out of content providers.
//
// A filter error means the filter itself failed; a rejection is reported
// through FilterResult.WasBlocked.
type MessageFilter interface {
	// FilterInput screens a user instruction before generation.
	FilterInput(ctx context.Context, message string) (*FilterResult, error)

	// FilterOutput screens generated text before it is shown to the user.
	FilterOutput(ctx context.Context, message string) (*FilterResult, error)
}

// NopMessageFilter passes every message through unchanged.
type NopMessageFilter struct{}

func (f *NopMessageFilter) FilterInput(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

func (f *NopMessageFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	return &FilterResult{Original: message, Filtered: message}, nil
}

// TermFilter blocks instructions containing any configured term and
// redacts those terms from generated text. Matching is case-insensitive.
type TermFilter struct {
	terms []string
}

// NewTermFilter creates a TermFilter. Blank terms are ignored.
func NewTermFilter(terms []string) *TermFilter {
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return &TermFilter{terms: cleaned}
}

// FilterInput blocks message if it contains a configured term.
func (f *TermFilter) FilterInput(_ context.Context, message string) (*FilterResult, error) {
	result := &FilterResult{Original: message, Filtered: message}
	lower := strings.ToLower(message)
	for _, term := range f.terms {
		if strings.Contains(lower, term) {
			result.WasBlocked = true
			result.BlockReason = "instruction contains a blocked term"
			result.Detections = append(result.Detections, Detection{Type: "blocked_term", Action: "blocked"})
		}
	}
	return result, nil
}

// FilterOutput replaces configured terms with [REDACTED].
func (f *TermFilter) FilterOutput(_ context.Context, message string) (*FilterResult, error) {
	result := &FilterResult{Original: message, Filtered: message}
	for _, term := range f.terms {
		redacted, found := redactFold(result.Filtered, term)
		if found {
			result.Filtered = redacted
			result.WasModified = true
			result.Detections = append(result.Detections, Detection{Type: "blocked_term", Action: "redacted"})
		}
	}
	return result, nil
}

// redactFold replaces case-insensitive occurrences of lowerTerm.
func redactFold(s, lowerTerm string) (string, bool) {
	lower := strings.ToLower(s)
	if len(lower) != len(s) {
		// Case folding changed byte lengths; fall back to an exact-case pass.
		return strings.ReplaceAll(s, lowerTerm, "[REDACTED]"), strings.Contains(s, lowerTerm)
	}
	var b strings.Builder
	found := false
	i := 0
	for {
		j := strings.Index(lower[i:], lowerTerm)
		if j < 0 {
			b.WriteString(s[i:])
			break
		}
		found = true
		b.WriteString(s[i : i+j])
		b.WriteString("[REDACTED]")
		i += j + len(lowerTerm)
	}
	return b.String(), found
}

var (
	_ MessageFilter = (*NopMessageFilter)(nil)
	_ MessageFilter = (*TermFilter)(nil)
)
