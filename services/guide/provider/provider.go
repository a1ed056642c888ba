// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provider defines content providers: the backends asked to produce a
// draft guide for an instruction.
//
// # Description
//
// Two implementations exist. LLMProvider prompts any llm.LLMClient for a JSON
// guide and parses the reply. RuleBasedProvider assembles a deterministic
// template guide locally and is used as the last-resort fallback.
package provider

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
)

// Client is the uniform capability the generation orchestrator calls.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Name identifies the provider in logs, metrics and failure reports.
	Name() string

	// Timeout bounds one GenerateDraft call. Zero means no per-provider bound.
	Timeout() time.Duration

	// GenerateDraft returns a draft for an already validated request.
	GenerateDraft(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.Draft, error)
}
