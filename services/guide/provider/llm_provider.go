// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/AleutianAI/AleutianGuide/services/llm"
)

// ErrUnparseableResponse is returned when the model reply holds no usable guide JSON.
var ErrUnparseableResponse = errors.New("model response did not contain a guide")

const systemPromptTemplate = `You are an expert assistant that creates comprehensive step-by-step guides with logical sectioning.

Create a %[1]s-level guide for: %[2]q

Structure the guide with logical sections that group related steps together, for example
"Setup", "Configuration", "Execution" and "Validation".

Return ONLY a valid JSON object with this exact structure:
{
  "guide": {
    "title": "string",
    "description": "string",
    "category": "string",
    "difficulty_level": "%[1]s",
    "estimated_duration_minutes": number,
    "sections": [
      {
        "section_id": "string (lowercase_underscore)",
        "section_title": "string",
        "section_description": "string",
        "section_order": number,
        "steps": [
          {
            "step_index": number,
            "title": "string",
            "description": "string",
            "completion_criteria": "string",
            "assistance_hints": ["string"],
            "estimated_duration_minutes": number,
            "requires_desktop_monitoring": boolean,
            "visual_markers": ["string"],
            "prerequisites": ["string"]
          }
        ]
      }
    ]
  }
}

Guidelines:
- Create 2-4 logical sections with 2-4 steps each
- Each step must be clear and actionable and have specific completion criteria
- Add helpful hints and realistic time estimates for each step
- Mark steps involving UI interaction as requiring desktop monitoring and list visual markers for them
- %[3]s`

var formatGuidance = map[datatypes.FormatPreference]string{
	datatypes.FormatDetailed: "Write detailed, practical descriptions for every step",
	datatypes.FormatConcise:  "Keep every description to one or two short sentences",
}

// LLMProvider asks a language model for a guide in JSON form.
type LLMProvider struct {
	name    string
	client  llm.LLMClient
	timeout time.Duration
	params  llm.GenerationParams
}

// NewLLMProvider wraps client as a content provider.
//
// # Inputs
//
//   - name: Provider name reported in logs and failures (e.g. "openai").
//   - client: Backend used for generation.
//   - timeout: Per-call bound applied by the orchestrator. Zero disables it.
func NewLLMProvider(name string, client llm.LLMClient, timeout time.Duration) *LLMProvider {
	temperature := float32(0.7)
	maxTokens := 4000
	return &LLMProvider{
		name:    name,
		client:  client,
		timeout: timeout,
		params: llm.GenerationParams{
			Temperature: &temperature,
			MaxTokens:   &maxTokens,
			JSONMode:    true,
		},
	}
}

func (p *LLMProvider) Name() string           { return p.name }
func (p *LLMProvider) Timeout() time.Duration { return p.timeout }

// GenerateDraft prompts the model and parses its reply.
func (p *LLMProvider) GenerateDraft(ctx context.Context, req datatypes.GenerationRequest) (*datatypes.Draft, error) {
	params := p.params
	params.SystemPrompt = BuildPrompt(req)

	raw, err := p.client.Generate(ctx, req.Instruction, params)
	if err != nil {
		return nil, fmt.Errorf("%s generate: %w", p.name, err)
	}
	draft, err := ParseDraft(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	return draft, nil
}

// BuildPrompt renders the system prompt for a request.
func BuildPrompt(req datatypes.GenerationRequest) string {
	guidance, ok := formatGuidance[req.FormatPreference]
	if !ok {
		guidance = formatGuidance[datatypes.FormatDetailed]
	}
	return fmt.Sprintf(systemPromptTemplate, req.Difficulty, req.Instruction, guidance)
}

// ParseDraft extracts a draft from a model reply.
//
// # Description
//
// Accepts the reply wrapped in markdown code fences or surrounded by prose.
// The JSON object spanning the first '{' to the last '}' is decoded either
// as {"guide": {...}} or as a bare guide object.
func ParseDraft(raw string) (*datatypes.Draft, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return nil, ErrUnparseableResponse
	}
	body = body[start : end+1]

	var envelope struct {
		Guide *datatypes.Draft `json:"guide"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	draft := envelope.Guide
	if draft == nil {
		draft = &datatypes.Draft{}
		if err := json.Unmarshal([]byte(body), draft); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
		}
	}
	if len(draft.Sections) == 0 && len(draft.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrUnparseableResponse)
	}
	return draft, nil
}
