// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultLMStudioURL = "http://localhost:1234/v1"

type OpenAIClient struct {
	client *openai.Client
	model  string
	name   string
}

// NewOpenAIClient creates a client for the hosted OpenAI API.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	apiKey := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", "/run/secrets/openai_api_key")
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found")
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := firstNonEmpty(cfg.Model, os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	oc := openai.DefaultConfig(apiKey)
	if base := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL")); base != "" {
		oc.BaseURL = strings.TrimSuffix(base, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), model: model, name: BackendOpenAI}, nil
}

// NewLMStudioClient creates a client for a local LM Studio server, which
// speaks the OpenAI chat completions protocol and needs no real key.
func NewLMStudioClient(cfg ClientConfig) (*OpenAIClient, error) {
	base := firstNonEmpty(cfg.BaseURL, os.Getenv("LMSTUDIO_BASE_URL"), defaultLMStudioURL)
	model := firstNonEmpty(cfg.Model, os.Getenv("LMSTUDIO_MODEL"), "local-model")

	oc := openai.DefaultConfig(firstNonEmpty(cfg.APIKey, "lm-studio"))
	oc.BaseURL = strings.TrimSuffix(base, "/")
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Info("Initializing LM Studio client", "base_url", oc.BaseURL, "model", model)
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), model: model, name: BackendLMStudio}, nil
}

// Generate implements the LLMClient interface
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("Generating text via OpenAI-compatible API", "backend", o.name, "model", o.model)
	system := params.SystemPrompt
	if system == "" {
		system = "You are a helpful assistant."
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	if params.JSONMode && o.name == BackendOpenAI {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "backend", o.name, "error", err)
		return "", fmt.Errorf("%s API call failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", o.name)
	}
	slog.Debug("Received response from OpenAI-compatible API", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
