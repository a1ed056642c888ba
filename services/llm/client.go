// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the text-generation backends used by guide content
// providers: OpenAI and OpenAI-compatible servers (LM Studio), Anthropic,
// Ollama and llama.cpp.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// SystemPrompt is sent as the system role when the backend supports one.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// JSONMode asks the backend to constrain output to a JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ClientConfig configures one backend. Empty fields fall back to the
// backend's environment variables, then to built-in defaults.
type ClientConfig struct {
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Backend names accepted by NewClient.
const (
	BackendOpenAI    = "openai"
	BackendLMStudio  = "lmstudio"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "local"
)

// NewClient builds the LLMClient for a backend name.
func NewClient(backend string, cfg ClientConfig) (LLMClient, error) {
	switch strings.ToLower(backend) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendLMStudio:
		return NewLMStudioClient(cfg)
	case BackendAnthropic, "claude":
		return NewAnthropicClient(cfg)
	case BackendOllama:
		return NewOllamaClient(cfg)
	case BackendLlamaCpp, "llamacpp":
		return NewLocalLlamaCppClient(cfg)
	}
	return nil, fmt.Errorf("unknown LLM backend %q", backend)
}

// resolveAPIKey returns the configured key, the env var, or the container secret.
func resolveAPIKey(configured, envVar, secretPath string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		slog.Info("Read API key from container secret", "path", secretPath)
		return strings.TrimSpace(string(content))
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
