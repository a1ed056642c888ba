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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// LocalLlamaCppClient talks to a llama.cpp server's /completion endpoint.
type LocalLlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
}

type llamaCppPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type llamaCppResp struct {
	Content string `json:"content"`
}

func NewLocalLlamaCppClient(cfg ClientConfig) (*LocalLlamaCppClient, error) {
	baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("LLM_SERVICE_URL_BASE"))
	if baseURL == "" {
		return nil, fmt.Errorf("LLM_SERVICE_URL_BASE environment variable not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &LocalLlamaCppClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Generate implements the LLMClient interface
func (l *LocalLlamaCppClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	if params.SystemPrompt != "" {
		prompt = params.SystemPrompt + "\n\n" + prompt
	}
	payload := llamaCppPayload{Prompt: prompt, NPredict: 2048, Stop: params.Stop}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	} else {
		t := float32(0.2)
		payload.Temperature = &t
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal the payload: %w", err)
	}
	completionURL := l.baseURL + "/completion"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Calling llama.cpp completion", "url", completionURL)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make a request to the llm: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read the llm's response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama.cpp returned status %d: %s", resp.StatusCode, string(respBody))
	}
	var out llamaCppResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to parse the llm response: %w", err)
	}
	return out.Content, nil
}
