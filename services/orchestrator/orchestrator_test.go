// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		GinMode: gin.TestMode,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestService(t *testing.T, cfg Config, opts *extensions.ServiceOptions) Service {
	t.Helper()
	svc, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func request(t *testing.T, svc Service, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	return w
}

const generateBody = `{"instruction":"Set up a home network printer","difficulty":"beginner"}`

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	t.Setenv(gin.EnvGinMode, "")

	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port, "default port should be 12210")
	assert.Equal(t, gin.ReleaseMode, result.GinMode)
	assert.Equal(t, TracingNone, result.TracingExporter, "no endpoint means no tracing")
	assert.Equal(t, "guide-service", result.ServiceName)
	assert.Equal(t, time.Minute, result.CleanupInterval)
	assert.Equal(t, time.Duration(0), result.IdleSessionTTL, "expiry is opt-in")
	assert.Equal(t, 1000, result.AuditCapacity)
	assert.Equal(t, 15*time.Second, result.ShutdownTimeout)
	assert.NotNil(t, result.Logger)
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:            8080,
		GinMode:         gin.DebugMode,
		OTelEndpoint:    "custom-collector:4317",
		TracingExporter: "STDOUT",
		CleanupInterval: 5 * time.Second,
		IdleSessionTTL:  time.Hour,
		ServiceName:     "guide-edge",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, gin.DebugMode, result.GinMode)
	assert.Equal(t, TracingStdout, result.TracingExporter, "exporter name is case-insensitive")
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, 5*time.Second, result.CleanupInterval)
	assert.Equal(t, time.Hour, result.IdleSessionTTL)
	assert.Equal(t, "guide-edge", result.ServiceName)
}

func TestApplyConfigDefaults_EndpointEnablesOTLP(t *testing.T) {
	result := applyConfigDefaults(Config{OTelEndpoint: "collector:4317"})
	assert.Equal(t, TracingOTLP, result.TracingExporter)
}

func TestApplyConfigDefaults_ProviderDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{Providers: []ProviderConfig{
		{Backend: " OpenAI "},
		{Backend: "ollama", Name: "ollama-local", Timeout: 5 * time.Second},
	}})

	require.Len(t, result.Providers, 2)
	assert.Equal(t, "openai", result.Providers[0].Backend)
	assert.Equal(t, "openai", result.Providers[0].Name)
	assert.Equal(t, 60*time.Second, result.Providers[0].Timeout)
	assert.Equal(t, "ollama-local", result.Providers[1].Name)
	assert.Equal(t, 5*time.Second, result.Providers[1].Timeout)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_DefaultConfigServesRuleGuides(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)
	require.NotNil(t, svc.Router())
	assert.Equal(t, []string{"rules"}, svc.Guide().Providers())

	w := request(t, svc, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), "rules")

	w = request(t, svc, http.MethodPost, "/v1/guides/generate", generateBody, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result datatypes.GenerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.GuideID)
	assert.Equal(t, datatypes.SessionActive, result.CurrentStep.Status)
}

func TestNew_ConfiguredProvidersPrecedeRules(t *testing.T) {
	cfg := testConfig()
	cfg.Providers = []ProviderConfig{{Backend: "ollama", Name: "ollama-test", Model: "llama3", BaseURL: "http://127.0.0.1:1"}}

	svc := newTestService(t, cfg, nil)

	assert.Equal(t, []string{"ollama-test", "rules"}, svc.Guide().Providers())
}

func TestNew_UnknownBackendFails(t *testing.T) {
	cfg := testConfig()
	cfg.Providers = []ProviderConfig{{Backend: "carrier-pigeon"}}

	svc, err := New(cfg, nil)

	require.Error(t, err)
	assert.Nil(t, svc)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNew_UnknownTracingExporterFails(t *testing.T) {
	cfg := testConfig()
	cfg.TracingExporter = "zipkin"

	_, err := New(cfg, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}

// =============================================================================
// Wiring Tests
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)

	request(t, svc, http.MethodGet, "/health", "", nil)
	w := request(t, svc, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "aleutian_guide_http_requests_total")
	assert.Contains(t, body, `route="/health"`)
	assert.Contains(t, body, "go_goroutines")
}

func TestAPITokensEnableAuthentication(t *testing.T) {
	cfg := testConfig()
	cfg.APITokens = map[string]string{"secret-token": "dana"}
	svc := newTestService(t, cfg, nil)

	w := request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(t, svc, http.MethodGet, "/v1/sessions", "", http.Header{
		"Authorization": {"Bearer wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(t, svc, http.MethodGet, "/v1/sessions", "", http.Header{
		"Authorization": {"Bearer secret-token"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = request(t, svc, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, "health stays public")
}

func TestRateLimitApplied(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	svc := newTestService(t, cfg, nil)

	for i := 0; i < 2; i++ {
		w := request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := request(t, svc, http.MethodGet, "/v1/sessions", "", nil)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestSetRateLimitOnRunningServer(t *testing.T) {
	svc := newTestService(t, testConfig(), nil)

	for i := 0; i < 5; i++ {
		w := request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
		require.Equal(t, http.StatusOK, w.Code, "unlimited by default")
	}

	svc.SetRateLimit(0.001, 1)
	w := request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	svc.SetRateLimit(0, 0)
	w = request(t, svc, http.MethodGet, "/v1/sessions", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBlockedTermsRejectInstruction(t *testing.T) {
	cfg := testConfig()
	cfg.BlockedTerms = []string{"printer"}
	svc := newTestService(t, cfg, nil)

	w := request(t, svc, http.MethodPost, "/v1/guides/generate", generateBody, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestInjectedAuditLoggerReceivesEvents(t *testing.T) {
	audit := extensions.NewSlogAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), 10)
	opts := extensions.DefaultOptions().WithAudit(audit)
	svc := newTestService(t, testConfig(), &opts)

	w := request(t, svc, http.MethodPost, "/v1/guides/generate", generateBody, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	events, err := audit.Query(context.Background(), extensions.AuditFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestDataDirPersistsSessionsAcrossRestart(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()

	first, err := New(cfg, nil)
	require.NoError(t, err)
	w := request(t, first, http.MethodPost, "/v1/guides/generate", generateBody, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var result datatypes.GenerationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	w = request(t, first, http.MethodPost, "/v1/sessions/"+result.SessionID+"/advance", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, first.Close(context.Background()))

	second := newTestService(t, cfg, nil)
	w = request(t, second, http.MethodGet, "/v1/sessions/"+result.SessionID+"/current-step", "", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view datatypes.CurrentStepView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotNil(t, view.CurrentStep)
	assert.Equal(t, 1, view.CurrentStep.Index)
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestServe_GracefulShutdown(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	s := svc.(*service)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}

	_, err = http.Get(url)
	assert.Error(t, err, "listener is closed after shutdown")
}

func TestClose_Idempotent(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, svc.Close(context.Background()))
	assert.NoError(t, svc.Close(context.Background()))
}
