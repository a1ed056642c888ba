// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianGuide/cmd/guide/config"
	"github.com/AleutianAI/AleutianGuide/pkg/logging"
	"github.com/AleutianAI/AleutianGuide/services/guide/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv keeps the developer's environment out of the command under test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvPort, config.EnvProviders, config.EnvDataDir,
		config.EnvOTelEndpoint, config.EnvLogLevel,
	} {
		t.Setenv(k, "")
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")

	require.NoError(t, err)
	assert.Equal(t, "guide dev\n", out)
}

func TestGenerateCommand_PrintsFirstStep(t *testing.T) {
	clearEnv(t)

	out, _, err := execute(t, "generate", "--log-level", "error",
		"Change", "a", "flat", "tire", "--difficulty", "intermediate")

	require.NoError(t, err)
	var result datatypes.GenerationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), out)
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.GuideID)
	assert.Contains(t, result.GuideTitle, "Change a flat tire")
	require.NotNil(t, result.CurrentStep.CurrentStep)
	assert.Equal(t, 0, result.CurrentStep.CurrentStep.Index)
	assert.Equal(t, datatypes.SessionActive, result.CurrentStep.Status)
}

func TestGenerateCommand_ValidationError(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "generate", "--log-level", "error", "Bake bread", "--difficulty", "expert")

	require.Error(t, err)
	var gerr *datatypes.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, datatypes.KindValidation, gerr.Kind)
}

func TestGenerateCommand_RequiresInstruction(t *testing.T) {
	_, _, err := execute(t, "generate")
	assert.Error(t, err)
}

func TestCommands_MissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "generate", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "Wash a car")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestServeCommand_FailsFastOnBadProvider(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "guide.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - backend: telepathy\n"), 0o600))

	_, _, err := execute(t, "serve", "--config", path, "--log-level", "error")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
}

func TestLogLevelFlagValidated(t *testing.T) {
	clearEnv(t)

	_, _, err := execute(t, "generate", "--log-level", "shouty", "Wash a car")

	assert.Error(t, err)
}

type limitCall struct {
	rps   float64
	burst int
}

type recordingLimiter struct {
	calls chan limitCall
}

func (r *recordingLimiter) SetRateLimit(rps float64, burst int) {
	r.calls <- limitCall{rps: rps, burst: burst}
}

func TestApplyReload(t *testing.T) {
	next := config.Default()
	next.Logging.Level = "debug"
	next.Server.RateLimitRPS = 3
	next.Server.RateLimitBurst = 4

	t.Run("config level applies", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := logging.New(logging.Config{Level: logging.LevelWarn, Format: logging.FormatText, Output: &buf})
		require.NoError(t, err)
		limiter := &recordingLimiter{calls: make(chan limitCall, 1)}

		(&cliOptions{}).applyReload(logger, limiter, next)

		assert.Equal(t, limitCall{rps: 3, burst: 4}, <-limiter.calls)
		logger.Slog().Debug("now visible")
		assert.Contains(t, buf.String(), "now visible")
	})

	t.Run("flag override wins", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := logging.New(logging.Config{Level: logging.LevelWarn, Format: logging.FormatText, Output: &buf})
		require.NoError(t, err)
		limiter := &recordingLimiter{calls: make(chan limitCall, 1)}

		(&cliOptions{logLevel: "warn"}).applyReload(logger, limiter, next)

		<-limiter.calls
		logger.Slog().Debug("still hidden")
		assert.NotContains(t, buf.String(), "still hidden")
	})
}

func TestWatchAppliesEditedConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "guide.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  rate_limit_rps: 1\n"), 0o600))

	limiter := &recordingLimiter{calls: make(chan limitCall, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher, err := (&cliOptions{configPath: path}).watch(ctx, logging.Discard(), limiter)
	require.NoError(t, err)
	defer watcher.Stop()

	body := strings.Join([]string{"server:", "  rate_limit_rps: 9", "  rate_limit_burst: 2", ""}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	select {
	case call := <-limiter.calls:
		assert.Equal(t, limitCall{rps: 9, burst: 2}, call)
	case <-time.After(5 * time.Second):
		t.Fatal("edited config was not applied")
	}
}
