package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := parseFlags(newFlagSet(), nil)
		require.NoError(t, err)
		assert.Empty(t, cfg.ConfigPath)
		assert.Empty(t, cfg.LogLevel)
		assert.Zero(t, cfg.ShutdownTimeout)
		assert.False(t, cfg.Validate)
	})

	t.Run("explicit values", func(t *testing.T) {
		cfg, err := parseFlags(newFlagSet(), []string{
			"-c", "semlive.yaml",
			"-log-format", "text",
			"-addr", ":9090",
			"-shutdown-timeout", "3s",
			"-validate",
		})
		require.NoError(t, err)
		assert.Equal(t, "semlive.yaml", cfg.ConfigPath)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, ":9090", cfg.Addr)
		assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
		assert.True(t, cfg.Validate)
	})

	t.Run("debug forces debug level", func(t *testing.T) {
		cfg, err := parseFlags(newFlagSet(), []string{"-log-level", "warn", "-debug"})
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("SEMLIVE_CONFIG", "/etc/semlive.json")
		t.Setenv("SEMLIVE_SHUTDOWN_TIMEOUT", "7s")
		cfg, err := parseFlags(newFlagSet(), nil)
		require.NoError(t, err)
		assert.Equal(t, "/etc/semlive.json", cfg.ConfigPath)
		assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseFlags(newFlagSet(), []string{"-nope"})
		assert.Error(t, err)
	})
}

func TestValidateFlags(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "semlive.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr string
	}{
		{name: "empty", cfg: CLIConfig{}},
		{name: "existing config", cfg: CLIConfig{ConfigPath: existing}},
		{name: "missing config", cfg: CLIConfig{ConfigPath: "/nope/semlive.json"}, wantErr: "config file not found"},
		{name: "bad level", cfg: CLIConfig{LogLevel: "loud"}, wantErr: "invalid log level"},
		{name: "bad format", cfg: CLIConfig{LogFormat: "xml"}, wantErr: "invalid log format"},
		{name: "negative timeout", cfg: CLIConfig{ShutdownTimeout: -time.Second}, wantErr: "invalid shutdown timeout"},
		{name: "version skips checks", cfg: CLIConfig{ShowVersion: true, LogLevel: "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SEMLIVE_TEST_BOOL", "yes-please")
	t.Setenv("SEMLIVE_TEST_DURATION", "250ms")

	assert.Equal(t, "fallback", getEnv("SEMLIVE_TEST_UNSET", "fallback"))
	assert.True(t, getEnvBool("SEMLIVE_TEST_BOOL", true), "unparsable value keeps default")
	assert.Equal(t, 250*time.Millisecond, getEnvDuration("SEMLIVE_TEST_DURATION", time.Second))
}
