package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Addr            string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("SEMLIVE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SEMLIVE_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("SEMLIVE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: SEMLIVE_CONFIG)")

	// Empty values defer to the configuration file.
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: SEMLIVE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: SEMLIVE_LOG_FORMAT)")
	fs.StringVar(&cfg.Addr, "addr", "",
		"HTTP listen address for /ws, /health and /metrics (env: SEMLIVE_SERVER_ADDR)")

	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("SEMLIVE_DEBUG", false),
		"Enable debug logging (env: SEMLIVE_DEBUG)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SEMLIVE_SHUTDOWN_TIMEOUT", 0),
		"Graceful shutdown timeout, 0 uses the configured value (env: SEMLIVE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - live channel relay

Usage: %s [options]

Options:
`, appName, fs.Name())
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run against a local NATS server with defaults
  %[1]s

  # Run with a config file and text logs
  %[1]s --config=/etc/semlive/semlive.yaml --log-format=text

  # Override the transport from the environment
  export SEMLIVE_NATS_URL=nats://nats.internal:4222
  %[1]s

  # Validate configuration only
  %[1]s --config=semlive.yaml --validate

Version: %[2]s
Build: %[3]s
`, fs.Name(), Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
