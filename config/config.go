package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/c360/semlive/errors"
)

// Config is the complete semlive process configuration.
type Config struct {
	Version   string       `json:"version,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	NATS      NATSConfig   `json:"nats"`
	Live      LiveConfig   `json:"live"`
	Server    ServerConfig `json:"server"`
	Log       LogConfig    `json:"log"`
}

// NATSConfig defines the transport connection.
type NATSConfig struct {
	URL             string        `json:"url"`
	Prefix          string        `json:"prefix,omitempty"`
	Name            string        `json:"name,omitempty"`
	MaxReconnects   int           `json:"max_reconnects,omitempty"`
	ReconnectWait   Duration      `json:"reconnect_wait,omitempty"`
	PingInterval    Duration      `json:"ping_interval,omitempty"`
	Timeout         Duration      `json:"timeout,omitempty"`
	DrainTimeout    Duration      `json:"drain_timeout,omitempty"`
	PresenceTimeout Duration      `json:"presence_timeout,omitempty"`
	Username        string        `json:"username,omitempty"`
	Password        string        `json:"password,omitempty"`
	Token           string        `json:"token,omitempty"`
	TLS             NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// LiveConfig tunes the channel core.
type LiveConfig struct {
	StreamBuffer    int      `json:"stream_buffer"`
	QueueSize       int      `json:"queue_size"`
	FrameInterval   Duration `json:"frame_interval"`
	MaxFrameLength  int      `json:"max_frame_length"`
	ConfigCacheSize int      `json:"config_cache_size"`
	ConfigCacheTTL  Duration `json:"config_cache_ttl"`
}

// ServerConfig defines the HTTP surface of the binary.
type ServerConfig struct {
	Addr              string   `json:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   Duration `json:"shutdown_timeout,omitempty"`
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration that reads and writes duration strings.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := parseDurationWithDays(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix.
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			Prefix:          "live",
			Name:            "semlive",
			MaxReconnects:   -1,
			ReconnectWait:   Duration(2 * time.Second),
			PingInterval:    Duration(30 * time.Second),
			Timeout:         Duration(5 * time.Second),
			DrainTimeout:    Duration(30 * time.Second),
			PresenceTimeout: Duration(5 * time.Second),
		},
		Live: LiveConfig{
			StreamBuffer:    32,
			QueueSize:       256,
			FrameInterval:   Duration(time.Second),
			MaxFrameLength:  1000,
			ConfigCacheSize: 1024,
			ConfigCacheTTL:  Duration(time.Minute),
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(15 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return invalid(errors.ErrMissingConfig, "nats.url is required")
	}
	if !isValidNATSSubjectPart(c.NATS.Prefix) {
		return invalid(errors.ErrInvalidConfig,
			fmt.Sprintf("nats.prefix %q is not valid for NATS subjects", c.NATS.Prefix))
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid(errors.ErrInvalidConfig, "nats.tls needs both cert_file and key_file")
	}
	if c.NATS.PresenceTimeout <= 0 {
		return invalid(errors.ErrInvalidConfig, "nats.presence_timeout must be positive")
	}

	if c.Live.StreamBuffer <= 0 || c.Live.QueueSize <= 0 {
		return invalid(errors.ErrInvalidConfig, "live.stream_buffer and live.queue_size must be positive")
	}
	if c.Live.FrameInterval < 0 {
		return invalid(errors.ErrInvalidConfig, "live.frame_interval cannot be negative")
	}
	if c.Live.MaxFrameLength <= 0 {
		return invalid(errors.ErrInvalidConfig, "live.max_frame_length must be positive")
	}
	if c.Live.ConfigCacheSize <= 0 || c.Live.ConfigCacheTTL <= 0 {
		return invalid(errors.ErrInvalidConfig, "live.config_cache_size and live.config_cache_ttl must be positive")
	}

	if c.Server.Addr == "" {
		return invalid(errors.ErrMissingConfig, "server.addr is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("log.level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid(errors.ErrInvalidConfig, fmt.Sprintf("log.format %q", c.Log.Format))
	}
	return nil
}

func invalid(kind error, msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", kind, msg), "Config", "Validate", "check fields")
}

// isValidNATSSubjectPart reports whether s is usable as a subject prefix:
// alphanumerics, dashes, underscores and interior dots.
func isValidNATSSubjectPart(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String renders the configuration with credentials redacted.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
