// Package config loads gateway settings from defaults, an optional file and
// MCPGW_ environment variables, in increasing order of priority.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
)

// EnvPrefix is stripped from environment variables; MCPGW_IDLE_TIMEOUT sets idle_timeout.
const EnvPrefix = "MCPGW_"

// Config represents the complete gateway configuration
type Config struct {
	Addr           string `koanf:"addr"`
	BaseURL        string `koanf:"base_url"`
	BasePath       string `koanf:"base_path"`
	SSEPath        string `koanf:"sse_path"`
	MessagePath    string `koanf:"message_path"`
	StreamablePath string `koanf:"streamable_path"`

	ServerName    string `koanf:"server_name"`
	ServerVersion string `koanf:"server_version"`
	Instructions  string `koanf:"instructions"`

	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ReapInterval      time.Duration `koanf:"reap_interval"`
	DrainTimeout      time.Duration `koanf:"drain_timeout"`
	KeepAliveInterval time.Duration `koanf:"keepalive_interval"`
	CallTimeout       time.Duration `koanf:"call_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`

	OutboundQueueSize int `koanf:"outbound_queue_size"`
	MaxFrameBytes     int `koanf:"max_frame_bytes"`
	MaxInFlightCalls  int `koanf:"max_inflight_calls"`

	LogLevel       string `koanf:"log_level"`
	LogDevelopment bool   `koanf:"log_development"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`

	// RedisURL enables the redis session directory when set
	RedisURL string        `koanf:"redis_url"`
	RedisTTL time.Duration `koanf:"redis_ttl"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Addr:              ":8080",
		SSEPath:           "/sse",
		MessagePath:       "/message",
		StreamablePath:    "/mcp",
		ServerName:        "mcp-gateway",
		ServerVersion:     "dev",
		IdleTimeout:       10 * time.Minute,
		ReapInterval:      30 * time.Second,
		DrainTimeout:      10 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		OutboundQueueSize: 64,
		MaxFrameBytes:     4 << 20,
		MaxInFlightCalls:  16,
		LogLevel:          "info",
		MetricsEnabled:    true,
	}
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "error loading environment variables")
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errors.Wrap(err, "error decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch filepath.Ext(path) {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return errors.Errorf("config file %s must be .json, .yaml or .yml", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return errors.Wrapf(err, "error reading config file %s", path)
	}
	return nil
}

// envKey maps MCPGW_IDLE_TIMEOUT to idle_timeout
func envKey(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects settings the gateway cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return domain.NewValidationError("addr", "must not be empty")
	case c.OutboundQueueSize <= 0:
		return domain.NewValidationError("outbound_queue_size", "must be positive")
	case c.MaxFrameBytes <= 0:
		return domain.NewValidationError("max_frame_bytes", "must be positive")
	case c.MaxInFlightCalls <= 0:
		return domain.NewValidationError("max_inflight_calls", "must be positive")
	case c.ReapInterval <= 0:
		return domain.NewValidationError("reap_interval", "must be positive")
	case c.ShutdownTimeout <= 0:
		return domain.NewValidationError("shutdown_timeout", "must be positive")
	case c.IdleTimeout < 0, c.DrainTimeout < 0, c.KeepAliveInterval < 0, c.CallTimeout < 0, c.RedisTTL < 0:
		return domain.NewValidationError("timeouts", "must not be negative")
	case !logLevels[c.LogLevel]:
		return domain.NewValidationError("log_level", fmt.Sprintf("%q is not one of debug, info, warn, error", c.LogLevel))
	}

	for _, p := range []struct{ name, path string }{
		{"sse_path", c.SSEPath},
		{"message_path", c.MessagePath},
		{"streamable_path", c.StreamablePath},
	} {
		if !strings.HasPrefix(p.path, "/") {
			return domain.NewValidationError(p.name, "must start with /")
		}
	}
	if c.SSEPath == c.MessagePath || c.SSEPath == c.StreamablePath || c.MessagePath == c.StreamablePath {
		return domain.NewValidationError("sse_path, message_path and streamable_path", "must differ")
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.NewValidationError("base_url", fmt.Sprintf("%q is not an absolute http(s) URL", c.BaseURL))
		}
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return errors.Wrap(err, "invalid redis_url")
		}
	}
	return nil
}

// DirectoryTTL is how long a mirrored session entry lives without refresh.
func (c *Config) DirectoryTTL() time.Duration {
	if c.RedisTTL > 0 {
		return c.RedisTTL
	}
	if c.IdleTimeout > 0 {
		return 2 * c.IdleTimeout
	}
	return time.Hour
}
