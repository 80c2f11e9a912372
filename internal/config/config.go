// Package config loads and validates the environment-driven configuration
// shared by cmd/pwsd and cmd/pwsc.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every setting either demo binary needs. Role-specific
// fields are simply ignored by the binary that doesn't use them.
type Config struct {
	// Transport
	Addr   string `env:"PWS_ADDR" envDefault:":8443"`      // server: listen address
	PeerURL string `env:"PWS_PEER_URL" envDefault:"ws://127.0.0.1:8443/ws"` // client: dial target

	// Role-independent protocol knobs
	ChaosPermille int `env:"PWS_CHAOS_PERMILLE" envDefault:"0"`

	// Jet channel / TCP forwarding
	AllowPortForwarding bool   `env:"PWS_ALLOW_PORT_FORWARDING" envDefault:"false"`
	PolicyFile          string `env:"PWS_POLICY_FILE" envDefault:""`
	// ForwardSpec, if set, makes the holder of this config the jet-channel
	// host: "bind_addr:local_port:remote_addr:remote_port", mirroring
	// ssh -L. Overridable on pwsc with -forward.
	ForwardSpec string `env:"PWS_FORWARD" envDefault:""`

	// Auth
	JWTSecret string `env:"PWS_JWT_SECRET" envDefault:""` // server: signs/verifies
	JWTToken  string `env:"PWS_JWT_TOKEN" envDefault:""`  // client: presented on dial

	// Admission control (server only)
	CPURejectThreshold float64       `env:"PWS_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	CPUPauseThreshold  float64       `env:"PWS_CPU_PAUSE_THRESHOLD" envDefault:"95.0"` // jet-dial pause; must be >= reject
	ResourceInterval   time.Duration `env:"PWS_RESOURCE_INTERVAL" envDefault:"5s"`

	// Metrics
	MetricsAddr string `env:"PWS_METRICS_ADDR" envDefault:":9090"`

	// Logging
	LogLevel  string `env:"PWS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PWS_LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if present) then environment variables into a Config,
// validating before returning it. Priority: real env vars > .env > default.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks range/enum invariants the zero-value parse can't catch.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("PWS_ADDR is required")
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("PWS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("PWS_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("PWS_CPU_PAUSE_THRESHOLD (%.1f) must be >= PWS_CPU_REJECT_THRESHOLD (%.1f)", c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	if c.ChaosPermille < 0 || c.ChaosPermille > 1000 {
		return fmt.Errorf("PWS_CHAOS_PERMILLE must be 0-1000, got %d", c.ChaosPermille)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("PWS_LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("PWS_LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the loaded configuration as one structured log line.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("peer_url", c.PeerURL).
		Int("chaos_permille", c.ChaosPermille).
		Bool("allow_port_forwarding", c.AllowPortForwarding).
		Str("policy_file", c.PolicyFile).
		Str("forward_spec", c.ForwardSpec).
		Bool("jwt_configured", c.JWTSecret != "" || c.JWTToken != "").
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("resource_interval", c.ResourceInterval).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
