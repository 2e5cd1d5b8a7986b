package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the CallBridge server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir           string
	HTTPPort          int
	LogLevel          string
	LogFormat         string // log output format: "text" or "json"
	CORSOrigins       string
	ProviderAPIURL    string // base URL of the telephony provider call-control API
	ProviderAPIKey    string // bearer token for the provider API
	CredentialID      string // provider credential ID for the agent SIP endpoint
	CallerIDs         string // comma-separated E.164 numbers rotated as outbound caller ID
	JWTSecret         string // hex-encoded 32-byte secret for agent JWT signing
	RecordCalls       bool   // start dual-channel recording after bridging
	SessionTTLMinutes int
	SweepMinutes      int
}

// defaults
const (
	defaultDataDir    = "./data"
	defaultHTTPPort   = 8080
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
	defaultSessionTTL = 30
	defaultSweep      = 5
)

// envPrefix is the prefix for all CallBridge environment variables.
const envPrefix = "CALLBRIDGE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callbridge", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for database storage")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.ProviderAPIURL, "provider-api-url", "", "base URL of the telephony provider call-control API")
	fs.StringVar(&cfg.ProviderAPIKey, "provider-api-key", "", "bearer token for the provider API")
	fs.StringVar(&cfg.CredentialID, "credential-id", "", "provider credential ID for the agent SIP endpoint")
	fs.StringVar(&cfg.CallerIDs, "caller-ids", "", "comma-separated E.164 numbers rotated as outbound caller ID")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for agent JWT signing (auto-generated if empty)")
	fs.BoolVar(&cfg.RecordCalls, "record-calls", false, "start dual-channel recording after bridging")
	fs.IntVar(&cfg.SessionTTLMinutes, "session-ttl", defaultSessionTTL, "minutes before a stale session is evicted")
	fs.IntVar(&cfg.SweepMinutes, "sweep-interval", defaultSweep, "minutes between session eviction sweeps")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":         envPrefix + "DATA_DIR",
		"http-port":        envPrefix + "HTTP_PORT",
		"log-level":        envPrefix + "LOG_LEVEL",
		"log-format":       envPrefix + "LOG_FORMAT",
		"cors-origins":     envPrefix + "CORS_ORIGINS",
		"provider-api-url": envPrefix + "PROVIDER_API_URL",
		"provider-api-key": envPrefix + "PROVIDER_API_KEY",
		"credential-id":    envPrefix + "CREDENTIAL_ID",
		"caller-ids":       envPrefix + "CALLER_IDS",
		"jwt-secret":       envPrefix + "JWT_SECRET",
		"record-calls":     envPrefix + "RECORD_CALLS",
		"session-ttl":      envPrefix + "SESSION_TTL",
		"sweep-interval":   envPrefix + "SWEEP_INTERVAL",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "provider-api-url":
			cfg.ProviderAPIURL = val
		case "provider-api-key":
			cfg.ProviderAPIKey = val
		case "credential-id":
			cfg.CredentialID = val
		case "caller-ids":
			cfg.CallerIDs = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "record-calls":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.RecordCalls = v
			}
		case "session-ttl":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SessionTTLMinutes = v
			}
		case "sweep-interval":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.SweepMinutes = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.ProviderAPIURL == "" {
		return fmt.Errorf("provider-api-url is required")
	}
	if c.ProviderAPIKey == "" {
		return fmt.Errorf("provider-api-key is required")
	}
	if c.CredentialID == "" {
		return fmt.Errorf("credential-id is required")
	}
	if len(c.CallerIDList()) == 0 {
		return fmt.Errorf("caller-ids must name at least one outbound number")
	}
	if c.SessionTTLMinutes < 1 {
		return fmt.Errorf("session-ttl must be at least 1 minute, got %d", c.SessionTTLMinutes)
	}
	if c.SweepMinutes < 1 {
		return fmt.Errorf("sweep-interval must be at least 1 minute, got %d", c.SweepMinutes)
	}

	return nil
}

// CallerIDList returns the configured caller ID numbers, trimmed, empty
// entries dropped.
func (c *Config) CallerIDList() []string {
	var out []string
	for _, n := range strings.Split(c.CallerIDs, ",") {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// SessionTTL returns the session eviction TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// SweepInterval returns the eviction sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepMinutes) * time.Minute
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
