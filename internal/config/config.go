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

// Config holds all runtime configuration for the LeadLine server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	TLSCert     string
	TLSKey      string
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string
	JWTSecret   string // hex-encoded 32-byte secret for API token signing

	// Bridge connection.
	AMIHost     string
	AMIPort     int
	AMIUsername string
	AMIPassword string

	// Reconnect policy. Zero values fall back to the telephony defaults.
	MaxReconnectAttempts int
	ReconnectBaseMS      int
	ReconnectCapMS       int

	// OriginationTTLSec bounds how long an originated call stays matchable
	// for correlation before it is considered stale.
	OriginationTTLSec int
}

// defaults
const (
	defaultDataDir           = "./data"
	defaultHTTPPort          = 8080
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultAMIPort           = 5038
	defaultMaxReconnect      = 10
	defaultReconnectBaseMS   = 2000
	defaultReconnectCapMS    = 30000
	defaultOriginationTTLSec = 30
)

// envPrefix is the prefix for all LeadLine environment variables.
const envPrefix = "LEADLINE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

// load is the testable core of Load.
func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("leadline", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.TLSCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&cfg.TLSKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for API token signing (auto-generated if empty)")
	fs.StringVar(&cfg.AMIHost, "ami-host", "", "telephony bridge host")
	fs.IntVar(&cfg.AMIPort, "ami-port", defaultAMIPort, "telephony bridge manager port")
	fs.StringVar(&cfg.AMIUsername, "ami-username", "", "telephony bridge manager username")
	fs.StringVar(&cfg.AMIPassword, "ami-password", "", "telephony bridge manager password")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", defaultMaxReconnect, "reconnect attempts before giving up")
	fs.IntVar(&cfg.ReconnectBaseMS, "reconnect-base-ms", defaultReconnectBaseMS, "initial reconnect delay in milliseconds")
	fs.IntVar(&cfg.ReconnectCapMS, "reconnect-cap-ms", defaultReconnectCapMS, "maximum reconnect delay in milliseconds")
	fs.IntVar(&cfg.OriginationTTLSec, "origination-ttl-sec", defaultOriginationTTLSec, "seconds an originated call stays matchable for correlation")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg, lookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, lookupEnv func(string) (string, bool)) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":               envPrefix + "DATA_DIR",
		"http-port":              envPrefix + "HTTP_PORT",
		"tls-cert":               envPrefix + "TLS_CERT",
		"tls-key":                envPrefix + "TLS_KEY",
		"log-level":              envPrefix + "LOG_LEVEL",
		"log-format":             envPrefix + "LOG_FORMAT",
		"cors-origins":           envPrefix + "CORS_ORIGINS",
		"jwt-secret":             envPrefix + "JWT_SECRET",
		"ami-host":               envPrefix + "AMI_HOST",
		"ami-port":               envPrefix + "AMI_PORT",
		"ami-username":           envPrefix + "AMI_USERNAME",
		"ami-password":           envPrefix + "AMI_PASSWORD",
		"max-reconnect-attempts": envPrefix + "MAX_RECONNECT_ATTEMPTS",
		"reconnect-base-ms":      envPrefix + "RECONNECT_BASE_MS",
		"reconnect-cap-ms":       envPrefix + "RECONNECT_CAP_MS",
		"origination-ttl-sec":    envPrefix + "ORIGINATION_TTL_SEC",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := lookupEnv(envVar)
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
		case "tls-cert":
			cfg.TLSCert = val
		case "tls-key":
			cfg.TLSKey = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "cors-origins":
			cfg.CORSOrigins = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "ami-host":
			cfg.AMIHost = val
		case "ami-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.AMIPort = v
			}
		case "ami-username":
			cfg.AMIUsername = val
		case "ami-password":
			cfg.AMIPassword = val
		case "max-reconnect-attempts":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxReconnectAttempts = v
			}
		case "reconnect-base-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ReconnectBaseMS = v
			}
		case "reconnect-cap-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ReconnectCapMS = v
			}
		case "origination-ttl-sec":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.OriginationTTLSec = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.AMIPort < 1 || c.AMIPort > 65535 {
		return fmt.Errorf("ami-port must be between 1 and 65535, got %d", c.AMIPort)
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("max-reconnect-attempts must be at least 1, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectBaseMS < 1 {
		return fmt.Errorf("reconnect-base-ms must be positive, got %d", c.ReconnectBaseMS)
	}
	if c.ReconnectCapMS < c.ReconnectBaseMS {
		return fmt.Errorf("reconnect-cap-ms must be at least reconnect-base-ms, got %d", c.ReconnectCapMS)
	}
	if c.OriginationTTLSec < 1 {
		return fmt.Errorf("origination-ttl-sec must be positive, got %d", c.OriginationTTLSec)
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

	// TLS cert and key must both be set or both be empty.
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must both be provided or both be omitted")
	}

	return nil
}

// TLSEnabled returns true if TLS certificates are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != ""
}

// ReconnectBase returns the initial reconnect delay as a duration.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.ReconnectBaseMS) * time.Millisecond
}

// ReconnectCap returns the reconnect delay ceiling as a duration.
func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapMS) * time.Millisecond
}

// OriginationTTL returns the origination correlation window as a duration.
func (c *Config) OriginationTTL() time.Duration {
	return time.Duration(c.OriginationTTLSec) * time.Second
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
