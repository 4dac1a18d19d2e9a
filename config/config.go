// Package config loads the ingestion service's settings: an optional YAML
// defaults file layered under environment variables, which always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Windows is the fixed set of rolling aggregation windows, in seconds.
var Windows = [3]int{1, 5, 60}

// Config holds all resolved settings for the ingestion service.
type Config struct {
	Port int // request endpoint; streaming endpoint listens on Port+1

	MongoURI       string
	MongoDatabase  string
	JWTSecret      []byte
	AllowedOrigins []string

	RawEventsTTLDays int
	MaxMsgBytes      int64

	LogLevel  string
	LogFormat string // "console" | "json"

	MetricsEnabled    bool
	BackpressureBytes int64
	JanitorInterval   time.Duration

	// AdminPasswordHash, when set, gates issuance of tokens for the "admin"
	// subject behind a bcrypt-checked password. Empty disables admin token
	// issuance entirely.
	AdminPasswordHash string
}

// fileDefaults is the shape of the optional YAML defaults file named by
// CONFIG_FILE. Every field is optional; whatever is present overrides the
// hardcoded default but is itself overridden by an explicitly set
// environment variable.
type fileDefaults struct {
	Port              *int    `yaml:"port"`
	RawEventsTTLDays  *int    `yaml:"rawEventsTtlDays"`
	MaxMsgBytes       *int64  `yaml:"maxMsgBytes"`
	LogLevel          *string `yaml:"logLevel"`
	LogFormat         *string `yaml:"logFormat"`
	MetricsEnabled    *bool   `yaml:"metricsEnabled"`
	BackpressureBytes *int64  `yaml:"backpressureBytes"`
	JanitorInterval   *string `yaml:"janitorInterval"`
	AllowedOrigins    []string `yaml:"allowedOrigins"`
	MongoDatabase     *string `yaml:"mongoDatabase"`
	AdminPasswordHash *string `yaml:"adminPasswordHash"`
}

func loadFileDefaults() (fileDefaults, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return fileDefaults{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileDefaults{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fd fileDefaults
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return fileDefaults{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return fd, nil
}

// Load resolves configuration: hardcoded defaults, overridden by an
// optional YAML file (CONFIG_FILE), overridden by environment variables.
func Load() (Config, error) {
	fd, err := loadFileDefaults()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:              envInt("PORT", intOr(fd.Port, 4000)),
		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDatabase:     envDefault("MONGODB_DATABASE", strOr(fd.MongoDatabase, "eventstream")),
		RawEventsTTLDays:  envInt("RAW_EVENTS_TTL_DAYS", intOr(fd.RawEventsTTLDays, 7)),
		MaxMsgBytes:       envInt64("MAX_MSG_BYTES", int64Or(fd.MaxMsgBytes, 32768)),
		LogLevel:          envDefault("LOG_LEVEL", strOr(fd.LogLevel, "info")),
		LogFormat:         envDefault("LOG_FORMAT", strOr(fd.LogFormat, "console")),
		MetricsEnabled:    envBool("METRICS_ENABLED", boolOr(fd.MetricsEnabled, true)),
		BackpressureBytes: envInt64("BACKPRESSURE_BYTES", int64Or(fd.BackpressureBytes, 1<<20)),
		JanitorInterval:   envDuration("JANITOR_INTERVAL", durationOr(fd.JanitorInterval, 5*time.Second)),
		AdminPasswordHash: envDefault("ADMIN_PASSWORD_HASH", strOr(fd.AdminPasswordHash, "")),
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = []byte(secret)

	if cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("MONGODB_URI environment variable is required")
	}

	cfg.AllowedOrigins = fd.AllowedOrigins
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, nil
}

// StreamPort is the port the streaming endpoint listens on (Port+1).
func (c Config) StreamPort() int { return c.Port + 1 }

func strOr(v *string, def string) string {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func int64Or(v *int64, def int64) int64 {
	if v != nil {
		return *v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
