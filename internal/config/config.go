package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"feedline.org/internal/obs"
)

// Config holds runtime settings for the feed processes.
type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`       // HTTP listen address
	GRPCAddr       string        `yaml:"grpc_addr"`       // gRPC health listen address
	DatabaseURL    string        `yaml:"pg_dsn"`          // PostgreSQL DSN; empty selects in-memory stores
	AuthSecret     string        `yaml:"auth_secret"`     // HMAC key for login tokens
	AuthIssuer     string        `yaml:"auth_issuer"`     // token issuer claim
	RedisURL       string        `yaml:"redis_url"`       // enables the queued media cleaner
	MediaRoot      string        `yaml:"media_root"`      // directory holding uploaded images
	AllowedOrigins []string      `yaml:"allowed_origins"` // CORS allow list; empty allows any origin
	RateBurst      int           `yaml:"rate_burst"`      // per-client token bucket size
	RatePerSec     float64       `yaml:"rate_per_sec"`    // per-client refill rate
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`  // request body limit
	Log            obs.LogConfig `yaml:"log"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Config {
	return Config{
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		AuthIssuer:   "feedline",
		MediaRoot:    "./images",
		RateBurst:    20,
		RatePerSec:   10,
		MaxBodyBytes: 1 << 20,
		Log:          obs.LogConfig{Level: "info"},
	}
}

// Load layers defaults, the YAML file named by FEEDLINE_CONFIG and the
// environment, in that order.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("FEEDLINE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = firstNonEmpty(os.Getenv("FEEDLINE_HTTP_ADDR"), cfg.HTTPAddr)
	cfg.GRPCAddr = firstNonEmpty(os.Getenv("FEEDLINE_GRPC_ADDR"), cfg.GRPCAddr)
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("FEEDLINE_PG_DSN"), cfg.DatabaseURL)
	cfg.AuthSecret = firstNonEmpty(os.Getenv("FEEDLINE_AUTH_SECRET"), cfg.AuthSecret)
	cfg.AuthIssuer = firstNonEmpty(os.Getenv("FEEDLINE_AUTH_ISSUER"), cfg.AuthIssuer)
	cfg.RedisURL = firstNonEmpty(os.Getenv("FEEDLINE_REDIS_URL"), cfg.RedisURL)
	cfg.MediaRoot = firstNonEmpty(os.Getenv("FEEDLINE_MEDIA_ROOT"), cfg.MediaRoot)
	if origins := parseCSV(os.Getenv("FEEDLINE_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	cfg.RateBurst = intFromEnv("FEEDLINE_RATE_BURST", cfg.RateBurst)
	cfg.RatePerSec = floatFromEnv("FEEDLINE_RATE_PER_SEC", cfg.RatePerSec)
	cfg.MaxBodyBytes = int64(intFromEnv("FEEDLINE_MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.Log.Level = firstNonEmpty(os.Getenv("LOG_LEVEL"), cfg.Log.Level)
	cfg.Log.Dev = boolFromEnv("LOG_DEV", cfg.Log.Dev)
	cfg.Log.File = firstNonEmpty(os.Getenv("LOG_FILE"), cfg.Log.File)
	return cfg, nil
}

// Validate reports settings the API cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("FEEDLINE_AUTH_SECRET is required"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limit burst and rate must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("FEEDLINE_MAX_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func floatFromEnv(name string, defaultVal float64) float64 {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
