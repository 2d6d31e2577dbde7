// Package common provides shared utilities for aptiscout: logging, configuration,
// versioning and the startup banner.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for aptiscout.
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Scraping    ScrapingConfig   `toml:"scraping"`
	RateLimit   RateLimitConfig  `toml:"rate_limit"`
	AntiDetect  AntiDetectConfig `toml:"anti_detect"`
	AI          AIConfig         `toml:"ai"`
	Monitoring  MonitoringConfig `toml:"monitoring"`
	Auth        AuthConfig       `toml:"auth"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the SurrealDB connection configuration.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	User      string `toml:"user"`
	Pass      string `toml:"pass"`
}

// ScrapingConfig holds C6 engine tuning knobs.
type ScrapingConfig struct {
	DefaultMaxPerSource      int     `toml:"default_max_per_source"`
	DefaultFailRatio         float64 `toml:"default_fail_ratio"`
	GraceWindowSeconds       int     `toml:"grace_window_seconds"`
	GlobalConcurrency        int     `toml:"global_concurrency"`
	StaticSourceConcurrency  int     `toml:"static_source_concurrency"`
	DynamicSourceConcurrency int     `toml:"dynamic_source_concurrency"`
	IdleQuorumTicks          int     `toml:"idle_quorum_ticks"`
}

// RateLimitConfig holds C2 limiter defaults, overridable per SourceConfig.
type RateLimitConfig struct {
	DefaultPermits       int     `toml:"default_permits"`
	DefaultWindowSeconds int     `toml:"default_window_seconds"`
	MinIntervalMS        int     `toml:"min_interval_ms"`
	MaxIntervalMS        int     `toml:"max_interval_ms"`
	ErrorRateTarget      float64 `toml:"error_rate_target"`
}

// AntiDetectConfig holds C1 substrate defaults.
type AntiDetectConfig struct {
	RiskThreshold    float64 `toml:"risk_threshold"`
	CooldownSeconds  int     `toml:"cooldown_seconds"`
	RiskHalfLifeSecs int     `toml:"risk_half_life_seconds"`
}

// AIConfig holds the C7 AI capability client configuration (Gemini-backed).
type AIConfig struct {
	Provider       string  `toml:"provider"`
	Model          string  `toml:"model"`
	APIKey         string  `toml:"api_key"`
	BatchSize      int     `toml:"batch_size"`
	FuseRuleWeight float64 `toml:"fuse_rule_weight"`
	FuseAIWeight   float64 `toml:"fuse_ai_weight"`
}

// MonitoringConfig holds C9 tuning knobs.
type MonitoringConfig struct {
	EventRingSize          int `toml:"event_ring_size"`
	MetricBucketSeconds    int `toml:"metric_bucket_seconds"`
	MetricRetentionMinutes int `toml:"metric_retention_minutes"`
	AlertEvalSeconds       int `toml:"alert_eval_seconds"`
}

// AuthConfig holds authentication configuration for the admin write path (JWT).
type AuthConfig struct {
	JWTSecret         string `toml:"jwt_secret"`
	TokenExpiry       string `toml:"token_expiry"` // duration string, default "24h"
	AdminPasswordHash string `toml:"admin_password_hash"` // bcrypt hash checked by the login endpoint
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level" mapstructure:"level"`
	Format     string   `toml:"format" mapstructure:"format"`
	Outputs    []string `toml:"outputs" mapstructure:"outputs"`
	FilePath   string   `toml:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int      `toml:"max_backups" mapstructure:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000/rpc",
			Namespace: "aptiscout",
			Database:  "aptiscout",
			User:      "root",
			Pass:      "root",
		},
		Scraping: ScrapingConfig{
			DefaultMaxPerSource:      100,
			DefaultFailRatio:         0.5,
			GraceWindowSeconds:       30,
			GlobalConcurrency:        8,
			StaticSourceConcurrency:  1,
			DynamicSourceConcurrency: 2,
			IdleQuorumTicks:          3,
		},
		RateLimit: RateLimitConfig{
			DefaultPermits:       5,
			DefaultWindowSeconds: 1,
			MinIntervalMS:        200,
			MaxIntervalMS:        60000,
			ErrorRateTarget:      0.1,
		},
		AntiDetect: AntiDetectConfig{
			RiskThreshold:    0.7,
			CooldownSeconds:  300,
			RiskHalfLifeSecs: 600,
		},
		AI: AIConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			BatchSize:      25,
			FuseRuleWeight: 0.6,
			FuseAIWeight:   0.4,
		},
		Monitoring: MonitoringConfig{
			EventRingSize:          10000,
			MetricBucketSeconds:    10,
			MetricRetentionMinutes: 60,
			AlertEvalSeconds:       10,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
			// bcrypt hash of "password" — a placeholder, never valid in production.
			AdminPasswordHash: "$2b$10$p.2Xq572JAJcJjybu6qsHeTNGkaVcS7i.c4JmK4Ms3Y36FHZ1Urjq",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/aptiscout.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies APTISCOUT_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("APTISCOUT_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("APTISCOUT_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("APTISCOUT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("APTISCOUT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if addr := os.Getenv("APTISCOUT_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if ns := os.Getenv("APTISCOUT_STORAGE_NAMESPACE"); ns != "" {
		config.Storage.Namespace = ns
	}
	if db := os.Getenv("APTISCOUT_STORAGE_DATABASE"); db != "" {
		config.Storage.Database = db
	}
	if v := os.Getenv("APTISCOUT_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("APTISCOUT_AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
	if v := os.Getenv("APTISCOUT_AUTH_ADMIN_PASSWORD_HASH"); v != "" {
		config.Auth.AdminPasswordHash = v
	}
	if v := os.Getenv("APTISCOUT_AI_MODEL"); v != "" {
		config.AI.Model = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ResolveAPIKey resolves an API key from environment variables or a fallback,
// in that priority order. The mapping of logical key names to environment variable
// names resolves an AI vendor API key from environment, then config fallback.
func ResolveAPIKey(name string, fallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key": {"GEMINI_API_KEY", "APTISCOUT_GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"groq_api_key":   {"GROQ_API_KEY", "APTISCOUT_GROQ_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if fallback != "" {
		return fallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// ResolveBinaryRelativePath resolves a possibly-relative path against the
// executable's directory, so a self-contained binary finds its config next to itself.
func ResolveBinaryRelativePath(binDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(binDir, path)
}
