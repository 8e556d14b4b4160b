// ABOUTME: Configuration loading and parsing for carelog-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete carelog-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Demo     DemoConfig     `yaml:"demo"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	SecureCookies bool   `yaml:"secure_cookies"` // transport-secure cookie attribute, on in production
	// RequestsPerSecond caps per-client throughput at the transport
	// layer, in front of the per-key auth limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	LockoutThreshold int `yaml:"lockout_threshold"`
	RateLimit        int `yaml:"rate_limit"` // requests per key per window

	SessionTTL      time.Duration `yaml:"-"`
	DemoSessionTTL  time.Duration `yaml:"-"`
	TokenTTL        time.Duration `yaml:"-"`
	LockoutDuration time.Duration `yaml:"-"`
	RateWindow      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionTTLRaw      string `yaml:"session_ttl"`
	DemoSessionTTLRaw  string `yaml:"demo_session_ttl"`
	TokenTTLRaw        string `yaml:"token_ttl"`
	LockoutDurationRaw string `yaml:"lockout_duration"`
	RateWindowRaw      string `yaml:"rate_window"`
}

// DemoConfig holds the well-known demo account identity
type DemoConfig struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinSecretLength is the minimum byte length accepted for the JWT secret.
const MinSecretLength = 32

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in product defaults for everything optional.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.RequestsPerSecond <= 0 {
		c.Server.RequestsPerSecond = 20
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 24 * time.Hour
	}
	if c.Auth.DemoSessionTTL == 0 {
		c.Auth.DemoSessionTTL = time.Hour
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.LockoutThreshold == 0 {
		c.Auth.LockoutThreshold = 5
	}
	if c.Auth.LockoutDuration == 0 {
		c.Auth.LockoutDuration = 15 * time.Minute
	}
	if c.Auth.RateLimit == 0 {
		c.Auth.RateLimit = 10
	}
	if c.Auth.RateWindow == 0 {
		c.Auth.RateWindow = time.Minute
	}
	if c.Demo.Email == "" {
		c.Demo.Email = "demo@carelog.app"
	}
	if c.Demo.DisplayName == "" {
		c.Demo.DisplayName = "Demo User"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.LockoutThreshold < 0 {
		return fmt.Errorf("auth.lockout_threshold must not be negative")
	}
	if c.Auth.RateLimit < 0 {
		return fmt.Errorf("auth.rate_limit must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Auth.SessionTTLRaw, "session_ttl", &cfg.Auth.SessionTTL},
		{cfg.Auth.DemoSessionTTLRaw, "demo_session_ttl", &cfg.Auth.DemoSessionTTL},
		{cfg.Auth.TokenTTLRaw, "token_ttl", &cfg.Auth.TokenTTL},
		{cfg.Auth.LockoutDurationRaw, "lockout_duration", &cfg.Auth.LockoutDuration},
		{cfg.Auth.RateWindowRaw, "rate_window", &cfg.Auth.RateWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
