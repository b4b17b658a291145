// Package config defines the orderd configuration model and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the orderd server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Firebase  FirebaseConfig  `yaml:"firebase"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Roles     RolesConfig     `yaml:"roles"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the QUIC listening endpoint.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CertFile and KeyFile are the TLS certificate paths. When both are
	// empty a self-signed development certificate is generated.
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`

	// MaxPathLength is the maximum accepted request path length in bytes.
	MaxPathLength int `yaml:"maxPathLength"`

	// MaxBodyBytes is the maximum accepted request body size in bytes.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// Address returns the host:port bind address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig configures the durable session store.
type RedisConfig struct {
	URL            string   `yaml:"url"`
	KeyPrefix      string   `yaml:"keyPrefix"`
	PoolSize       int      `yaml:"poolSize"`
	ConnectTimeout Duration `yaml:"connectTimeout"`
	ReadTimeout    Duration `yaml:"readTimeout"`
	WriteTimeout   Duration `yaml:"writeTimeout"`
}

// FirebaseConfig configures the credential verifier.
type FirebaseConfig struct {
	ProjectID string `yaml:"projectId"`
	APIKey    string `yaml:"apiKey"`

	// IdentityEndpoint, TokenEndpoint and KeysEndpoint override the
	// Google endpoints. Intended for tests; empty means production.
	IdentityEndpoint string `yaml:"identityEndpoint"`
	TokenEndpoint    string `yaml:"tokenEndpoint"`
	KeysEndpoint     string `yaml:"keysEndpoint"`
}

// SessionConfig configures session lifecycle behaviour.
type SessionConfig struct {
	// SweepInterval is how often expired sessions are purged.
	SweepInterval Duration `yaml:"sweepInterval"`
}

// RateLimitConfig configures the request rate limiter middleware.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	RPS     int  `yaml:"rps"`
	Burst   int  `yaml:"burst"`
}

// RolesConfig is the static role directory: user ids granted elevated roles.
// Everyone else resolves to the customer role.
type RolesConfig struct {
	Admins         []string `yaml:"admins"`
	DeliveryAgents []string `yaml:"deliveryAgents"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the plaintext metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          4433,
			MaxPathLength: 1000,
			MaxBodyBytes:  10 << 20,
		},
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			KeyPrefix: "orderd:",
		},
		Session: SessionConfig{
			SweepInterval: Duration(time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			RPS:     100,
			Burst:   200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9100",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxPathLength <= 0 {
		return fmt.Errorf("server.maxPathLength must be positive, got %d", cfg.Server.MaxPathLength)
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.maxBodyBytes must be positive, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if cfg.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase.projectId is required")
	}
	if cfg.Firebase.APIKey == "" {
		return fmt.Errorf("firebase.apiKey is required")
	}
	if cfg.Session.SweepInterval.Duration() <= 0 {
		return fmt.Errorf("session.sweepInterval must be positive")
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return fmt.Errorf("rateLimit.rps must be positive when rate limiting is enabled")
	}
	return nil
}
