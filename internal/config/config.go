package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the system-wide settings coordinator. Defaults cover a single
// classroom hub; every field can be overridden through CLASSHUB_* env vars.
type Config struct {
	HTTP      HTTPConfig      `envPrefix:"CLASSHUB_HTTP_"`
	WebSocket WebSocketConfig `envPrefix:"CLASSHUB_WEBSOCKET_"`
	RateLimit RateLimitConfig `envPrefix:"CLASSHUB_RATELIMIT_"`
	Session   SessionConfig   `envPrefix:"CLASSHUB_SESSION_"`
	Auth      AuthConfig      `envPrefix:"CLASSHUB_AUTH_"`
	Database  DatabaseConfig  `envPrefix:"CLASSHUB_DATABASE_"`
}

type HTTPConfig struct {
	Host         string        `env:"HOST"`
	Port         int           `env:"PORT"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
}

type WebSocketConfig struct {
	PingInterval       time.Duration `env:"PING_INTERVAL"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT"`
	SendBufferSize     int           `env:"SEND_BUFFER_SIZE"`
	InboundQueueSize   int           `env:"INBOUND_QUEUE_SIZE"`
	HeartbeatThreshold time.Duration `env:"HEARTBEAT_THRESHOLD"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL"`
}

type RateLimitConfig struct {
	MaxMessages int           `env:"MAX_MESSAGES"`
	Window      time.Duration `env:"WINDOW"`
}

type SessionConfig struct {
	DefaultMaxStudents int           `env:"DEFAULT_MAX_STUDENTS"`
	ReportGraceWindow  time.Duration `env:"REPORT_GRACE_WINDOW"`
	PurgeInterval      time.Duration `env:"PURGE_INTERVAL"`
}

type AuthConfig struct {
	TokenSecret string `env:"TOKEN_SECRET"`
	Issuer      string `env:"ISSUER"`
}

type DatabaseConfig struct {
	Path    string        `env:"PATH"`
	Timeout time.Duration `env:"TIMEOUT"`
}

// DefaultConfig returns production defaults sized for a single classroom hub.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       10 * time.Second,
			SendBufferSize:     100,
			InboundQueueSize:   100,
			HeartbeatThreshold: 90 * time.Second,
			SweepInterval:      30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxMessages: 60,
			Window:      60 * time.Second,
		},
		Session: SessionConfig{
			DefaultMaxStudents: 30,
			ReportGraceWindow:  15 * time.Minute,
			PurgeInterval:      time.Minute,
		},
		Auth: AuthConfig{
			Issuer: "classhub",
		},
		Database: DatabaseConfig{
			Path:    "./classhub.db",
			Timeout: 30 * time.Second,
		},
	}
}

// Load returns defaults overridden by CLASSHUB_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate catches invalid configurations before component initialization.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 || c.WebSocket.InboundQueueSize <= 0 {
		return fmt.Errorf("WebSocket buffer sizes must be positive")
	}
	if c.WebSocket.HeartbeatThreshold <= 0 || c.WebSocket.SweepInterval <= 0 {
		return fmt.Errorf("heartbeat threshold and sweep interval must be positive")
	}
	if c.RateLimit.MaxMessages <= 0 {
		return fmt.Errorf("rate limit max messages must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.Session.DefaultMaxStudents <= 0 {
		return fmt.Errorf("default max students must be positive")
	}
	if c.Session.ReportGraceWindow <= 0 || c.Session.PurgeInterval <= 0 {
		return fmt.Errorf("report grace window and purge interval must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	return nil
}
