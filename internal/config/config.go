// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// App is the process configuration, read once at startup.
type App struct {
	// HTTP
	Port      int    `envconfig:"PORT" default:"3000"`
	PublicDir string `envconfig:"PUBLIC_DIR" default:"public"`

	// Directory
	DatabaseURL string `envconfig:"DATABASE_URL" default:"data/ticket-platform.db"`

	// Identity provider. Without SUPABASE_URL the in-process provider is used.
	SupabaseURL            string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey        string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseServiceRoleKey string `envconfig:"SUPABASE_SERVICE_ROLE_KEY"`
	LocalAutoConfirm       bool   `envconfig:"LOCAL_AUTO_CONFIRM" default:"false"`

	// JWT
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`
	JWTAudience string `envconfig:"JWT_AUDIENCE" default:"authenticated"`
	JWTIssuer   string `envconfig:"JWT_ISSUER"`

	// Access gate
	RoutePolicyFile string `envconfig:"ROUTE_POLICY_FILE"`

	// Events. Without AMQP_URL events are dropped.
	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"auth.events"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads App from the environment and validates it.
func Load() (App, error) {
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if len(c.JWTSecret) < 16 {
		return c, fmt.Errorf("config: JWT_SECRET must be at least 16 characters")
	}
	if c.SupabaseURL != "" && c.SupabaseAnonKey == "" {
		return c, fmt.Errorf("config: SUPABASE_ANON_KEY is required with SUPABASE_URL")
	}
	if _, err := c.SlogLevel(); err != nil {
		return c, err
	}
	return c, nil
}

// UsesSupabase reports whether a Supabase project is configured.
func (c App) UsesSupabase() bool {
	return c.SupabaseURL != ""
}

// SlogLevel parses LOG_LEVEL (debug, info, warn, error).
func (c App) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}
