package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-at-least-16-chars!!"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", secret)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, "public", c.PublicDir)
	assert.Equal(t, "data/ticket-platform.db", c.DatabaseURL)
	assert.Equal(t, "authenticated", c.JWTAudience)
	assert.Equal(t, "auth.events", c.AMQPExchange)
	assert.False(t, c.UsesSupabase())
	assert.False(t, c.LocalAutoConfirm)

	level, err := c.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("PORT", "8081")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("LOCAL_AUTO_CONFIRM", "true")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, c.Port)
	assert.True(t, c.UsesSupabase())
	assert.True(t, c.LocalAutoConfirm)
	level, _ := c.SlogLevel()
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"missing secret":    {"JWT_SECRET": ""},
		"short secret":      {"JWT_SECRET": "short"},
		"bad port":          {"JWT_SECRET": secret, "PORT": "eighty"},
		"url without anon":  {"JWT_SECRET": secret, "SUPABASE_URL": "https://proj.supabase.co"},
		"unknown log level": {"JWT_SECRET": secret, "LOG_LEVEL": "loud"},
		"bad auto-confirm":  {"JWT_SECRET": secret, "LOCAL_AUTO_CONFIRM": "maybe"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
