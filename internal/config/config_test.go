package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatsync/internal/config"
)

func TestFromEnviron(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("JWT_SECRET", "s3cret")

		cfg, err := config.FromEnviron()
		req.NoError(err)
		req.Equal(config.DriverSQLite, cfg.DBDriver)
		req.Equal("0.0.0.0:8000", cfg.HTTPAddr())
		req.Equal(24*time.Hour, cfg.AccessTokenTTL())
		req.Equal([]string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins())
		req.Equal(50, cfg.Engine.HistoryLimit)
		req.Equal(20, cfg.Engine.ChatListLimit)
		req.Equal(10*time.Second, cfg.Engine.Heartbeat)
		req.Equal(15*time.Minute, cfg.Engine.IdleTimeout)
		req.Equal(500*time.Millisecond, cfg.Engine.ReconnectBase)
		req.Equal(8, cfg.Engine.ReconnectTries)
	})

	t.Run("Overrides", func(t *testing.T) {
		req := require.New(t)
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("POSTGRES_HOST", "db")
		t.Setenv("POSTGRES_PASSWORD", "p@ss")
		t.Setenv("IDLE_TIMEOUT", "90s")
		t.Setenv("CORS_ORIGINS", "https://a.example| https://b.example")

		cfg, err := config.FromEnviron()
		req.NoError(err)
		req.Equal("postgres://postgres:p%40ss@db:5432/chatsync?sslmode=disable", cfg.DatabaseURL())
		req.Equal(90*time.Second, cfg.Engine.IdleTimeout)
		req.Equal([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	})

	t.Run("MissingSecret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := config.FromEnviron()
		require.Error(t, err)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("DB_DRIVER", "mysql")
		_, err := config.FromEnviron()
		require.ErrorContains(t, err, "DB_DRIVER")
	})
}

func TestEngineFromEnviron(t *testing.T) {
	req := require.New(t)
	t.Setenv("HEARTBEAT_INTERVAL", "3s")
	t.Setenv("RECONNECT_MAX_DELAY", "1m")

	e, err := config.EngineFromEnviron()
	req.NoError(err, "no server secret is needed")
	req.Equal(3*time.Second, e.Heartbeat)
	req.Equal(time.Minute, e.ReconnectMax)
	req.Equal(time.Second, e.ReadRetryDelay)

	t.Setenv("RECONNECT_MAX_ATTEMPTS", "0")
	_, err = config.EngineFromEnviron()
	req.ErrorContains(err, "RECONNECT_MAX_ATTEMPTS")
}
