package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/security"
)

func TestSetConfigValue(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, setConfigValue(cfg, "server.url", "https://chat.example.com"))
	require.NoError(t, setConfigValue(cfg, "sync.history_limit", "30"))
	require.NoError(t, setConfigValue(cfg, "sync.idle_timeout", "5m"))

	assert.Equal(t, "https://chat.example.com", cfg.Server.URL)
	assert.Equal(t, 30, cfg.Sync.HistoryLimit)

	assert.Error(t, setConfigValue(cfg, "sync.history_limit", "-1"))
	assert.Error(t, setConfigValue(cfg, "sync.heartbeat", "often"))
	assert.Error(t, setConfigValue(cfg, "server.port", "80"))
	assert.Error(t, setConfigValue(cfg, "url", "x"))

	ecfg, err := cfg.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, 30, ecfg.HistoryLimit)
	assert.Equal(t, 5*time.Minute, ecfg.Presence.IdleTimeout)
	assert.Equal(t, 10*time.Second, ecfg.Presence.Heartbeat, "unset keys keep engine defaults")
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	missing, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, missing)

	in := &Config{
		Server: ServerConfig{URL: "http://localhost:9000"},
		Auth:   AuthConfig{Token: "tok"},
		Sync:   SyncConfig{ChatListLimit: 5, Heartbeat: "15s"},
	}
	require.NoError(t, writeConfig(path, in))
	out, err := readConfig(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "eyJh...9xYz", maskSecret("eyJhbGciOiJIUzI1NiJ9xYz"))
}

func TestTokenCommandSaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "token", "alice", "Alice", "--secret", "dev-secret", "--save"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		flagConfig, tokenSecret, tokenSave = "", "", false
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "saved")

	cfg, err := readConfig(path)
	require.NoError(t, err)
	claims, err := security.NewTokenService("dev-secret", time.Hour).Parse(cfg.Auth.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID())
	assert.Equal(t, "Alice", claims.Username)
}
