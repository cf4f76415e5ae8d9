package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewEmptyConfig("x.json")
	assert.Equal(t, 55555, cfg.Network.Port)
	assert.Equal(t, "255.255.255.255:55555", cfg.Network.DiscoveryAddress)
	assert.Equal(t, 2*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Presence.BroadcastInterval)
	assert.Equal(t, "FFA", cfg.Player.Token)
	assert.NoError(t, cfg.Validate())
}

func TestSaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "conf", "teamer.json")

	cfg := NewEmptyConfig(file)
	cfg.Player.Name = "Alice"
	cfg.Player.Mass = 500
	cfg.Presence.Timeout = 3 * time.Second
	cfg.Network.SendLegacy = true
	require.NoError(t, cfg.Save())

	loaded, err := NewConfigFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "Alice", loaded.Player.Name)
	assert.Equal(t, uint32(500), loaded.Player.Mass)
	assert.Equal(t, 3*time.Second, loaded.Presence.Timeout)
	assert.True(t, loaded.Network.SendLegacy)
	assert.Equal(t, file, loaded.File())
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "teamer.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"player": {"name": "Bob"}}`), 0600))

	cfg, err := NewConfigFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "Bob", cfg.Player.Name)
	assert.Equal(t, "FFA", cfg.Player.Token)
	assert.Equal(t, 55555, cfg.Network.Port)
}

func TestEnvironmentOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "teamer.json")
	require.NoError(t, NewEmptyConfig(file).Save())

	t.Setenv("TEAMER_NETWORK_PORT", "40000")
	t.Setenv("TEAMER_PRESENCE_TIMEOUT", "5s")
	t.Setenv("TEAMER_PLAYER_NAME", "Carol")

	cfg, err := NewConfigFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, 40000, cfg.Network.Port)
	assert.Equal(t, 5*time.Second, cfg.Presence.Timeout)
	assert.Equal(t, "Carol", cfg.Player.Name)
}

func TestDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "teamer.json")
	require.NoError(t, NewEmptyConfig(file).Save())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TEAMER_SESSION_PASSWORD=hunter2\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("TEAMER_SESSION_PASSWORD") })

	cfg, err := NewConfigFromFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Session.Password)
}

func TestMissingFile(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := NewEmptyConfig("")
	cfg.Player.Token = "not a token"
	assert.Error(t, cfg.Validate())

	cfg = NewEmptyConfig("")
	cfg.Presence.Jitter = time.Second
	assert.Error(t, cfg.Validate())

	cfg = NewEmptyConfig("")
	cfg.Network.Port = 70000
	assert.Error(t, cfg.Validate())
	for _, zero := range []func(c *Config){
		func(c *Config) { c.Session.PollInterval = 0 },
		func(c *Config) { c.Session.HandshakeTimeout = 0 },
		func(c *Config) { c.Party.RosterInterval = 0 },
		func(c *Config) { c.Feed.PushInterval = -time.Second },
	} {
		cfg = NewEmptyConfig("")
		zero(cfg)
		assert.ErrorContains(t, cfg.Validate(), "must be positive")
	}
}
