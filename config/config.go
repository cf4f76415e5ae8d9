package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"teamer/token"
)

var log = logrus.New()

// Prefix of environment variables overriding file values, e.g. TEAMER_NETWORK_PORT
const EnvPrefix = "TEAMER"

// Config represents the configuration of a teamer client
type Config struct {
	// Default config file location
	configFile string

	// The local player as announced to peers
	Player struct {
		Name  string  `json:"name" mapstructure:"name"`
		Token string  `json:"token" mapstructure:"token"`
		X     float32 `json:"x" mapstructure:"x"`
		Y     float32 `json:"y" mapstructure:"y"`
		Mass  uint32  `json:"mass" mapstructure:"mass"`
	} `json:"player" mapstructure:"player"`

	Network struct {
		BindAddress string `json:"bind_address" mapstructure:"bind_address"`
		Port        int    `json:"port" mapstructure:"port"`

		// Broadcast or multicast host:port discovery messages are sent to
		DiscoveryAddress   string `json:"discovery_address" mapstructure:"discovery_address"`
		MulticastInterface string `json:"multicast_interface" mapstructure:"multicast_interface"`

		ResolveHostnames bool `json:"resolve_hostnames" mapstructure:"resolve_hostnames"`
		SendLegacy       bool `json:"send_legacy" mapstructure:"send_legacy"`
		AcceptLegacy     bool `json:"accept_legacy" mapstructure:"accept_legacy"`
		Terminated       bool `json:"terminated_strings" mapstructure:"terminated_strings"`
	} `json:"network" mapstructure:"network"`

	Presence struct {
		BroadcastInterval time.Duration `json:"broadcast_interval" mapstructure:"broadcast_interval"`
		SweepInterval     time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
		Jitter            time.Duration `json:"jitter" mapstructure:"jitter"`
		Timeout           time.Duration `json:"timeout" mapstructure:"timeout"`
	} `json:"presence" mapstructure:"presence"`

	Session struct {
		Address          string        `json:"address" mapstructure:"address"`
		Password         string        `json:"password" mapstructure:"password"`
		PollInterval     time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
		HandshakeTimeout time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
		RetryAttempts    uint          `json:"retry_attempts" mapstructure:"retry_attempts"`
	} `json:"session" mapstructure:"session"`

	Party struct {
		ListenAddress  string        `json:"listen_address" mapstructure:"listen_address"`
		PasswordHash   string        `json:"password_hash" mapstructure:"password_hash"`
		RosterInterval time.Duration `json:"roster_interval" mapstructure:"roster_interval"`
	} `json:"party" mapstructure:"party"`

	DataStore struct {
		AddressBookPath string `json:"address_book" mapstructure:"address_book"`
	} `json:"datastore" mapstructure:"datastore"`

	// Roster feed for overlays, disabled when ListenAddress is empty
	Feed struct {
		ListenAddress string        `json:"listen_address" mapstructure:"listen_address"`
		PushInterval  time.Duration `json:"push_interval" mapstructure:"push_interval"`
	} `json:"feed" mapstructure:"feed"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Player.Name = "player"
	cfg.Player.Token = token.FreeForAll

	cfg.Network.Port = 55555
	cfg.Network.DiscoveryAddress = "255.255.255.255:55555"
	cfg.Network.ResolveHostnames = true
	cfg.Network.AcceptLegacy = true

	cfg.Presence.BroadcastInterval = 500 * time.Millisecond
	cfg.Presence.SweepInterval = 500 * time.Millisecond
	cfg.Presence.Timeout = 2 * time.Second

	cfg.Session.PollInterval = 40 * time.Millisecond
	cfg.Session.HandshakeTimeout = 5 * time.Second
	cfg.Session.RetryAttempts = 0 // Until cancelled

	cfg.Party.ListenAddress = ":55556"
	cfg.Party.RosterInterval = 200 * time.Millisecond

	cfg.DataStore.AddressBookPath = "/tmp/teamer/addressbook"

	cfg.Feed.PushInterval = 250 * time.Millisecond

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) File() string {
	return c.configFile
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(c.configFile); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	// The file may hold the session password
	return os.WriteFile(c.configFile, data, 0600)
}

// Load reads the config file on top of the current values. Environment variables
// (TEAMER_SECTION_KEY, also from a .env file next to the config or in the working
// directory) override the file.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)

	loadDotEnv(filepath.Join(filepath.Dir(c.configFile), ".env"), ".env")

	defaults, err := json.Marshal(c)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return err
	}

	v.SetConfigFile(c.configFile)
	if err := v.MergeInConfig(); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to decode %s: %w", c.configFile, err)
	}

	return nil
}

// Existing environment variables win over .env files
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		err := godotenv.Load(p)
		if err == nil {
			log.Infof("Loaded environment from %s", p)
			return
		}
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Failed to load %s: %v", p, err)
		}
	}
}

// Validate checks the values the services can't run without.
func (c *Config) Validate() error {
	if _, err := token.ParseParty(c.Player.Token); err != nil {
		return fmt.Errorf("player.token %q: %w", c.Player.Token, err)
	}
	if c.Network.Port < 0 || c.Network.Port > 65535 {
		return fmt.Errorf("network.port %d out of range", c.Network.Port)
	}
	if c.Network.DiscoveryAddress == "" {
		return errors.New("network.discovery_address is empty")
	}
	if c.Presence.BroadcastInterval <= 0 || c.Presence.SweepInterval <= 0 || c.Presence.Timeout <= 0 {
		return errors.New("presence intervals and timeout must be positive")
	}
	if c.Presence.Jitter < 0 || c.Presence.Jitter >= c.Presence.BroadcastInterval || c.Presence.Jitter >= c.Presence.SweepInterval {
		return fmt.Errorf("presence.jitter %v must be smaller than the intervals", c.Presence.Jitter)
	}
	for name, d := range map[string]time.Duration{
		"session.poll_interval":     c.Session.PollInterval,
		"session.handshake_timeout": c.Session.HandshakeTimeout,
		"party.roster_interval":     c.Party.RosterInterval,
		"feed.push_interval":        c.Feed.PushInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s %v must be positive", name, d)
		}
	}
	return nil
}
