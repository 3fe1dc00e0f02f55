package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Flags in cmd/server override
// individual fields for ad-hoc runs.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// DefaultClientID is the sender identity assumed for connections that
	// subscribe without announcing one; their own events are not echoed back.
	DefaultClientID string `yaml:"default_client_id"`

	// MaxQueue bounds each connection's outbound event queue.
	MaxQueue int `yaml:"max_queue"`

	DisableIndex    bool `yaml:"disable_index"`
	DisableEventLog bool `yaml:"disable_event_log"`
}

// Load reads the yaml config at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		DataDir:         "./data",
		DefaultClientID: "HUMAN",
		MaxQueue:        256,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.DefaultClientID) == "" {
		c.DefaultClientID = "HUMAN"
	}
	if c.MaxQueue <= 0 {
		c.MaxQueue = 256
	}
	if c.MaxQueue > 4096 {
		c.MaxQueue = 4096
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.MaxQueue <= 0 {
		return fmt.Errorf("max_queue must be > 0")
	}
	return nil
}
