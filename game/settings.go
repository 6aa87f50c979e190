package game

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings holds the game's deployment parameters. Zero values are replaced
// with defaults by ApplyDefaults.
type Settings struct {
	// BindAddress is the interface agents listen on.
	BindAddress string `yaml:"bind_address"`

	// BasePort is the first port handed to the port sequence.
	BasePort int `yaml:"base_port"`

	// RosterPath is where the agents roster file is written.
	RosterPath string `yaml:"roster_path"`

	// ObserverAddr, when set, is where the read-only observer HTTP API
	// listens. Empty disables the observer.
	ObserverAddr string `yaml:"observer_addr"`
}

// DefaultSettings returns the settings used when no config file is given.
func DefaultSettings() Settings {
	return Settings{
		BindAddress: "127.0.0.1",
		BasePort:    5000,
		RosterPath:  DefaultRosterPath,
	}
}

// ApplyDefaults fills unset fields in place.
func (s *Settings) ApplyDefaults() {
	defaults := DefaultSettings()
	if s.BindAddress == "" {
		s.BindAddress = defaults.BindAddress
	}
	if s.BasePort == 0 {
		s.BasePort = defaults.BasePort
	}
	if s.RosterPath == "" {
		s.RosterPath = defaults.RosterPath
	}
}

// LoadSettings reads a YAML settings file and fills in defaults for any
// field it leaves unset.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	s.ApplyDefaults()
	return s, nil
}
