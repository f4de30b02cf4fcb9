package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProfilesConfig holds all named server profiles and which one is active.
type ProfilesConfig struct {
	Active   string             `toml:"active"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile is a named server plus the credentials used against it.
type Profile struct {
	URL     string `toml:"url"`
	Token   string `toml:"token,omitempty"`
	Session int64  `toml:"session,omitempty"`
}

func defaultProfilesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sessionfeed", "profiles.toml"), nil
}

func profilesPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return defaultProfilesPath()
}

// loadProfiles reads the profile file. A missing file is an empty config.
func loadProfiles(path string) (ProfilesConfig, error) {
	var cfg ProfilesConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return ProfilesConfig{Profiles: map[string]Profile{}}, nil
		}
		return ProfilesConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

func saveProfiles(path string, cfg ProfilesConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// selected returns the named profile, or the active one when name is empty.
func (c ProfilesConfig) selected(name string) (Profile, bool) {
	if name == "" {
		name = c.Active
	}
	if name == "" {
		return Profile{}, false
	}
	p, ok := c.Profiles[name]
	return p, ok
}
