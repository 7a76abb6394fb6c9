// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the netns-tools
// helpers.
//
// Configuration comes from a single YAML file passed via --config.
// There is no search path and no automatic discovery: a setuid helper
// must never let the invoking user steer it toward an alternate
// configuration. When no file is given, compiled-in defaults apply.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the helper suite.
type Config struct {
	// Tunnel configures the namespace-creating helpers.
	Tunnel TunnelConfig `yaml:"tunnel"`

	// Isolate configures the privilege-dropping helper.
	Isolate IsolateConfig `yaml:"isolate"`
}

// TunnelConfig configures tunnel-ns and openvpn-netns.
type TunnelConfig struct {
	// ConfigRoot is where per-namespace configuration directories
	// are created. Default /etc/netns, which is where ip-netns(8)
	// looks.
	ConfigRoot string `yaml:"config_root"`

	// StateDir is where the namespace ledger is written. Default
	// /run/netns-tools.
	StateDir string `yaml:"state_dir"`
}

// IsolateConfig configures the isolate helper.
type IsolateConfig struct {
	// HomeRoot is the directory isolated home directories are created
	// under. It must exist, be owned by root, and serve no other
	// purpose. Default /home/isolated.
	HomeRoot string `yaml:"home_root"`

	// LowUID and HighUID bound the uid range isolate allocates from,
	// inclusive. The range must not conflict with any real account.
	// Defaults 2000 and 2999.
	LowUID  int `yaml:"low_uid"`
	HighUID int `yaml:"high_uid"`
}

// SystemPath is the fixed root-owned configuration file consulted by
// helpers that take no --config flag.
const SystemPath = "/etc/netns-tools.yaml"

// LoadSystem reads SystemPath if it exists; a missing file yields the
// compiled-in defaults. Any other failure is an error: a present but
// unreadable configuration must not silently degrade to defaults.
func LoadSystem() (Config, error) {
	if _, err := os.Stat(SystemPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(SystemPath)
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Tunnel: TunnelConfig{
			ConfigRoot: "/etc/netns",
			StateDir:   "/run/netns-tools",
		},
		Isolate: IsolateConfig{
			HomeRoot: "/home/isolated",
			LowUID:   2000,
			HighUID:  2999,
		},
	}
}

// Load reads the configuration file at path, layered over Default.
// Unknown keys are rejected: a typo in a privileged helper's
// configuration must fail loudly, not silently fall back.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := config.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c Config) validate() error {
	if c.Tunnel.ConfigRoot == "" {
		return fmt.Errorf("tunnel.config_root must not be empty")
	}
	if c.Tunnel.StateDir == "" {
		return fmt.Errorf("tunnel.state_dir must not be empty")
	}
	if c.Isolate.HomeRoot == "" {
		return fmt.Errorf("isolate.home_root must not be empty")
	}
	if c.Isolate.LowUID <= 0 || c.Isolate.HighUID < c.Isolate.LowUID {
		return fmt.Errorf("isolate uid range [%d, %d] is not a valid range",
			c.Isolate.LowUID, c.Isolate.HighUID)
	}
	return nil
}
