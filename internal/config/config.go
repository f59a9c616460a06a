// Package config loads the engine's static configuration: feature flags,
// timeouts, and the FIPS build knob. Values come from a YAML file with
// environment-variable overrides, following the same override precedence
// the rest of this codebase uses (explicit override > env var > default).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds process-wide engine settings that apply to every
// session the host starts.
type EngineConfig struct {
	KDCConnectTimeout  time.Duration `yaml:"kdcConnectTimeout" env:"ENGINE_KDC_CONNECT_TIMEOUT" default:"2s"`
	LicenseReadTimeout time.Duration `yaml:"licenseReadTimeout" env:"ENGINE_LICENSE_READ_TIMEOUT" default:"10s"`
	CommandQueueSize   int           `yaml:"commandQueueSize" env:"ENGINE_COMMAND_QUEUE_SIZE" default:"100"`
	ChunkCap           int           `yaml:"chunkCap" env:"ENGINE_CHUNK_CAP" default:"4194304"`
	FIPS               bool          `yaml:"fips" env:"ENGINE_FIPS" default:"false"`
}

// SessionConfig holds the parameters for a single RDP connection attempt.
type SessionConfig struct {
	Addr          string `yaml:"addr"`
	Username      string `yaml:"username"`
	Domain        string `yaml:"domain"`
	DesktopWidth  uint16 `yaml:"desktopWidth" default:"1024"`
	DesktopHeight uint16 `yaml:"desktopHeight" default:"768"`

	AllowClipboard        bool `yaml:"allowClipboard" env:"ALLOW_CLIPBOARD" default:"true"`
	AllowDirectorySharing bool `yaml:"allowDirectorySharing" env:"ALLOW_DIRECTORY_SHARING" default:"false"`
	ShowDesktopWallpaper  bool `yaml:"showDesktopWallpaper" env:"SHOW_DESKTOP_WALLPAPER" default:"false"`
}

// LoadEngineConfig reads a YAML engine configuration file, applying
// environment-variable overrides on top of its values. A missing path
// yields the all-defaults configuration.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{
		KDCConnectTimeout:  2 * time.Second,
		LicenseReadTimeout: 10 * time.Second,
		CommandQueueSize:   100,
		ChunkCap:           4 * 1024 * 1024,
		FIPS:               false,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read engine config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse engine config: %w", err)
		}
	}

	cfg.KDCConnectTimeout = getDurationOverride("ENGINE_KDC_CONNECT_TIMEOUT", cfg.KDCConnectTimeout)
	cfg.LicenseReadTimeout = getDurationOverride("ENGINE_LICENSE_READ_TIMEOUT", cfg.LicenseReadTimeout)
	cfg.CommandQueueSize = getIntOverride("ENGINE_COMMAND_QUEUE_SIZE", cfg.CommandQueueSize)
	cfg.ChunkCap = getIntOverride("ENGINE_CHUNK_CAP", cfg.ChunkCap)
	cfg.FIPS = getBoolOverride("ENGINE_FIPS", cfg.FIPS)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants on the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.CommandQueueSize <= 0 {
		return fmt.Errorf("command queue size must be positive")
	}
	if c.ChunkCap <= 0 {
		return fmt.Errorf("chunk cap must be positive")
	}
	return nil
}

// DefaultSessionConfig returns a SessionConfig with the policy defaults
// the connection orchestrator assumes absent explicit overrides.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DesktopWidth:          1024,
		DesktopHeight:         768,
		AllowClipboard:        getBoolOverride("ALLOW_CLIPBOARD", true),
		AllowDirectorySharing: getBoolOverride("ALLOW_DIRECTORY_SHARING", false),
		ShowDesktopWallpaper:  getBoolOverride("SHOW_DESKTOP_WALLPAPER", false),
	}
}

func getDurationOverride(key string, current time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return current
}

func getIntOverride(key string, current int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return current
}

func getBoolOverride(key string, current bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return current
}
