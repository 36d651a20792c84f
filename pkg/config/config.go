// Package config loads and validates the bridge configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/james-see/blendmidi/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// BackendConfig describes the engine the bridge is attached to
type BackendConfig struct {
	Name           string `yaml:"name"`
	InPort         string `yaml:"in_port,omitempty"`
	OutPort        string `yaml:"out_port,omitempty"`
	SampleRate     int    `yaml:"sample_rate"`
	BlockSize      int    `yaml:"block_size"`
	MidiBufferSize int    `yaml:"midi_buffer_size"`
	QueueCapacity  int    `yaml:"queue_capacity"`
}

// LogConfig configures the non-blocking log sink
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Buffer int    `yaml:"buffer"`
}

// APIConfig configures the REST server
type APIConfig struct {
	Port int `yaml:"port"`
}

// Config is the main configuration structure
type Config struct {
	Application string        `yaml:"application"`
	Surface     string        `yaml:"surface"`
	Backend     BackendConfig `yaml:"backend"`
	Log         LogConfig     `yaml:"log"`
	API         APIConfig     `yaml:"api"`
	RecordPath  string        `yaml:"record_path,omitempty"`
}

// Default returns a config with the stock backend parameters
func Default() *Config {
	return &Config{
		Application: "Blender Midi",
		Surface:     "mackie",
		Backend: BackendConfig{
			Name:           "jack",
			SampleRate:     48000,
			BlockSize:      512,
			MidiBufferSize: 1024,
			QueueCapacity:  1024,
		},
		Log: LogConfig{
			Level:  "info",
			Buffer: 1024,
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}

// DefaultPath returns ~/.config/blendmidi/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "blendmidi", "config.yaml")
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.Backend.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrInvalidConfig, c.Backend.SampleRate)
	case c.Backend.BlockSize <= 0:
		return fmt.Errorf("%w: block_size must be positive, got %d", ErrInvalidConfig, c.Backend.BlockSize)
	case c.Backend.MidiBufferSize <= 0:
		return fmt.Errorf("%w: midi_buffer_size must be positive, got %d", ErrInvalidConfig, c.Backend.MidiBufferSize)
	case c.Backend.QueueCapacity <= 0:
		return fmt.Errorf("%w: queue_capacity must be positive, got %d", ErrInvalidConfig, c.Backend.QueueCapacity)
	case c.Log.Buffer <= 0:
		return fmt.Errorf("%w: log buffer must be positive, got %d", ErrInvalidConfig, c.Log.Buffer)
	case c.API.Port <= 0 || c.API.Port > 65535:
		return fmt.Errorf("%w: api port %d out of range", ErrInvalidConfig, c.API.Port)
	case c.Surface == "":
		return fmt.Errorf("%w: surface is required", ErrInvalidConfig)
	}
	if _, err := telemetry.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
