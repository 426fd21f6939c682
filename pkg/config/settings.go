package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/orchestrator/pkg/stores"
	"github.com/openfroyo/orchestrator/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Settings is the orchestrator configuration file.
type Settings struct {
	// Environment names the model the orchestrator owns.
	Environment string `yaml:"environment" validate:"required"`

	// Database configures the SQLite store.
	Database DatabaseSettings `yaml:"database"`

	// Watch configures `froyo watch`.
	Watch WatchSettings `yaml:"watch"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// DatabaseSettings configures the SQLite store.
type DatabaseSettings struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// WatchSettings configures the model file watcher.
type WatchSettings struct {
	// Debounce is how long the watcher waits after the last change before reloading.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// DefaultSettings returns the settings used when no configuration file is given.
func DefaultSettings() *Settings {
	return &Settings{
		Environment: "default",
		Database: DatabaseSettings{
			Path:            "./data/froyo.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Watch: WatchSettings{
			Debounce: 500 * time.Millisecond,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads settings from a YAML file on top of DefaultSettings. An empty path
// returns the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	return ParseSettings(path, data)
}

// ParseSettings decodes YAML settings on top of DefaultSettings and validates them.
func ParseSettings(name string, data []byte) (*Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, newLoadError(name, ValidationError{File: name, Message: err.Error()})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings and the embedded telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return newLoadError("settings", convertValidatorErrors(err)...)
	}
	if err := s.Telemetry.Validate(); err != nil {
		return newLoadError("settings", ValidationError{Path: "telemetry", Message: err.Error()})
	}
	return nil
}

// StoreConfig returns the SQLite store configuration.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{
		Path:            s.Database.Path,
		MaxOpenConns:    s.Database.MaxOpenConns,
		MaxIdleConns:    s.Database.MaxIdleConns,
		ConnMaxLifetime: s.Database.ConnMaxLifetime,
	}
}

// TelemetryConfig returns the telemetry configuration tagged with the environment.
func (s *Settings) TelemetryConfig() *telemetry.Config {
	cfg := *s.Telemetry
	attrs := make(map[string]string, len(cfg.ResourceAttributes)+1)
	for k, v := range cfg.ResourceAttributes {
		attrs[k] = v
	}
	attrs["froyo.environment"] = s.Environment
	cfg.ResourceAttributes = attrs
	return &cfg
}
