// Package config loads the bidsify YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mrsinham/bidsify/internal/participants"
)

// Config represents the complete bidsify configuration for YAML serialization.
type Config struct {
	Tools        ToolsConfig        `yaml:"tools"`
	Deface       DefaceConfig       `yaml:"deface"`
	Participants ParticipantsConfig `yaml:"participants"`
	Log          LogConfig          `yaml:"log"`
	MetricsFile  string             `yaml:"metrics_file,omitempty"`
}

// ToolsConfig names the external executables.
type ToolsConfig struct {
	Converter string `yaml:"converter"`
	Defacer   string `yaml:"defacer"`
	Validator string `yaml:"validator"`
}

// DefaceConfig controls the defacing stage.
type DefaceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Talairach string `yaml:"talairach"`
	Face      string `yaml:"face"`
}

// ParticipantsConfig holds extra participants.tsv columns, column name to
// DICOM tag name.
type ParticipantsConfig struct {
	Columns map[string]string `yaml:"columns,omitempty"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Tools: ToolsConfig{
			Converter: "heudiconv",
			Defacer:   "mri_deface",
			Validator: "bids-validator",
		},
		Deface: DefaceConfig{
			Enabled:   true,
			Talairach: "/src/deface/talairach_mixed_with_skull.gca",
			Face:      "/src/deface/face.gca",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks if config is valid
func (c *Config) Validate() error {
	if c.Tools.Converter == "" {
		return fmt.Errorf("tools.converter must not be empty")
	}
	if c.Tools.Validator == "" {
		return fmt.Errorf("tools.validator must not be empty")
	}
	if c.Deface.Enabled {
		if c.Tools.Defacer == "" {
			return fmt.Errorf("tools.defacer must not be empty when defacing is enabled")
		}
		if c.Deface.Talairach == "" || c.Deface.Face == "" {
			return fmt.Errorf("deface.talairach and deface.face are required when defacing is enabled")
		}
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	if err := participants.ValidateColumns(c.Participants.Columns); err != nil {
		return fmt.Errorf("participants.columns: %w", err)
	}
	return nil
}

// Encode writes cfg as YAML to w.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return err
	}
	return enc.Close()
}
