package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/openfluke/capseg/nn"
)

//go:embed sample_config.toml
var sampleConfig string

// Runtime contains file locations and execution settings.
type Runtime struct {
	Weights string `toml:"weights" yaml:"weights"`
	Dataset string `toml:"dataset" yaml:"dataset"`
	GPU     bool   `toml:"gpu" yaml:"gpu"`
	// Workers bounds concurrent image decoding during conversion.
	Workers int `toml:"workers" yaml:"workers"`
}

// Loss selects the optional loss terms and their weights.
type Loss struct {
	Remake       bool    `toml:"remake" yaml:"remake"`
	Margin       bool    `toml:"margin" yaml:"margin"`
	DecodeWeight float64 `toml:"decode_weight" yaml:"decode_weight"`
	RemakeWeight float64 `toml:"remake_weight" yaml:"remake_weight"`
	MarginWeight float64 `toml:"margin_weight" yaml:"margin_weight"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Config encapsulates all configuration values for capseg.
type Config struct {
	Model   nn.ModelConfig `toml:"model" yaml:"model"`
	Runtime Runtime        `toml:"runtime" yaml:"runtime"`
	Loss    Loss           `toml:"loss" yaml:"loss"`
	Logging Logging        `toml:"logging" yaml:"logging"`
}

// Load parses and validates a configuration file. A missing file yields the
// defaults; the boolean reports whether the file was read.
func Load(path string) (*Config, bool, error) {
	cfg := Default()
	exists := false
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("read config: %w", err)
		default:
			exists = true
			if err := decode(path, data, &cfg); err != nil {
				return nil, false, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, exists, err
	}
	return &cfg, exists, nil
}

func decode(path string, data []byte, c *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return toml.Unmarshal(data, c)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) normalize() {
	c.Runtime.Weights = strings.TrimSpace(c.Runtime.Weights)
	c.Runtime.Dataset = strings.TrimSpace(c.Runtime.Dataset)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Runtime.Workers <= 0 {
		c.Runtime.Workers = Default().Runtime.Workers
	}
}

// LossOptions converts the [loss] section for nn.NewLossAssembler.
func (c *Config) LossOptions() nn.LossOptions {
	return nn.LossOptions{
		Remake:       c.Loss.Remake,
		Margin:       c.Loss.Margin,
		DecodeWeight: float32(c.Loss.DecodeWeight),
		RemakeWeight: float32(c.Loss.RemakeWeight),
		MarginWeight: float32(c.Loss.MarginWeight),
	}
}

// Save writes c to path, in YAML when the extension asks for it.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = toml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Sample returns the annotated sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
