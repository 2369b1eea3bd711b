package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfluke/capseg/logging"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.Model.Resolve(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.validateLoss(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", logging.FormatAuto, logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateLoss() error {
	weights := map[string]float64{
		"loss.decode_weight": c.Loss.DecodeWeight,
		"loss.remake_weight": c.Loss.RemakeWeight,
		"loss.margin_weight": c.Loss.MarginWeight,
	}
	for name, w := range weights {
		// nn.NewLossAssembler treats a zero weight as unset.
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%s must be a finite positive number, got %v", name, w)
		}
	}
	if c.Loss.Remake && !c.Model.Remake {
		return errors.New("loss.remake requires model.remake = true")
	}
	return nil
}
