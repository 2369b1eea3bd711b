package config

import (
	"runtime"

	"github.com/openfluke/capseg/nn"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultDataset   = "capseg.db"
	defaultWeights   = "capseg.safetensors"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Model: nn.DefaultConfig(),
		Runtime: Runtime{
			Weights: defaultWeights,
			Dataset: defaultDataset,
			Workers: runtime.NumCPU(),
		},
		Loss: Loss{
			DecodeWeight: nn.DefaultDecodeWeight,
			RemakeWeight: nn.DefaultRemakeWeight,
			MarginWeight: nn.DefaultMarginWeight,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
