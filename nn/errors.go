package nn

import "errors"

var (
	// ErrInvalidConfig reports a configuration value that can never be valid,
	// such as a non-positive routing iteration count.
	ErrInvalidConfig = errors.New("invalid model config")

	// ErrShapeMismatch reports tensor or kernel dimensions that disagree with
	// the resolved geometry.
	ErrShapeMismatch = errors.New("shape mismatch")
)
