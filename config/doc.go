// Package config loads capseg configuration files.
//
// Files are TOML by default; a .yaml or .yml extension selects YAML. The
// [model] section maps directly onto nn.ModelConfig, so shape errors are
// reported by the same Resolve call the model uses.
package config
