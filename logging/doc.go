// Package logging builds the slog loggers used by the capseg command.
//
// Library packages never construct loggers themselves; they accept an
// injected *slog.Logger and fall back to a discarding one.
package logging
