// Package config loads, normalizes, and validates squish configuration data.
//
// It supplies repository defaults (two profile groups, the " [SQUISH]" output
// suffix, the common video extension allow-list), expands user paths including
// tilde shortcuts, and reads TOML files. The Config type centralizes every knob
// the batch run, the daemon, and the CLI need so paths and profile groups are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, lower-cased extensions, and clear validation errors.
package config
