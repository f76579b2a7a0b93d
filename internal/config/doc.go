// Package config loads, normalizes, and validates vellum configuration.
//
// Configuration is TOML, resolved from an explicit path, then
// ~/.config/vellum/config.toml, then ./vellum.toml. Unset values fall back to
// repository defaults, and all paths are expanded to absolute form before any
// component sees them. The flush interval and batch threshold knobs exist
// because their correct values depend on the I/O characteristics of the
// deployment target; the defaults match the reference workload.
package config
