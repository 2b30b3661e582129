// Package config loads the sync core's YAML configuration, applies defaults,
// validates it, and optionally watches the file for changes.
package config
