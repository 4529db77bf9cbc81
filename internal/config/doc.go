// Package config loads the callgate-demo configuration from YAML or TOML.
package config
