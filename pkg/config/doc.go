// Package config loads core process settings from YAML and the environment.
package config
