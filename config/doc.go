// Package config loads router configuration from a YAML file, an optional .env
// file and the environment, and validates it before anything is started.
package config
