// Package config loads the router configuration from an optional .env file,
// a YAML file and environment variables, validates it, and converts it into
// the settings each component takes.
package config
