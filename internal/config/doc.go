// Package config defines the application configuration structure
// and loading logic. Configuration is read from environment variables
// with the CRITIC_ prefix, falling back to an optional config file.
package config
