// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The same file format serves both commands; the database and writer sections
// are only read by the recorder.
package config
