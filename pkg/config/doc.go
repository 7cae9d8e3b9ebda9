// Package config loads and validates aclmeterd's runtime options. See
// config.go for the Options struct and Load entry point, schema.go for the
// YAML overlay and its JSON Schema validation.
package config
