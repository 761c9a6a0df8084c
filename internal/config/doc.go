// Package config provides configuration loading and validation for the receiver.
// It reads YAML on top of built-in defaults and validates each section.
package config
