// Package config loads YAML configuration files with environment variable expansion.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration types that check themselves after loading.
type Validator interface {
	Validate() error
}

// Load reads filename, expands environment references and decodes it into
// target. Unknown keys are rejected so a typo does not silently fall back to
// a default. If target implements Validator it is validated afterwards.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", filename, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(Expand(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", filename, err)
	}

	if v, ok := any(target).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config: validate %s: %w", filename, err)
		}
	}
	return nil
}

// Expand replaces ${VAR} and $VAR with environment values. ${VAR:-fallback}
// uses fallback when VAR is unset or empty.
func Expand(s string) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// LoadWithDefaults is Load, reading defaultFile instead when filename does
// not exist.
func LoadWithDefaults[T any](filename, defaultFile string, target *T) error {
	_, err := os.Stat(filename)
	switch {
	case err == nil:
		return Load(filename, target)
	case errors.Is(err, os.ErrNotExist) && defaultFile != "":
		return Load(defaultFile, target)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("config: %s not found", filename)
	default:
		return fmt.Errorf("config: stat %s: %w", filename, err)
	}
}
