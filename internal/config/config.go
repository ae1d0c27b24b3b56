// Package config resolves the server's recognized configuration set:
// built-in defaults, a YAML config file, environment variables, and
// explicit CLI flags, applied in that order with later sources winning —
// except that a flag the operator actually typed always wins over file and
// environment values, tracked through a per-field "changed" set the same
// way pflag reports which flags were set on the command line.
package config

import (
	"fmt"
	"strconv"
)

// Config is the server's full recognized configuration.
type Config struct {
	DataDir                   string
	Port                      int
	Bind                      string
	Verbose                   bool
	CDX14                     bool
	ExperimentalAccessControl bool
	SecondaryMode             bool
	AcceptWrites              bool
	WarcBaseURL               string
	MaxNumResults             int
	QueryTimeoutMs            int
	CDXPlusWorkaround         bool
}

// DefaultConfig returns the built-in defaults, the base of the resolution
// chain before any file, environment, or flag override is applied.
func DefaultConfig() Config {
	return Config{
		DataDir:        "data",
		Port:           8080,
		Bind:           "0.0.0.0",
		AcceptWrites:   true,
		MaxNumResults:  150_000,
		QueryTimeoutMs: 30_000,
	}
}

// MisconfigError marks a Config that fails Validate: an operator-fixable
// problem in the resolved settings, as opposed to a startup failure like a
// bind or data-dir error discovered while acting on those settings.
type MisconfigError struct {
	Reason string
}

func (e *MisconfigError) Error() string { return "config: " + e.Reason }

// Validate checks the resolved configuration for values with no correct
// runtime interpretation. It does not touch the filesystem or network —
// those checks belong to the caller once it starts acting on Config, so
// their failures can be told apart as startup failures rather than
// misconfiguration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return &MisconfigError{Reason: "data_dir must not be empty"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &MisconfigError{Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	if c.MaxNumResults <= 0 {
		return &MisconfigError{Reason: "max_num_results must be > 0"}
	}
	if c.QueryTimeoutMs <= 0 {
		return &MisconfigError{Reason: "query_timeout_ms must be > 0"}
	}
	if c.SecondaryMode && c.AcceptWrites {
		return &MisconfigError{Reason: "secondary_mode and accept_writes are mutually exclusive: a secondary is read-only"}
	}
	return nil
}

// configSetter applies configuration values while respecting flag
// precedence: it only writes a field the operator has not explicitly
// passed as a command-line flag.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if n <= 0 {
		return nil
	}
	*dst = n
	return nil
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
