package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config in YAML-friendly form: every field is a
// pointer so an absent key in the file is distinguishable from an
// explicit zero value, and ApplyFileConfig only touches fields the file
// actually set.
type FileConfig struct {
	DataDir                   *string `yaml:"data_dir"`
	Port                      *int    `yaml:"port"`
	Bind                      *string `yaml:"bind"`
	Verbose                   *bool   `yaml:"verbose"`
	CDX14                     *bool   `yaml:"cdx14"`
	ExperimentalAccessControl *bool   `yaml:"experimental_access_control"`
	SecondaryMode             *bool   `yaml:"secondary_mode"`
	AcceptWrites              *bool   `yaml:"accept_writes"`
	WarcBaseURL               *string `yaml:"warc_base_url"`
	MaxNumResults             *int    `yaml:"max_num_results"`
	QueryTimeoutMs            *int    `yaml:"query_timeout_ms"`
	CDXPlusWorkaround         *bool   `yaml:"cdx_plus_workaround"`
}

// LoadFileConfig reads and parses a YAML config file from path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// ApplyFileConfig writes fc's fields onto cfg, skipping any flag name
// present in changed (the operator passed that flag explicitly, so the
// file must not override it).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) {
	s := newConfigSetter(changed)
	if fc.DataDir != nil {
		s.setString("data-dir", *fc.DataDir, &cfg.DataDir)
	}
	if fc.Port != nil {
		s.setInt("port", *fc.Port, &cfg.Port)
	}
	if fc.Bind != nil {
		s.setString("bind", *fc.Bind, &cfg.Bind)
	}
	s.setBool("verbose", fc.Verbose, &cfg.Verbose)
	s.setBool("cdx14", fc.CDX14, &cfg.CDX14)
	s.setBool("experimental-access-control", fc.ExperimentalAccessControl, &cfg.ExperimentalAccessControl)
	s.setBool("secondary-mode", fc.SecondaryMode, &cfg.SecondaryMode)
	s.setBool("accept-writes", fc.AcceptWrites, &cfg.AcceptWrites)
	if fc.WarcBaseURL != nil {
		s.setString("warc-base-url", *fc.WarcBaseURL, &cfg.WarcBaseURL)
	}
	if fc.MaxNumResults != nil {
		s.setInt("max-num-results", *fc.MaxNumResults, &cfg.MaxNumResults)
	}
	if fc.QueryTimeoutMs != nil {
		s.setInt("query-timeout-ms", *fc.QueryTimeoutMs, &cfg.QueryTimeoutMs)
	}
	s.setBool("cdx-plus-workaround", fc.CDXPlusWorkaround, &cfg.CDXPlusWorkaround)
}
