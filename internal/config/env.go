package config

import (
	"fmt"
	"os"
)

// ApplyEnvConfig applies CDXINDEX_* environment variables to cfg, skipping
// any flag name present in changed.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("CDXINDEX_DATA_DIR"), &cfg.DataDir)
	s.setString("bind", os.Getenv("CDXINDEX_BIND"), &cfg.Bind)
	s.setString("warc-base-url", os.Getenv("CDXINDEX_WARC_BASE_URL"), &cfg.WarcBaseURL)

	if err := s.setIntFromString("port", os.Getenv("CDXINDEX_PORT"), &cfg.Port); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := s.setIntFromString("max-num-results", os.Getenv("CDXINDEX_MAX_NUM_RESULTS"), &cfg.MaxNumResults); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := s.setIntFromString("query-timeout-ms", os.Getenv("CDXINDEX_QUERY_TIMEOUT_MS"), &cfg.QueryTimeoutMs); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	s.setBoolFromString("verbose", os.Getenv("CDXINDEX_VERBOSE"), &cfg.Verbose)
	s.setBoolFromString("cdx14", os.Getenv("CDXINDEX_CDX14"), &cfg.CDX14)
	s.setBoolFromString("experimental-access-control", os.Getenv("CDXINDEX_EXPERIMENTAL_ACCESS_CONTROL"), &cfg.ExperimentalAccessControl)
	s.setBoolFromString("secondary-mode", os.Getenv("CDXINDEX_SECONDARY_MODE"), &cfg.SecondaryMode)
	s.setBoolFromString("accept-writes", os.Getenv("CDXINDEX_ACCEPT_WRITES"), &cfg.AcceptWrites)
	s.setBoolFromString("cdx-plus-workaround", os.Getenv("CDXINDEX_CDX_PLUS_WORKAROUND"), &cfg.CDXPlusWorkaround)

	return nil
}
