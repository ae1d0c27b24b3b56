package config

// Resolve applies the file (if filePath is non-empty) and environment
// sources onto cfg, in that order, then validates the result. cfg must
// already hold the parsed CLI flag values (defaults for anything the
// operator didn't pass), and changed must name every flag the operator
// passed explicitly on the command line — Resolve never overwrites those,
// so an explicit flag always wins over the file and the environment, and
// the environment always wins over the file for everything else.
func Resolve(cfg *Config, changed map[string]bool, filePath string) error {
	if filePath != "" {
		fc, err := LoadFileConfig(filePath)
		if err != nil {
			return err
		}
		ApplyFileConfig(cfg, fc, changed)
	}
	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}
