// Package cmd implements the humangym subcommands.
package cmd

import (
	"fmt"

	"grimm.is/humangym/internal/config"
	"grimm.is/humangym/internal/i18n"
	"grimm.is/humangym/internal/registry"
)

// Printer writes localized CLI output.
var Printer = i18n.NewCLIPrinter()

// loadTrialConfig reads and validates a trial config file.
func loadTrialConfig(path string) (*config.TrialConfig, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := cfg.Validate(registry.Names()...); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
