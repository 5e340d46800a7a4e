package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/scanlink/internal/config"
)

// loadToolConfig reads the file named by --config and applies the flag
// overrides that beat it. A missing file is fine: defaults apply.
func loadToolConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Driver = driver
	}
	return cfg, nil
}
