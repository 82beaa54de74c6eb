package main

import (
	"github.com/spf13/cobra"

	"stratadb"
)

// loadOptions builds a stratadb.Options from the --config flag (if set),
// falling back to stratadb.DefaultOptions, and always attaches the CLI's
// own logger so subcommand output and library log lines share one stream.
func loadOptions(cmd *cobra.Command) (stratadb.Options, error) {
	configPath, _ := cmd.Flags().GetString("config")

	opts := stratadb.DefaultOptions()
	if configPath != "" {
		loaded, err := stratadb.LoadOptionsFile(configPath)
		if err != nil {
			return stratadb.Options{}, err
		}
		opts = loaded
	}
	opts.Logger = log
	return opts, nil
}
