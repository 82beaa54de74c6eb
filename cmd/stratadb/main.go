// Command stratadb is the operator CLI for StrataDB data directories: open
// a directory to verify it recovers cleanly, force a checkpoint, replay the
// WAL standalone for diagnostics, or dump raw WAL frames. It is not a
// data-plane client: it has no command that reads or writes application
// keys.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

var rootCmd = &cobra.Command{
	Use:   "stratadb",
	Short: "Operator CLI for StrataDB data directories",
	Long: `stratadb is an operational tool for StrataDB data directories.

It opens, recovers, checkpoints, and inspects a directory's WAL and
checkpoint files. It does not read or write application data, use the
embedding API (package stratadb) from Go code for that.`,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "data directory (required)")
	rootCmd.PersistentFlags().String("config", "", "optional YAML config file (see Options)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(inspectWALCmd)
	rootCmd.AddCommand(checkpointCmd)

	for _, cmd := range []*cobra.Command{openCmd, recoverCmd, inspectWALCmd, checkpointCmd} {
		cmd.MarkFlagRequired("dir")
	}
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	zl, err := zerolog.ParseLevel(level)
	if err != nil {
		zl = zerolog.InfoLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zl).With().Timestamp().Logger()
}

func requireDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		return "", fmt.Errorf("--dir is required")
	}
	return dir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
