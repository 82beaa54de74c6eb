package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stratadb"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force a fresh checkpoint of a data directory",
	Long: `Opens the data directory at --dir, writes a full-store checkpoint
(internal/checkpoint), then closes. Checkpoints are never load-bearing for
correctness, they exist purely to shorten WAL replay on the next open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := requireDir(cmd)
		if err != nil {
			return err
		}
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}

		db, err := stratadb.Open(dir, optionFns(opts)...)
		if err != nil {
			return fmt.Errorf("open %q: %w", dir, err)
		}
		defer db.Close()

		if err := db.Checkpoint(); err != nil {
			return fmt.Errorf("checkpoint %q: %w", dir, err)
		}
		fmt.Printf("checkpoint written for %q\n", dir)
		return nil
	},
}
