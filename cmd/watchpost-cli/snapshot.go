package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save the current camera frame as JPEG",
	RunE:  runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().StringP("output", "o", "snapshot.jpg", "Output file")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	out := mustGetString(cmd, "output")

	data, err := newClientFromFlags().Snapshot(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Saved %d bytes to %s\n", len(data), out)
	return nil
}
