package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Inspect the known faces gallery",
}

var facesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known identities",
	RunE:  runFacesList,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesListCmd)
}

func runFacesList(cmd *cobra.Command, args []string) error {
	names, err := newClientFromFlags().KnownFaces(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list known faces: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("No known faces.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	fmt.Printf("\nTotal: %d identities\n", len(names))
	return nil
}
