package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List and manage detection events",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored detection events, newest first",
	Long: `List stored detection events, newest first.

Example:
  watchpost-cli events list --status unknown --limit 50`,
	RunE: runEventsList,
}

var eventsDeleteCmd = &cobra.Command{
	Use:   "delete [id...]",
	Short: "Delete events by id",
	Long: `Delete one or more events together with their artifact files.

Example:
  watchpost-cli events delete 42
  watchpost-cli events delete 42 43 44`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEventsDelete,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsDeleteCmd)

	eventsListCmd.Flags().Int("limit", 20, "Maximum number of events to show")
	eventsListCmd.Flags().String("status", "all", "Filter by status: all, known, unknown")
}

func runEventsList(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	status := mustGetString(cmd, "status")

	events, err := newClientFromFlags().Events(cmd.Context(), limit, status)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tPERSON\tSTATUS\tCAMERA")
	fmt.Fprintln(w, "--\t----\t------\t------\t------")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.Timestamp.Local().Format("2006-01-02 15:04:05"), ev.PersonName, ev.Status, ev.CameraName)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d events\n", len(events))
	return nil
}

func runEventsDelete(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid event id %q", a)
		}
		ids = append(ids, id)
	}

	client := newClientFromFlags()
	var failed int
	for _, id := range ids {
		if err := client.DeleteEvent(cmd.Context(), id); err != nil {
			fmt.Printf("  - %d: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("  - %d: deleted\n", id)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(ids))
	}
	return nil
}
