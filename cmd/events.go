package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read or clear the events captured for a tab",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the events captured for a tab, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		tab, _ := cmd.Flags().GetInt("tab")
		asJSON, _ := cmd.Flags().GetBool("json")

		events, err := c.Events(cmd.Context(), tab)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		}
		if len(events) == 0 {
			fmt.Println("No events captured for this tab.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "CAPTURED\tTYPE\tNAME\tPROVIDER\tMESSAGE ID\t")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", e.CapturedAt.Local().Format(time.TimeOnly), e.Type, e.Name, e.Provider, e.MessageID)
		}
		return w.Flush()
	},
}

var eventsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a tab's events and reload log",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		tab, _ := cmd.Flags().GetInt("tab")
		if err := c.ClearEvents(cmd.Context(), tab); err != nil {
			return err
		}
		fmt.Printf("Cleared tab %d\n", tab)
		return nil
	},
}

var eventsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print how many events a tab holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		tab, _ := cmd.Flags().GetInt("tab")
		n, err := c.EventCount(cmd.Context(), tab)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsClearCmd)
	eventsCmd.AddCommand(eventsCountCmd)
	eventsCmd.PersistentFlags().Int("tab", 0, "Tab id")
	eventsCmd.MarkPersistentFlagRequired("tab")
	eventsListCmd.Flags().Bool("json", false, "Print raw JSON")
}
