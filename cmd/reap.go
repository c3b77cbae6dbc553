package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/reaper"
)

// openTabs is a fixed tab list for offline sweeps.
type openTabs []int

func (o openTabs) OpenTabs(context.Context) ([]int, error) { return o, nil }

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one reaper sweep against the store (daemon must be stopped)",
	Long: `Runs one orphan and stale sweep. The daemon sweeps on its own every
reaper.interval; this command is for cleaning a store offline. Tabs listed
with --open are left untouched, every other tab is treated as closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		open, _ := cmd.Flags().GetIntSlice("open")
		retention, _ := cmd.Flags().GetDuration("retention")
		if retention <= 0 {
			retention = s.Reaper.Retention
		}

		store, closeStore, err := openLockedStore(s)
		if err != nil {
			return err
		}
		defer closeStore()

		r := reaper.New(reaper.Config{
			Store:     store,
			Tabs:      openTabs(open),
			Retention: retention,
			Log:       utils.Component("reaper"),
		})
		res, err := r.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d orphan keys; reaped %d tabs (%d keys)\n", len(res.OrphanKeys), len(res.StaleTabs), len(res.StaleKeys))
		for _, e := range res.Errors {
			fmt.Printf("  %v\n", e)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reapCmd)
	reapCmd.Flags().IntSlice("open", nil, "Tab ids to treat as open")
	reapCmd.Flags().Duration("retention", 0, "Retention window (default: reaper.retention)")
}
