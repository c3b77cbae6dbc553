package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/sw33tLie/beaconscope/internal/config"
	"github.com/sw33tLie/beaconscope/internal/utils"
	"github.com/sw33tLie/beaconscope/pkg/storage"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the beaconscope store",
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive sqlite3 shell on the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if s.Store.Driver != config.DriverSQLite {
			return fmt.Errorf("db shell needs the sqlite driver, store.driver is %q", s.Store.Driver)
		}
		dbPath, err := utils.StorePath(s.Store.Path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("store file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Store schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints storage usage per tab and the largest keys.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}

		// sqlite tolerates a concurrent reader, badger does not
		var (
			store storage.Store
			done  func()
		)
		if s.Store.Driver == config.DriverBadger {
			store, done, err = openLockedStore(s)
		} else {
			store, err = openStore(s)
			done = func() { store.Close() }
		}
		if err != nil {
			return err
		}
		defer done()

		snap, err := storage.Snapshot(cmd.Context(), store, s.Store.QuotaBytes)
		if err != nil {
			return err
		}
		if len(snap.Keys) == 0 {
			fmt.Println("The store is empty.")
			return nil
		}

		perTab := make(map[int]int64)
		var shared int64
		for _, k := range snap.Keys {
			if id, _, ok := storage.ParseTabKey(k.Key); ok {
				perTab[id] += k.Bytes
			} else {
				shared += k.Bytes
			}
		}
		ids := make([]int, 0, len(perTab))
		for id := range perTab {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return perTab[ids[i]] > perTab[ids[j]] })

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "TAB\tSIZE\t")
		for _, id := range ids {
			fmt.Fprintf(w, "%d\t%s\t\n", id, humanize.IBytes(uint64(perTab[id])))
		}
		fmt.Fprintf(w, "shared\t%s\t\n", humanize.IBytes(uint64(shared)))
		fmt.Fprintln(w, " \t \t")
		fmt.Fprintf(w, "TOTAL\t%s\t\n", humanize.IBytes(uint64(snap.TotalBytes)))
		w.Flush()

		fmt.Printf("\n%.1f%% of the %s quota", snap.Percent, humanize.IBytes(uint64(snap.QuotaBytes)))
		switch {
		case snap.OverLimit:
			fmt.Print(" (over limit)")
		case snap.NearLimit:
			fmt.Print(" (near limit)")
		}
		fmt.Println()

		top, _ := cmd.Flags().GetInt("top")
		if top > 0 {
			fmt.Println("\nLargest keys:")
			for i, k := range snap.Keys {
				if i >= top {
					break
				}
				fmt.Printf("  %-40s %s\n", k.Key, humanize.IBytes(uint64(k.Bytes)))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	statsCmd.Flags().Int("top", 5, "Number of largest keys to list")
}
