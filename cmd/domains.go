package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/beaconscope/pkg/domains"
)

var domainsCmd = &cobra.Command{
	Use:   "domains",
	Short: "Manage the capture allow-list",
}

var domainsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allowed domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		list, err := c.Domains(cmd.Context())
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("The allow-list is empty.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tSUBDOMAINS\t")
		for _, d := range list {
			fmt.Fprintf(w, "%s\t%t\t\n", d.Domain, d.AllowSubdomains)
		}
		return w.Flush()
	},
}

var domainsCheckCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Tell whether a domain is captured",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		allowed, err := c.IsDomainAllowed(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if allowed {
			fmt.Printf("%s is allowed\n", domains.Normalize(args[0]))
		} else {
			fmt.Printf("%s is not allowed\n", domains.Normalize(args[0]))
		}
		return nil
	},
}

var domainsAllowCmd = &cobra.Command{
	Use:   "allow <domain>",
	Short: "Allow a domain, or apply the auto-allow rule with --auto",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		if auto, _ := cmd.Flags().GetBool("auto"); auto {
			res, err := c.AutoAllowDomain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s (subdomains: %t)\n", res.Action, res.Domain, res.AllowSubdomains)
			return nil
		}
		sub, _ := cmd.Flags().GetBool("subdomains")
		entry, err := c.AllowDomain(cmd.Context(), args[0], sub)
		if err != nil {
			return err
		}
		fmt.Printf("Allowed %s (subdomains: %t)\n", entry.Domain, entry.AllowSubdomains)
		return nil
	},
}

var domainsRemoveCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove a domain from the allow-list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := bridgeClient(cmd)
		if err != nil {
			return err
		}
		removed, err := c.RemoveDomain(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not in the allow-list", domains.Normalize(args[0]))
		}
		fmt.Printf("Removed %s\n", domains.Normalize(args[0]))
		return nil
	},
}

var domainsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Merge domains from a YAML file into the store (daemon must be stopped)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		store, closeStore, err := openLockedStore(s)
		if err != nil {
			return err
		}
		defer closeStore()

		list := domains.NewAllowList(store)
		if err := list.Load(cmd.Context()); err != nil {
			return err
		}
		n, err := list.Import(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d entries, %d domains allowed\n", n, len(list.List()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(domainsCmd)
	domainsCmd.AddCommand(domainsListCmd)
	domainsCmd.AddCommand(domainsCheckCmd)
	domainsCmd.AddCommand(domainsAllowCmd)
	domainsCmd.AddCommand(domainsRemoveCmd)
	domainsCmd.AddCommand(domainsImportCmd)
	domainsAllowCmd.Flags().Bool("subdomains", false, "Also allow every subdomain")
	domainsAllowCmd.Flags().Bool("auto", false, "Widen an existing entry instead of adding one when possible")
}
