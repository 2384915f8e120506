package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/gosec-playbooks/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect, validate and export the playbook catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered playbooks in declaration order",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}

		verbose, _ := cmd.Flags().GetBool("verbose")
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tACTION LABEL\tACTION ID\tSTATUSES\tTITLES")
		for _, d := range r.All() {
			c := d.Criteria()
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
				d.Name(), d.ActionLabel(), d.CustomActionID(), strings.Join(c.Statuses(), ","), len(c.Titles()))
			if verbose {
				for _, title := range c.Titles() {
					fmt.Fprintf(tw, "\t\t\t\t  %s\n", title)
				}
			}
		}
		return tw.Flush()
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Build the registry and check that no two playbooks claim the same finding",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Catalog.Strict = true
		r, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Catalog OK: %d playbooks, criteria disjoint.\n", r.Len())
		return nil
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the provisioning manifest (custom actions and event patterns)",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		w := cmd.OutOrStdout()
		if output != "" && output != "-" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := catalog.Export(w, r, strings.ToLower(format)); err != nil {
			return fmt.Errorf("exporting catalog: %w", err)
		}
		return nil
	},
}

func init() {
	catalogListCmd.Flags().BoolP("verbose", "v", false, "also list every claimed title")
	catalogExportCmd.Flags().StringP("format", "f", "json", "manifest format (json, yaml)")
	catalogExportCmd.Flags().StringP("output", "o", "-", "output file, - for stdout")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogExportCmd)
	rootCmd.AddCommand(catalogCmd)
}
