package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/gosec-playbooks/pkg/finding"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which playbook, if any, would handle a finding",
	Long: `Resolve a single finding against the catalog without dispatching it.

The finding is given either with --title/--status or as an ASFF JSON file
with --finding. An ambiguous match is reported as an error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := resolveInput(cmd)
		if err != nil {
			return err
		}

		r, err := loadRegistry(cmd.Context())
		if err != nil {
			return err
		}

		d, ok, err := r.Resolve(f)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintf(out, "No playbook claims %q with status %s.\n", f.Title, f.Status)
			return nil
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"playbook":         d.Name(),
				"custom_action":    d.ActionLabel(),
				"custom_action_id": d.CustomActionID(),
				"description":      d.Description(),
			})
		}
		fmt.Fprintf(out, "%s (%s)\n", d.Name(), d.ActionLabel())
		if d.Description() != "" {
			fmt.Fprintf(out, "  %s\n", d.Description())
		}
		return nil
	},
}

func resolveInput(cmd *cobra.Command) (finding.Finding, error) {
	if path, _ := cmd.Flags().GetString("finding"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return finding.Finding{}, err
		}
		return finding.FromASFF(data)
	}

	title, _ := cmd.Flags().GetString("title")
	status, _ := cmd.Flags().GetString("status")
	if title == "" {
		return finding.Finding{}, fmt.Errorf("either --title or --finding is required")
	}
	return finding.Finding{Title: title, Status: status}, nil
}

func init() {
	resolveCmd.Flags().StringP("title", "t", "", "finding title")
	resolveCmd.Flags().StringP("status", "s", finding.StatusNew, "workflow status")
	resolveCmd.Flags().String("finding", "", "read the finding from an ASFF JSON file")
	resolveCmd.Flags().Bool("json", false, "print the match as JSON")
	rootCmd.AddCommand(resolveCmd)
}
