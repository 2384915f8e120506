package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (deployment context, catalog, logging, tracing)",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the deployment context",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			var err error
			if path, err = config.GetConfigPath(); err != nil {
				return err
			}
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		flags := cmd.Flags()
		next := *cfg
		if flags.Changed("region") {
			next.Deployment.Region, _ = flags.GetString("region")
		}
		if flags.Changed("account-id") {
			next.Deployment.AccountID, _ = flags.GetString("account-id")
		}
		if flags.Changed("solution-version") {
			next.Deployment.SolutionVersion, _ = flags.GetString("solution-version")
		}
		if flags.Changed("dist-bucket") {
			next.Deployment.DistBucket, _ = flags.GetString("dist-bucket")
		}

		if err := next.Validate(); err != nil {
			return err
		}
		if err := config.SaveConfig(path, &next); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "where to write (default: ~/.gosec-playbooks/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("region", "", "AWS region of the deployment")
	configInitCmd.Flags().String("account-id", "", "AWS account id of the deployment")
	configInitCmd.Flags().String("solution-version", "", "solution version stamped on requests")
	configInitCmd.Flags().String("dist-bucket", "", "distribution bucket of the remediation artifacts")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
