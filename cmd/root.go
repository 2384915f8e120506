package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/gosec-playbooks/pkg/catalog"
	"github.com/user/gosec-playbooks/pkg/config"
	"github.com/user/gosec-playbooks/pkg/logx"
	"github.com/user/gosec-playbooks/pkg/registry"
	"github.com/user/gosec-playbooks/pkg/tracing"
)

var (
	version = "dev"
	cfgFile string
	cfg     *config.Config
	cfgErr  error
	tracer  *tracing.Provider
)

var rootCmd = &cobra.Command{
	Use:   "gosec-playbooks",
	Short: "Route Security Hub findings to remediation playbooks",
	Long: `gosec-playbooks keeps a catalog of remediation playbooks (the CIS AWS
Foundations set is built in), resolves each incoming Security Hub finding to
at most one playbook and hands a remediation request to the execution engine.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var DebugMode bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}

func init() {
	cobra.OnInitialize(initConfig)
	// Finalizers run even when RunE fails, unlike post-run hooks.
	cobra.OnFinalize(shutdownTracing)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.gosec-playbooks.yaml, then ~/.gosec-playbooks/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringSlice("catalog", nil, "extra playbook catalog files or directories (YAML or HCL)")
	rootCmd.PersistentFlags().Bool("no-builtin", false, "do not load the built-in CIS playbooks")
	rootCmd.PersistentFlags().Bool("strict", false, "reject catalogs whose playbook criteria overlap")
}

func shutdownTracing() {
	if tracer == nil {
		return
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		logx.Default().Warn("Flushing traces failed.", "error", err)
	}
	tracer = nil
}

func initConfig() {
	cfg, cfgErr = config.Load(config.NewViper(cfgFile))
}

// setup finishes what initConfig started once flags are parsed: flag
// overrides, the logger and the tracer.
func setup(cmd *cobra.Command, args []string) error {
	if cfgErr != nil {
		return cfgErr
	}

	flags := cmd.Flags()
	if flags.Changed("catalog") {
		paths, _ := flags.GetStringSlice("catalog")
		cfg.Catalog.Paths = append(cfg.Catalog.Paths, paths...)
	}
	if flags.Changed("no-builtin") {
		cfg.Catalog.SkipBuiltin, _ = flags.GetBool("no-builtin")
	}
	if flags.Changed("strict") {
		cfg.Catalog.Strict, _ = flags.GetBool("strict")
	}

	level := cfg.Log.Level
	if DebugMode {
		level = "debug"
	}
	logger := logx.New(level, cfg.Log.Format, cmd.ErrOrStderr())
	logx.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	tracer, err = tracing.NewProvider(ctx, cfg.Tracing, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	cmd.SetContext(logx.WithLogger(ctx, logger))
	logx.Debugf("Configuration loaded (catalog paths: %v, strict: %t)", cfg.Catalog.Paths, cfg.Catalog.Strict)
	return nil
}

func catalogOptions() catalog.Options {
	return catalog.Options{
		Deployment:  cfg.Deployment,
		Paths:       cfg.Catalog.Paths,
		SkipBuiltin: cfg.Catalog.SkipBuiltin,
		Strict:      cfg.Catalog.Strict,
	}
}

func loadRegistry(ctx context.Context) (*registry.Registry, error) {
	r, err := catalog.Load(ctx, catalogOptions())
	if err != nil {
		return nil, fmt.Errorf("loading playbook catalog: %w", err)
	}
	return r, nil
}
