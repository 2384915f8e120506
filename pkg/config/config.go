package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/user/gosec-playbooks/pkg/playbook"
	"github.com/user/gosec-playbooks/pkg/tracing"
)

const (
	dirName   = ".gosec-playbooks"
	fileName  = "config.yaml"
	localFile = ".gosec-playbooks.yaml"
	envPrefix = "GOSEC_PLAYBOOKS"
)

// CatalogConfig selects where playbook definitions come from.
type CatalogConfig struct {
	Paths       []string `mapstructure:"paths" yaml:"paths"`               // extra YAML/HCL files or directories
	SkipBuiltin bool     `mapstructure:"skip_builtin" yaml:"skip_builtin"` // do not load the embedded CIS table
	Strict      bool     `mapstructure:"strict" yaml:"strict"`             // reject overlapping criteria at build time
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text / json
}

type DispatchConfig struct {
	Output      string `mapstructure:"output" yaml:"output"` // file for remediation requests, "-" for stdout
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// Config is the on-disk configuration.
type Config struct {
	Deployment playbook.DeploymentContext `mapstructure:"deployment" yaml:"deployment"`
	Catalog    CatalogConfig              `mapstructure:"catalog" yaml:"catalog"`
	Log        LogConfig                  `mapstructure:"log" yaml:"log"`
	Tracing    tracing.Config             `mapstructure:"tracing" yaml:"tracing"`
	Dispatch   DispatchConfig             `mapstructure:"dispatch" yaml:"dispatch"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Deployment: playbook.DeploymentContext{
			SolutionID:   "SO0111",
			SolutionName: "aws-security-hub-automated-response-and-remediation",
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Tracing:  tracing.DefaultConfig(),
		Dispatch: DispatchConfig{Output: "-", Concurrency: 8},
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []string
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Dispatch.Concurrency < 0 {
		errs = append(errs, "dispatch.concurrency must not be negative")
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// GetConfigPath returns ~/.gosec-playbooks/config.yaml, creating the directory.
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, dirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(configDir, fileName), nil
}

// NewViper returns a viper instance with defaults, env binding and the
// config file lookup order: explicit path, ./.gosec-playbooks.yaml,
// ~/.gosec-playbooks/config.yaml.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	d := Defaults()
	// Every key needs a default so AutomaticEnv overrides reach Unmarshal.
	v.SetDefault("deployment.region", d.Deployment.Region)
	v.SetDefault("deployment.account_id", d.Deployment.AccountID)
	v.SetDefault("deployment.solution_id", d.Deployment.SolutionID)
	v.SetDefault("deployment.solution_version", d.Deployment.SolutionVersion)
	v.SetDefault("deployment.solution_name", d.Deployment.SolutionName)
	v.SetDefault("deployment.dist_bucket", d.Deployment.DistBucket)
	v.SetDefault("deployment.dist_name", d.Deployment.DistName)
	v.SetDefault("catalog.paths", d.Catalog.Paths)
	v.SetDefault("catalog.skip_builtin", d.Catalog.SkipBuiltin)
	v.SetDefault("catalog.strict", d.Catalog.Strict)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("dispatch.output", d.Dispatch.Output)
	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v
	}
	if _, err := os.Stat(localFile); err == nil {
		v.SetConfigFile(localFile)
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, dirName))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	return v
}

// Load reads configuration through v. A missing config file is not an error
// unless it was requested explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if used := v.ConfigFileUsed(); used != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	// 0600: account ids live here
	return os.WriteFile(path, data, 0600)
}
