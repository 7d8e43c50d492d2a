// Package config loads runner settings from defaults, an optional
// workflowci.yaml, WORKFLOWCI_* environment variables and command flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is used for the config file name and default directories.
	AppName = "workflowci"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "WORKFLOWCI"
)

// Config holds the runner configuration.
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Workflow is a descriptor file; the embedded macOS workflow is used when empty.
	Workflow  string `mapstructure:"workflow"`
	Workspace string `mapstructure:"workspace"`
	DataDir   string `mapstructure:"data_dir"`

	Runner struct {
		ID     string   `mapstructure:"id"`
		Labels []string `mapstructure:"labels"`
		Shell  string   `mapstructure:"shell"`

		// CheckGit exports a validated TEST_GIT and TEST_GIT_EXEC_PATH to every job.
		CheckGit bool `mapstructure:"check_git"`
	} `mapstructure:"runner"`

	Storage struct {
		LogsDir    string `mapstructure:"logs_dir"`
		LedgerPath string `mapstructure:"ledger_path"`
		KeysDir    string `mapstructure:"keys_dir"`
	} `mapstructure:"storage"`

	Cache struct {
		Dir    string        `mapstructure:"dir"`
		MaxAge time.Duration `mapstructure:"max_age"`
	} `mapstructure:"cache"`

	Guard struct {
		// BypassEvents names events for which job guards are not evaluated.
		BypassEvents []string `mapstructure:"bypass_events"`
	} `mapstructure:"guard"`

	Server struct {
		Addr            string `mapstructure:"addr"`
		MaxParallelRuns int    `mapstructure:"max_parallel_runs"`
		QueueSize       int    `mapstructure:"queue_size"`
		// WebhookSecret verifies X-Hub-Signature-256 when set.
		WebhookSecret string `mapstructure:"webhook_secret"`
	} `mapstructure:"server"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// Load reads configuration. cfgFile overrides the search path; flags, when
// non-nil, are bound to keys of the same name with dashes turned into
// underscores ("log-format" binds "log_format").
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("error binding flags: %w", bindErr)
		}
	}

	cfg := &Config{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	resolveDirs(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runner cannot work with.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogFormat {
	case "human", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be human or json, got %q", c.LogFormat))
	}
	if c.Server.MaxParallelRuns < 1 {
		errs = append(errs, fmt.Errorf("server.max_parallel_runs must be at least 1, got %d", c.Server.MaxParallelRuns))
	}
	if c.Cache.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cache.max_age must not be negative"))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")
	v.SetDefault("workflow", "")
	v.SetDefault("workspace", "")
	v.SetDefault("data_dir", defaultDataDir())

	v.SetDefault("runner.id", "")
	v.SetDefault("runner.labels", []string{})
	v.SetDefault("runner.shell", "")
	v.SetDefault("runner.check_git", true)

	v.SetDefault("storage.logs_dir", "")
	v.SetDefault("storage.ledger_path", "")
	v.SetDefault("storage.keys_dir", "")

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.max_age", 7*24*time.Hour)

	v.SetDefault("guard.bypass_events", []string{})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_parallel_runs", 2)
	v.SetDefault("server.queue_size", 16)
	v.SetDefault("server.webhook_secret", "")
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", AppName))
	}
	v.AddConfigPath("/etc/" + AppName)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(home, "."+AppName)
}

// resolveDirs fills storage locations left empty from DataDir.
func resolveDirs(c *Config) {
	if c.Storage.LogsDir == "" {
		c.Storage.LogsDir = filepath.Join(c.DataDir, "logs")
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = filepath.Join(c.DataDir, "ledger.jsonl")
	}
	if c.Storage.KeysDir == "" {
		c.Storage.KeysDir = filepath.Join(c.DataDir, "keys")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.DataDir, "cache")
	}
}
