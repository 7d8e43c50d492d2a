package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflowci.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	// given
	t.Setenv("HOME", t.TempDir())

	// when
	cfg, err := config.Load("", nil)

	// then
	require.NoError(t, err)
	assert.Empty(t, cfg.File)
	assert.Equal(t, "human", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Server.MaxParallelRuns)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.MaxAge)
	assert.Empty(t, cfg.Guard.BypassEvents)
	assert.True(t, cfg.Runner.CheckGit)
	assert.Equal(t, filepath.Join(cfg.DataDir, "ledger.jsonl"), cfg.Storage.LedgerPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.Storage.LogsDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "cache"), cfg.Cache.Dir)
}

func TestLoadFile(t *testing.T) {
	// given
	path := writeConfig(t, `
log_format: json
data_dir: /var/lib/workflowci
runner:
  labels: [rust, m1]
storage:
  logs_dir: /tmp/ci-logs
cache:
  max_age: 36h
guard:
  bypass_events: [push, schedule]
server:
  max_parallel_runs: 4
`)

	// when
	cfg, err := config.Load(path, nil)

	// then
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, []string{"rust", "m1"}, cfg.Runner.Labels)
	assert.Equal(t, "/tmp/ci-logs", cfg.Storage.LogsDir)
	assert.Equal(t, "/var/lib/workflowci/ledger.jsonl", cfg.Storage.LedgerPath)
	assert.Equal(t, 36*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, []string{"push", "schedule"}, cfg.Guard.BypassEvents)
	assert.Equal(t, 4, cfg.Server.MaxParallelRuns)
}

func TestLoadPrecedence(t *testing.T) {
	// given a file, an env override and a changed flag
	path := writeConfig(t, "log_format: json\nserver:\n  addr: \":9000\"\n  max_parallel_runs: 3\n")
	t.Setenv("WORKFLOWCI_SERVER_ADDR", ":9100")
	t.Setenv("WORKFLOWCI_RUNNER_LABELS", "a,b")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("log-format", "human", "")
	flags.Bool("debug", false, "")
	require.NoError(t, flags.Parse([]string{"--log-format=human"}))

	// when
	cfg, err := config.Load(path, flags)

	// then
	require.NoError(t, err)
	assert.Equal(t, "human", cfg.LogFormat, "changed flag wins over file")
	assert.False(t, cfg.Debug, "unchanged flag keeps default")
	assert.Equal(t, ":9100", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, 3, cfg.Server.MaxParallelRuns)
	assert.Equal(t, []string{"a", "b"}, cfg.Runner.Labels)
}

func TestLoadInvalid(t *testing.T) {

	t.Run("bad values", func(t *testing.T) {
		path := writeConfig(t, "log_format: xml\nserver:\n  max_parallel_runs: 0\n")

		_, err := config.Load(path, nil)

		require.Error(t, err)
		assert.ErrorContains(t, err, "log_format")
		assert.ErrorContains(t, err, "max_parallel_runs")
	})

	t.Run("unreadable file", func(t *testing.T) {
		path := writeConfig(t, "server: [unterminated")

		_, err := config.Load(path, nil)

		require.ErrorContains(t, err, "error reading config file")
	})
}
