package core_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/core"
)

func TestDefaultWorkflow(t *testing.T) {
	// when
	w := core.DefaultWorkflow()

	// then
	require.NoError(t, core.Validate(w))
	assert.Equal(t, "macOS", w.Name)
	require.Len(t, w.On.Schedule, 1)
	assert.Equal(t, "40 6 * * *", w.On.Schedule[0].Cron)
	require.NotNil(t, w.On.Push)
	assert.Equal(t, []string{"master"}, w.On.Push.Branches)
	require.NotNil(t, w.On.PullRequest)
	assert.Empty(t, w.On.PullRequest.Branches)
	assert.Equal(t, map[string]string{"CARGO_INCREMENTAL": "0", "RUST_BACKTRACE": "short"}, w.Env)

	job := w.Jobs["run-tests"]
	require.NotNil(t, job)
	assert.Equal(t, "run-tests", job.ID)
	assert.Equal(t, "startsWith(github.head_ref, 'ci-')", job.If)
	assert.Equal(t, core.Labels{"macos-latest"}, job.RunsOn)
	require.Len(t, job.Steps, 5)

	names := make([]string, len(job.Steps))
	for i := range job.Steps {
		names[i] = job.Steps[i].DisplayName()
	}
	assert.Equal(t, []string{
		"Run actions/checkout@v2",
		"Run actions-rs/toolchain@v1",
		"Cache dependencies",
		"Compile",
		"Run tests",
	}, names)

	toolchain := job.Steps[1]
	assert.Equal(t, map[string]string{"profile": "minimal", "toolchain": "1.56.0", "override": "true"}, toolchain.With)
	assert.Equal(t, "Swatinem/rust-cache@842ef286fff290e445b90b4002cc9807c3669641", job.Steps[2].Uses)
	assert.Equal(t, "cargo build --benches --tests", job.Steps[3].Run)

	test := job.Steps[4]
	assert.Equal(t, 10.0, test.TimeoutMinutes)
	assert.Equal(t, "10m0s", test.Timeout().String())
	assert.Equal(t, map[string]string{"RUST_BACKTRACE": "1"}, test.Env)
	assert.Contains(t, test.Run, `export TEST_GIT="$(which git)"`)
	assert.Contains(t, test.Run, `export TEST_GIT_EXEC_PATH="$(git --exec-path)"`)
	assert.Contains(t, test.Run, "cargo test")
}

func TestParseTriggerShapes(t *testing.T) {

	t.Run("single event name", func(t *testing.T) {
		w, err := core.ParseWorkflow([]byte("on: push\njobs: {}\n"))
		require.NoError(t, err)
		assert.NotNil(t, w.On.Push)
		assert.Nil(t, w.On.PullRequest)
	})

	t.Run("list of events", func(t *testing.T) {
		w, err := core.ParseWorkflow([]byte("on: [push, pull_request, workflow_dispatch]\njobs: {}\n"))
		require.NoError(t, err)
		assert.NotNil(t, w.On.Push)
		assert.NotNil(t, w.On.PullRequest)
		assert.Equal(t, []string{"workflow_dispatch"}, w.On.Other)
	})

	t.Run("filters", func(t *testing.T) {
		w, err := core.ParseWorkflow([]byte(`
on:
  pull_request:
    types: [opened, labeled]
    branches-ignore: ["release/**"]
jobs: {}
`))
		require.NoError(t, err)
		assert.Equal(t, []string{"opened", "labeled"}, w.On.PullRequest.Types)
		assert.Equal(t, []string{"release/**"}, w.On.PullRequest.BranchesIgnore)
	})

	t.Run("schedule without entries", func(t *testing.T) {
		_, err := core.ParseWorkflow([]byte("on:\n  schedule:\njobs: {}\n"))
		require.ErrorIs(t, err, core.ErrInvalidWorkflow)
	})

	t.Run("unknown job key", func(t *testing.T) {
		_, err := core.ParseWorkflow([]byte("on: push\njobs:\n  a:\n    runs-on: x\n    stpes: []\n"))
		require.ErrorIs(t, err, core.ErrInvalidWorkflow)
	})

	t.Run("runs-on list", func(t *testing.T) {
		w, err := core.ParseWorkflow([]byte("on: push\njobs:\n  a:\n    runs-on: [self-hosted, macOS]\n    steps:\n      - run: true\n"))
		require.NoError(t, err)
		assert.Equal(t, core.Labels{"self-hosted", "macOS"}, w.Jobs["a"].RunsOn)
	})
}

func TestLoadWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ci.yml")
	require.NoError(t, os.WriteFile(path, core.DefaultWorkflowYAML(), 0o644))

	w, err := core.LoadWorkflow(path)

	require.NoError(t, err)
	assert.Equal(t, path, w.Path)

	_, err = core.LoadWorkflow(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {

	t.Run("collects every problem", func(t *testing.T) {
		// given
		w, err := core.ParseWorkflow([]byte(`
on:
  schedule:
    - cron: "not a cron"
jobs:
  build:
    if: startsWith(github.head_ref,
    steps:
      - uses: actions-rs/toolchain@v1
        with:
          toolchain: stable
      - uses: actions/checkout@v2
        run: echo both
      - name: nothing
`))
		require.NoError(t, err)

		// when
		err = core.Validate(w)

		// then
		require.ErrorIs(t, err, core.ErrInvalidWorkflow)
		require.ErrorIs(t, err, core.ErrFloatingVersion)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Problems, 6)
		assert.ErrorContains(t, err, "not a cron")
		assert.ErrorContains(t, err, "runs-on is required")
		assert.ErrorContains(t, err, "mutually exclusive")
		assert.ErrorContains(t, err, "one of uses or run is required")
	})

	t.Run("no triggers and no jobs", func(t *testing.T) {
		err := core.Validate(&core.Workflow{})

		require.ErrorIs(t, err, core.ErrNoTrigger)
		require.ErrorIs(t, err, core.ErrNoJobs)
	})
}

func TestCheckPinnedVersion(t *testing.T) {
	assert.NoError(t, core.CheckPinnedVersion("1.56.0"))
	for _, v := range []string{"stable", "nightly", "1.56", "1.56.0-beta", "v1.56.0", ""} {
		assert.ErrorIs(t, core.CheckPinnedVersion(v), core.ErrFloatingVersion, v)
	}
}

func TestSplitUses(t *testing.T) {
	name, ref := core.SplitUses("Swatinem/rust-cache@842ef286fff290e445b90b4002cc9807c3669641")
	assert.Equal(t, "Swatinem/rust-cache", name)
	assert.Equal(t, "842ef286fff290e445b90b4002cc9807c3669641", ref)

	name, ref = core.SplitUses("./local-action")
	assert.Equal(t, "./local-action", name)
	assert.Empty(t, ref)
}
