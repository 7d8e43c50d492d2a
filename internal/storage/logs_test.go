package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/storage"
)

func TestSaveAndReadLogs(t *testing.T) {
	// given
	base := t.TempDir()
	ls := storage.NewLogStorage(base)

	// when
	compile, err := ls.SaveLog("run-1", 3, "Compile", "Compiling gitbutler v0.1.0\n")
	require.NoError(t, err)
	tests, err := ls.SaveLog("run-1", 4, "Run tests", "test result: ok\n")
	require.NoError(t, err)
	checkout, err := ls.SaveLog("run-1", 0, "Run actions/checkout@v2", "")
	require.NoError(t, err)

	// then
	assert.Equal(t, filepath.Join(base, "run-1", "04-Compile.log"), compile)
	assert.Equal(t, filepath.Join(base, "run-1", "05-Run_tests.log"), tests)
	assert.Equal(t, filepath.Join(base, "run-1", "01-Run_actions_checkoutv2.log"), checkout)

	paths, err := ls.RunLogs("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{checkout, compile, tests}, paths)

	data, err := ls.ReadLog("run-1", 4)
	require.NoError(t, err)
	assert.Equal(t, "test result: ok\n", string(data))
}

func TestReadLogMissing(t *testing.T) {
	ls := storage.NewLogStorage(t.TempDir())
	_, err := ls.SaveLog("run-1", 0, "Compile", "x")
	require.NoError(t, err)

	_, err = ls.ReadLog("run-1", 7)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ls.ReadLog("no-such-run", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunIDIsSanitized(t *testing.T) {
	base := t.TempDir()
	ls := storage.NewLogStorage(base)

	path, err := ls.SaveLog("../../escape", 0, "step", "x")

	require.NoError(t, err)
	rel, err := filepath.Rel(base, path)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..")
}
