package logger_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workflowci/internal/logger"
)

func TestInitLoggerWritesJSONFile(t *testing.T) {
	// given
	t.Cleanup(func() { logger.Logger = zap.NewNop().Sugar() })
	path := filepath.Join(t.TempDir(), "logs", "workflowci.log")
	require.NoError(t, logger.InitLogger(logger.LoggerConfig{LogFormat: "json", LogFile: path}))

	// when
	logger.LogInfo("job finished", map[string]interface{}{"job": "run-tests", "status": "SUCCESS"})
	logger.LogDebug("not written at info level", nil)
	logger.LogError("step failed", errors.New("exit status 101"), map[string]interface{}{"step": "Run tests"})
	_ = logger.Sync()

	// then
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "job finished", first["msg"])
	assert.Equal(t, "run-tests", first["job"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "error", second["level"])
	assert.Equal(t, "exit status 101", second["error"])
}

func TestDebugEnablesDebugLevel(t *testing.T) {
	t.Cleanup(func() { logger.Logger = zap.NewNop().Sugar() })
	path := filepath.Join(t.TempDir(), "debug.log")
	require.NoError(t, logger.InitLogger(logger.LoggerConfig{Debug: true, LogFormat: "json", LogFile: path}))

	logger.WithFields(map[string]interface{}{"run": "r1"}).Debugw("ledger block appended")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run":"r1"`)
}
