package ledger_test

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/ledger"
	"workflowci/pkg/utils"
)

// createTempLog writes a dummy step log for hashing
func createTempLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "step.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func record(t *testing.T, step, state, output string) ledger.Record {
	t.Helper()
	logPath := createTempLog(t, output)
	h, err := utils.HashFile(logPath)
	require.NoError(t, err)
	return ledger.Record{RunID: "run-1", Job: "run-tests", Step: step, State: state, LogPath: logPath, LogHash: h, RunnerID: "runner-1"}
}

func openLedger(t *testing.T) (*ledger.Ledger, string, *ledger.KeyPair) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	keys, err := ledger.GenerateKeyPair()
	require.NoError(t, err)
	l, err := ledger.OpenLedger(path, keys)
	require.NoError(t, err)
	return l, path, keys
}

func TestNewBlockAndHash(t *testing.T) {
	// given
	rec := record(t, "Compile", "SUCCESS", "hello ledger")

	// when
	block, err := ledger.NewBlock(0, rec, "")

	// then
	require.NoError(t, err)
	h, err := block.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, h, block.Hash)
	assert.Equal(t, "run-1", block.RunID)
}

func TestLedgerAppendAndVerify(t *testing.T) {
	// given
	l, _, _ := openLedger(t)

	// when
	b1, err := l.Append(record(t, "Compile", "SUCCESS", "step1 output"))
	require.NoError(t, err)
	b2, err := l.Append(record(t, "Run tests", "TIMED_OUT", "step2 output"))
	require.NoError(t, err)

	// then
	assert.Equal(t, 0, b1.Index)
	assert.Equal(t, 1, b2.Index)
	assert.Equal(t, b1.Hash, b2.PrevHash)
	assert.Equal(t, b2.Hash, l.LastHash())
	require.NoError(t, l.VerifyChain())
	assert.Len(t, l.RunBlocks("run-1"), 2)
	assert.Empty(t, l.RunBlocks("run-2"))
}

func TestLedgerAppendWithoutKeys(t *testing.T) {
	l, err := ledger.OpenLedger(filepath.Join(t.TempDir(), "ledger.jsonl"), nil)
	require.NoError(t, err)

	_, err = l.Append(record(t, "Compile", "SUCCESS", "x"))

	require.Error(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestTamperingDetection(t *testing.T) {

	t.Run("edited log hash", func(t *testing.T) {
		// given
		l, path, keys := openLedger(t)
		_, err := l.Append(record(t, "Compile", "SUCCESS", "secure log"))
		require.NoError(t, err)
		rewrite(t, path, func(b *ledger.Block) { b.LogHash = "fakehash" })

		// when
		reopened, err := ledger.OpenLedger(path, keys)
		require.NoError(t, err)

		// then
		assert.ErrorContains(t, reopened.VerifyChain(), "hash mismatch")
	})

	t.Run("failed step rewritten as success and re-signed with another key", func(t *testing.T) {
		// given
		l, path, keys := openLedger(t)
		_, err := l.Append(record(t, "Run tests", "FAILED", "boom"))
		require.NoError(t, err)
		forger, err := ledger.GenerateKeyPair()
		require.NoError(t, err)
		rewrite(t, path, func(b *ledger.Block) {
			b.State = "SUCCESS"
			b.Hash, _ = b.ComputeHash()
			b.Signature = forger.Sign([]byte(b.Hash))
			b.PubKey = hexKey(forger)
		})

		// when
		reopened, err := ledger.OpenLedger(path, keys)
		require.NoError(t, err)

		// then
		assert.ErrorContains(t, reopened.VerifyChain(), "unknown key")
	})
}

func TestLedgerPersistence(t *testing.T) {
	// given
	l, path, keys := openLedger(t)
	_, err := l.Append(record(t, "Compile", "SUCCESS", "persisted log"))
	require.NoError(t, err)

	// when
	reopened, err := ledger.OpenLedger(path, keys)

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	require.NoError(t, reopened.VerifyChain())
	_, err = reopened.Append(record(t, "Run tests", "SUCCESS", "more"))
	require.NoError(t, err)
	require.NoError(t, reopened.VerifyChain())
}

func TestEnsureKeyPair(t *testing.T) {
	dir := t.TempDir()

	first, created, err := ledger.EnsureKeyPair(dir)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := ledger.EnsureKeyPair(dir)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Public, second.Public)
	assert.Equal(t, first.Private, second.Private)
}

func rewrite(t *testing.T, path string, edit func(b *ledger.Block)) {
	t.Helper()
	l, err := ledger.OpenLedger(path, nil)
	require.NoError(t, err)
	blocks := l.Blocks()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	enc := json.NewEncoder(f)
	for i := range blocks {
		if i == 0 {
			edit(&blocks[i])
		}
		require.NoError(t, enc.Encode(blocks[i]))
	}
}

func hexKey(k *ledger.KeyPair) string {
	return hex.EncodeToString(k.Public)
}
