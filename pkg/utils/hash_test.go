package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/pkg/utils"
)

func TestHashParts(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(a, "Cargo.lock"), []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "Cargo.lock"), []byte("v1"), 0o644))

	first, err := utils.HashParts([]string{"linux"}, []string{filepath.Join(a, "Cargo.lock"), filepath.Join(a, "missing")})
	require.NoError(t, err)
	second, err := utils.HashParts([]string{"linux"}, []string{filepath.Join(b, "Cargo.lock"), filepath.Join(b, "missing")})
	require.NoError(t, err)
	assert.Equal(t, first, second, "directory must not affect the hash")

	require.NoError(t, os.WriteFile(filepath.Join(b, "Cargo.lock"), []byte("v2"), 0o644))
	third, err := utils.HashParts([]string{"linux"}, []string{filepath.Join(b, "Cargo.lock"), filepath.Join(b, "missing")})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	other, err := utils.HashParts([]string{"darwin"}, []string{filepath.Join(a, "Cargo.lock")})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	sum, err := utils.HashFile(path)

	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}
