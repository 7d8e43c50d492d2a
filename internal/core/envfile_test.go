package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/core"
)

func TestParseEnvFile(t *testing.T) {

	t.Run("assignments and heredocs", func(t *testing.T) {
		// given
		data := "TEST_GIT=/usr/bin/git\r\n\nEMPTY=\nURL=http://x?a=b\nNOTES<<EOF\nline one\nline=two\nEOF\nLAST=1"

		// when
		vars, err := core.ParseEnvFile([]byte(data))

		// then
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"TEST_GIT": "/usr/bin/git",
			"EMPTY":    "",
			"URL":      "http://x?a=b",
			"NOTES":    "line one\nline=two",
			"LAST":     "1",
		}, vars)
	})

	t.Run("later assignment wins", func(t *testing.T) {
		vars, err := core.ParseEnvFile([]byte("A=1\nA=2\n"))

		require.NoError(t, err)
		assert.Equal(t, "2", vars["A"])
	})

	t.Run("malformed line", func(t *testing.T) {
		_, err := core.ParseEnvFile([]byte("just words\n"))

		require.ErrorContains(t, err, "line 1")
	})

	t.Run("unterminated heredoc", func(t *testing.T) {
		_, err := core.ParseEnvFile([]byte("X<<END\nvalue\n"))

		require.ErrorContains(t, err, "not terminated")
	})
}

func TestParsePathFile(t *testing.T) {
	assert.Equal(t, []string{"/opt/cargo/bin", "/usr/local/go/bin"}, core.ParsePathFile([]byte("/opt/cargo/bin\n\n  /usr/local/go/bin \n")))
	assert.Empty(t, core.ParsePathFile(nil))
}
