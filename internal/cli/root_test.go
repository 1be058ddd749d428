package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommands(t *testing.T) {
	want := []string{"serve", "watch", "assess", "show", "export", "backfill", "simulate-alert", "migrate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestVersionSkipsConfigLoading(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version", "--config", "/nonexistent/floodwatch.yaml"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "version: ")
	assert.Nil(t, appHandle)
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "2024-11-15T08:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2024-11-15T08:00:00Z", got.Format("2006-01-02T15:04:05Z07:00"))

	got, err = parseTimeFlag("from", "2024-11-15")
	require.NoError(t, err)
	assert.Equal(t, 15, got.Day())

	got, err = parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, `invalid --to value "yesterday"`)
}
