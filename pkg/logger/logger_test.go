package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogger_NewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("info level hides debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Debug("pipeline: hidden")
		log.Info("pipeline: stage built", "stage", "bronze", "run_id", "")

		out := buf.String()
		require.NotContains(t, out, "hidden")
		require.Contains(t, out, "pipeline: stage built")
		require.Contains(t, out, "stage=bronze")
		require.NotContains(t, out, "run_id")
		require.NotContains(t, out, "\x1b[")
		require.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z `), out)
	})

	t.Run("verbose shows debug", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		NewWithWriter(&buf, true).Debug("pipeline: visible")
		require.Contains(t, buf.String(), "pipeline: visible")
	})
}

func TestLogger_IsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, isTerminal(&bytes.Buffer{}))

	f, err := os.Create(filepath.Join(t.TempDir(), "log.txt"))
	require.NoError(t, err)
	defer f.Close()
	require.False(t, isTerminal(f))

	NewWithWriter(f, false).Info("pipeline: to a file")
	body, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Contains(t, string(body), "pipeline: to a file")
	require.NotContains(t, string(body), "\x1b[")
}
