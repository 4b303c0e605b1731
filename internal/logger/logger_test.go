package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should default an unknown level to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, "info", l.Zerolog().GetLevel().String())
	})

	t.Run("should write structured lines to the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "retain.log")
		l, err := New(Config{Level: "debug", File: path})
		require.NoError(t, err)

		lg := l.Zerolog()
		lg.Info().Str("session_id", "sess-1").Msg("Session started")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), `"session_id":"sess-1"`))
		assert.True(t, strings.Contains(string(data), `"level":"info"`))
	})
}
