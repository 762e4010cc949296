package logging

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	require.NoError(t, Init(Options{Level: "loud"}))
	assert.Equal(t, log.InfoLevel, Logger.GetLevel())

	require.NoError(t, Init(Options{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, Logger.GetLevel())
	_, isJSON := Logger.Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)
}

func TestInitWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Options{Level: "info", Dir: dir, Name: "test.log"}))
	Logger.Info("hello")

	matches, err := filepath.Glob(filepath.Join(dir, "*_test.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	Logger.SetOutput(io.Discard)
}
