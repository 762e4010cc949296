package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFiles(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "streaming", cfg.Playback.Strategy)
	assert.Equal(t, 0.8, cfg.Playback.VolumeLevel())
	assert.Equal(t, "oto", cfg.Playback.Output)
	assert.Equal(t, 48000, cfg.Playback.SampleRate)
	assert.Equal(t, 100, cfg.Playback.BufferMs)
	assert.True(t, cfg.Playback.SinkOptions().AutoSampleRate)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.Remote.Broker)
	assert.Equal(t, "toney", cfg.Remote.ClientID)
	assert.Equal(t, "toney", cfg.Remote.TopicPrefix)
	assert.False(t, cfg.Remote.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[playback]
strategy = "eager"
bit_perfect = true
volume = 0
output = "malgo"
buffer_ms = 40
exclusive = true
auto_sample_rate = false

[log]
level = "debug"
format = "json"

[remote]
enabled = true
broker = "tcp://broker:1883"
topic_prefix = "/home/audio/"
`)
	cfg, err := LoadFiles(path)
	require.NoError(t, err)

	p := cfg.Playback
	assert.Equal(t, "eager", p.Strategy)
	assert.True(t, p.BitPerfect)
	assert.Equal(t, 0.0, p.VolumeLevel(), "explicit zero is kept")
	assert.Equal(t, "malgo", p.Output)

	opts := p.SinkOptions()
	assert.Equal(t, 40, opts.BufferMs)
	assert.True(t, opts.Exclusive)
	assert.False(t, opts.AutoSampleRate)

	assert.Equal(t, "debug", cfg.Log.LoggingOptions().Level)
	assert.Equal(t, "json", cfg.Log.LoggingOptions().Format)
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.Remote.Broker)
	assert.Equal(t, "home/audio", cfg.Remote.TopicPrefix)
}

func TestLaterFilesWin(t *testing.T) {
	first := writeConfig(t, "[playback]\noutput = \"null\"\nbuffer_ms = 20\n")
	second := writeConfig(t, "[playback]\noutput = \"oto\"\n")

	cfg, err := LoadFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, "oto", cfg.Playback.Output)
	assert.Equal(t, 20, cfg.Playback.BufferMs)
}

func TestNormalizeClamps(t *testing.T) {
	loud := 4.0
	cfg := &Config{Playback: Playback{Volume: &loud, Strategy: "bogus", Output: " wav:/tmp/out.wav "}}
	cfg.Normalize()
	assert.Equal(t, 1.0, cfg.Playback.VolumeLevel())
	assert.Equal(t, "streaming", cfg.Playback.Strategy)
	assert.Equal(t, "wav:/tmp/out.wav", cfg.Playback.Output)
}

func TestInvalidFile(t *testing.T) {
	_, err := LoadFiles(writeConfig(t, "[playback\n"))
	assert.Error(t, err)
}

func TestConfigPaths(t *testing.T) {
	t.Setenv(EnvPath, "/etc/toney.toml")
	paths := configPaths()
	require.GreaterOrEqual(t, len(paths), 2)
	assert.Equal(t, "config.toml", paths[len(paths)-2])
	assert.Equal(t, "/etc/toney.toml", paths[len(paths)-1])
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	tests := []struct {
		in, want string
	}{
		{"~/music", filepath.Join(home, "music")},
		{"/abs/path", "/abs/path"},
		{"rel/path", "rel/path"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandPath(tt.in), tt.in)
	}
}
