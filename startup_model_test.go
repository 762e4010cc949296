package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djbird2046/toney-music/internal/config"
	"github.com/djbird2046/toney-music/internal/player"
	"github.com/djbird2046/toney-music/internal/ui"
)

func failingOpener(err error) opener {
	return func(string) (ui.Model, error) { return ui.Model{}, err }
}

func TestStartupModelSelectionEntersOpeningPhase(t *testing.T) {
	m := newStartupModel(t.TempDir(), failingOpener(errors.New("boom")))
	model, cmd := m.Update(ui.BrowserSelectedMsg{Path: "song.mp3"})
	require.NotNil(t, cmd)

	startup, ok := model.(startupModel)
	require.True(t, ok, "got %T", model)
	assert.Equal(t, phaseOpening, startup.phase)
	assert.Contains(t, startup.View(), "Opening song.mp3")
}

func TestStartupModelErrorReturnsToBrowsePhase(t *testing.T) {
	m := newStartupModel(t.TempDir(), failingOpener(errors.New("boom")))
	m.phase = phaseOpening

	msg := openSelectionCmd(m.open, "song.mp3")()
	model, cmd := m.Update(msg)
	assert.Nil(t, cmd)

	startup := model.(startupModel)
	assert.Equal(t, phaseBrowse, startup.phase)
	assert.Equal(t, "boom", startup.errMsg)
}

func TestStartupModelCancel(t *testing.T) {
	m := newStartupModel(t.TempDir(), failingOpener(nil))
	_, cmd := m.Update(ui.BrowserCancelledMsg{})
	assert.NotNil(t, cmd)

	m.phase = phaseOpening
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.NotNil(t, cmd)
}

func TestCheckPath(t *testing.T) {
	dir := t.TempDir()
	song := filepath.Join(dir, "song.flac")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(song, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))

	assert.NoError(t, checkPath(song))
	assert.ErrorContains(t, checkPath(notes), "unsupported format .txt")
	assert.ErrorContains(t, checkPath(dir), "is a directory")
	assert.Error(t, checkPath(filepath.Join(dir, "missing.mp3")))
}

func TestOpenPlaybackRejectsBadPath(t *testing.T) {
	cfg, err := config.LoadFiles()
	require.NoError(t, err)
	cfg.Playback.Output = "null"

	a, err := newApp(cfg)
	require.NoError(t, err)
	defer a.close()

	_, err = openPlayback(context.Background(), a.engine, filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
	assert.Equal(t, player.Idle, a.engine.State())
}
