package ui

import (
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644))
	}
	return dir
}

func TestBrowserListsPlayableFiles(t *testing.T) {
	dir := tempDir(t, "b.flac", "A.wav", "notes.txt", "c.opus")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp3"), 0o755))

	m := NewBrowser(dir)
	require.NoError(t, m.Error())

	var names []string
	for _, item := range m.list.Items() {
		f := item.(fileItem)
		names = append(names, f.name+f.ext)
	}
	assert.Equal(t, []string{"A.wav", "b.flac", "c.opus"}, names)
	assert.False(t, m.Empty())
}

func TestBrowserSelection(t *testing.T) {
	dir := tempDir(t, "one.mp3", "two.mp3")
	m := NewBrowser(dir)

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = model.(BrowserModel)
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(BrowserModel)

	assert.NotNil(t, cmd)
	assert.Equal(t, BrowserResult{Path: filepath.Join(dir, "two.mp3")}, m.Result())
}

func TestBrowserCancel(t *testing.T) {
	m := NewBrowser(tempDir(t, "one.mp3"))
	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, model.(BrowserModel).Result().Cancelled)

	assert.True(t, NewBrowser(tempDir(t)).Result().Cancelled, "no result yet")
}

func TestBrowserMissingDir(t *testing.T) {
	m := NewBrowser(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, m.Error())
	assert.True(t, m.Empty())
}

func TestEmbeddedBrowserSendsMessages(t *testing.T) {
	dir := tempDir(t, "one.mp3")
	m := NewEmbeddedBrowser(dir)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, BrowserSelectedMsg{Path: filepath.Join(dir, "one.mp3")}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BrowserCancelledMsg{}, cmd())
}
