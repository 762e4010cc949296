package ui

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
)

// BrowserResult holds the outcome of the file browser.
type BrowserResult struct {
	Path      string
	Cancelled bool
}

type fileItem struct {
	name string
	ext  string
}

func (i fileItem) Title() string       { return i.name }
func (i fileItem) Description() string { return strings.TrimPrefix(i.ext, ".") }
func (i fileItem) FilterValue() string { return i.name }

// BrowserSelectedMsg is sent by an embedded browser when a file is picked.
type BrowserSelectedMsg struct{ Path string }

// BrowserCancelledMsg is sent by an embedded browser on quit.
type BrowserCancelledMsg struct{}

// BrowserModel lists the playable files of a directory.
type BrowserModel struct {
	dir      string
	list     list.Model
	result   *BrowserResult
	err      error
	embedded bool
}

// NewBrowser scans dir. The program quits once a file is picked.
func NewBrowser(dir string) BrowserModel {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return BrowserModel{dir: dir, err: errors.Wrap(err, "cannot read directory")}
	}

	var items []list.Item
	for _, e := range entries {
		if e.IsDir() || !media.IsSupportedPath(e.Name()) {
			continue
		}
		ext := filepath.Ext(e.Name())
		items = append(items, fileItem{name: strings.TrimSuffix(e.Name(), ext), ext: ext})
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].(fileItem).name) < strings.ToLower(items[j].(fileItem).name)
	})

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	l := list.New(items, delegate, 80, 20)
	l.Title = "toney"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = headerStyle

	return BrowserModel{dir: dir, list: l}
}

// NewEmbeddedBrowser reports the outcome with messages instead of quitting,
// for use inside a parent model.
func NewEmbeddedBrowser(dir string) BrowserModel {
	m := NewBrowser(dir)
	m.embedded = true
	return m
}

// Error returns the initialization error, if any.
func (m BrowserModel) Error() error {
	return m.err
}

// Empty reports whether there is nothing to pick.
func (m BrowserModel) Empty() bool {
	return len(m.list.Items()) == 0
}

// Result returns the browser result after the program finishes.
func (m BrowserModel) Result() BrowserResult {
	if m.result != nil {
		return *m.result
	}
	return BrowserResult{Cancelled: true}
}

func (m BrowserModel) Init() tea.Cmd {
	return tea.SetWindowTitle("toney")
}

func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// keys belong to the filter input while it is open
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(fileItem); ok {
				path := filepath.Join(m.dir, item.name+item.ext)
				m.result = &BrowserResult{Path: path}
				if m.embedded {
					return m, func() tea.Msg { return BrowserSelectedMsg{Path: path} }
				}
				return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
			}
		case "q", "esc", "ctrl+c":
			m.result = &BrowserResult{Cancelled: true}
			if m.embedded {
				return m, func() tea.Msg { return BrowserCancelledMsg{} }
			}
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}

	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m BrowserModel) View() string {
	if m.err != nil {
		return "\n  " + headerStyle.Render("toney") + "\n\n  " + errorStyle.Render(m.err.Error()) + "\n"
	}
	return m.list.View()
}
