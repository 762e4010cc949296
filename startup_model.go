package main

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djbird2046/toney-music/internal/ui"
)

type startupPhase uint8

const (
	phaseBrowse startupPhase = iota
	phaseOpening
)

type startupResolvedMsg struct {
	model ui.Model
	err   error
}

// opener loads and starts a file, returning the now-playing model.
type opener func(path string) (ui.Model, error)

// startupModel is the browser shown by a bare `toney`. It hands the
// program over to the now-playing model once a track opens.
type startupModel struct {
	browser ui.BrowserModel
	open    opener
	phase   startupPhase
	path    string
	errMsg  string
	width   int
	height  int
	spinner spinner.Model
}

func newStartupModel(dir string, open opener) startupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	return startupModel{
		browser: ui.NewEmbeddedBrowser(dir),
		open:    open,
		phase:   phaseBrowse,
		spinner: s,
	}
}

func (m startupModel) Init() tea.Cmd {
	return tea.Batch(m.browser.Init(), m.spinner.Tick)
}

func (m startupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.phase == phaseBrowse {
			return m.updateBrowser(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.phase == phaseOpening {
			return m, cmd
		}
		return m, nil

	case ui.BrowserCancelledMsg:
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)

	case ui.BrowserSelectedMsg:
		m.phase = phaseOpening
		m.path = msg.Path
		m.errMsg = ""
		return m, tea.Batch(m.spinner.Tick, openSelectionCmd(m.open, msg.Path))

	case startupResolvedMsg:
		if msg.err != nil {
			m.phase = phaseBrowse
			m.errMsg = msg.err.Error()
			return m, nil
		}

		cmds := []tea.Cmd{msg.model.Init()}
		if m.width > 0 || m.height > 0 {
			w, h := m.width, m.height
			cmds = append(cmds, func() tea.Msg {
				return tea.WindowSizeMsg{Width: w, Height: h}
			})
		}
		return msg.model, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.phase == phaseOpening && startupIsQuit(msg) {
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}
	}

	if m.phase == phaseBrowse {
		return m.updateBrowser(msg)
	}
	return m, nil
}

func (m startupModel) updateBrowser(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := m.browser.Update(msg)
	if browser, ok := model.(ui.BrowserModel); ok {
		m.browser = browser
	}
	return m, cmd
}

func (m startupModel) View() string {
	if m.phase == phaseOpening {
		var b strings.Builder
		b.WriteString("\n  ")
		b.WriteString(startupHeaderStyle.Render("toney"))
		b.WriteString("\n\n  ")
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(startupStatusStyle.Render("Opening " + m.path + "..."))
		b.WriteString("\n\n  ")
		b.WriteString(startupHelpStyle.Render("q quit"))
		b.WriteString("\n")
		return b.String()
	}
	if m.errMsg == "" || m.browser.Error() != nil {
		return m.browser.View()
	}
	return "\n  " + startupErrorStyle.Render(m.errMsg) + "\n\n" + indentBlock(m.browser.View(), "  ")
}

func openSelectionCmd(open opener, path string) tea.Cmd {
	return func() tea.Msg {
		model, err := open(path)
		return startupResolvedMsg{model: model, err: err}
	}
}

// engineOpener adapts openPlayback to the startup model.
func (a *app) engineOpener(ctx context.Context) opener {
	return func(path string) (ui.Model, error) {
		return openPlayback(ctx, a.engine, path)
	}
}

func indentBlock(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		if lines[i] != "" {
			lines[i] = prefix + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func startupIsQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

var (
	startupHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"})
	startupStatusStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"})
	startupHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
	startupErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#A00000", Dark: "#FF8080"})
)
