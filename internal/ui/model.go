package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/player"
	"github.com/djbird2046/toney-music/internal/util"
)

const (
	seekStep   = 5 * time.Second
	volumeStep = 0.05
	messageTTL = 5 * time.Second
)

// Player is the part of player.Engine the TUI drives.
type Player interface {
	Load(ctx context.Context, path string) error
	Play() error
	Pause() error
	Stop() error
	Seek(ms int64) error
	SetVolume(v float64)
	Volume() float64
	Position() time.Duration
	Duration() time.Duration
	Status() player.Status
}

// Model is the now-playing screen.
type Model struct {
	player   Player
	events   *player.Subscription
	path     string
	metadata media.TrackMetadata

	state      player.State
	elapsed    time.Duration
	duration   time.Duration
	volume     float64
	bitPerfect bool
	progress   progressSpring

	showInfo bool
	help     help.Model
	width    int
	quitting bool

	message     string
	messageErr  bool
	messageTime time.Time
}

// New returns a model for a track already loaded into p. events may be nil.
func New(p Player, events *player.Subscription, path string, meta media.TrackMetadata) Model {
	st := p.Status()
	return Model{
		player:     p,
		events:     events,
		path:       path,
		metadata:   meta,
		state:      st.State,
		duration:   p.Duration(),
		volume:     p.Volume(),
		bitPerfect: st.BitPerfect,
		progress:   newProgressSpring(),
		help:       help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		waitEvent(m.events),
		tea.SetWindowTitle(windowTitle(m.metadata.DisplayTitle(), m.state)),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.refresh()
		if m.message != "" && time.Since(m.messageTime) > messageTTL {
			m.message = ""
		}
		return m, tickCmd()

	case stateMsg:
		m.state = player.State(msg)
		return m, tea.Batch(waitEvent(m.events), tea.SetWindowTitle(windowTitle(m.metadata.DisplayTitle(), m.state)))

	case endedMsg:
		m.state = player.Ended
		if msg.Reason == player.EndNatural {
			m.elapsed = m.duration
			m.quitting = true
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}
		m.setMessage(fmt.Sprintf("playback stopped (%s): %v", msg.Reason, msg.Err), true)
		return m, waitEvent(m.events)

	case statusMsg:
		m.bitPerfect = msg.BitPerfect
		m.setMessage(msg.Message, false)
		return m, waitEvent(m.events)

	case errorMsg:
		m.setMessage(msg.err.Error(), true)
		return m, waitEvent(m.events)

	case subscriptionClosedMsg:
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)

	case key.Matches(msg, keys.PlayPause):
		m.togglePlay()

	case key.Matches(msg, keys.SeekBack):
		m.seek(-seekStep)

	case key.Matches(msg, keys.SeekFwd):
		m.seek(seekStep)

	case key.Matches(msg, keys.VolumeUp):
		m.player.SetVolume(m.player.Volume() + volumeStep)
		m.volume = m.player.Volume()

	case key.Matches(msg, keys.VolumeDown):
		m.player.SetVolume(m.player.Volume() - volumeStep)
		m.volume = m.player.Volume()

	case key.Matches(msg, keys.Stop):
		_ = m.player.Stop()
		m.elapsed = 0
		m.progress.snap(0)
		m.refresh()

	case key.Matches(msg, keys.Info):
		m.showInfo = !m.showInfo

	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

func (m *Model) togglePlay() {
	var err error
	switch m.player.Status().State {
	case player.Playing:
		err = m.player.Pause()
	case player.Idle:
		// stopped: the track was closed and has to be reopened
		if err = m.player.Load(context.Background(), m.path); err == nil {
			err = m.player.Play()
		}
	default:
		err = m.player.Play()
	}
	if err != nil {
		m.setMessage(err.Error(), true)
	}
	m.refresh()
}

func (m *Model) seek(delta time.Duration) {
	target := m.player.Position() + delta
	if target < 0 {
		target = 0
	}
	if d := m.player.Duration(); d > 0 && target > d {
		target = d
	}
	if err := m.player.Seek(target.Milliseconds()); err != nil {
		m.setMessage(err.Error(), true)
	}
}

// refresh reads the engine snapshot and advances the progress animation.
func (m *Model) refresh() {
	st := m.player.Status()
	m.state = st.State
	m.elapsed = st.Position
	m.volume = st.Volume
	m.bitPerfect = st.BitPerfect
	if st.Duration > 0 {
		m.duration = st.Duration
	}
	var ratio float64
	if m.duration > 0 {
		ratio = float64(m.elapsed) / float64(m.duration)
	}
	m.progress.step(ratio)
}

func (m *Model) setMessage(s string, isErr bool) {
	m.message = s
	m.messageErr = isErr
	m.messageTime = time.Now()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	w := m.width
	if w < 30 {
		w = 50
	}

	var b strings.Builder
	line := func(s string) {
		b.WriteString("  ")
		b.WriteString(s)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	line(headerStyle.Render("toney"))
	b.WriteString("\n")
	line(titleStyle.Render(m.metadata.DisplayTitle()))
	if sub := subtitle(m.metadata.Tags); sub != "" {
		line(artistStyle.Render(sub))
	}
	if summary := m.metadata.Summary(); summary != "" {
		line(formatStyle.Render(summary))
	}
	b.WriteString("\n")

	elapsed := util.FormatDuration(m.elapsed)
	total := util.FormatDuration(m.duration)
	barWidth := max(w-len(elapsed)-len(total)-6, 10)
	bar := renderProgressBar(m.progress.pos, barWidth)
	line(fmt.Sprintf("%s %s %s", timeStyle.Render(elapsed), bar, timeStyle.Render(total)))
	b.WriteString("\n")

	left := stateIcon(m.state) + "  " + m.state.String()
	right := renderVolumePercent(m.volume)
	perfect := ""
	if m.bitPerfect {
		perfect = "  " + perfectStyle.Render("bit-perfect")
		left += "  bit-perfect"
	}
	gap := max(w-len(left)-len(right)-4, 2)
	line(statusStyle.Render(stateIcon(m.state)+"  "+m.state.String()) + perfect + strings.Repeat(" ", gap) + statusStyle.Render(right))

	if m.message != "" {
		if m.messageErr {
			line(errorStyle.Render(m.message))
		} else {
			line(helpStyle.Render(m.message))
		}
	}
	if m.showInfo {
		b.WriteString("\n")
		b.WriteString(indent(renderInfoPanel(m.metadata)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	line(m.help.View(keys))
	return b.String()
}

func subtitle(t media.Tags) string {
	switch {
	case t.Artist != "" && t.Album != "":
		return t.Artist + " - " + t.Album
	case t.Artist != "":
		return t.Artist
	default:
		return t.Album
	}
}

func stateIcon(s player.State) string {
	switch s {
	case player.Playing:
		return "▶"
	case player.Paused:
		return "❚❚"
	default:
		return "■"
	}
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}

func windowTitle(title string, s player.State) string {
	if s == player.Playing {
		return "▶ " + title + " - toney"
	}
	return "⏸ " + title + " - toney"
}
