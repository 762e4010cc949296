package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	PlayPause  key.Binding
	SeekBack   key.Binding
	SeekFwd    key.Binding
	VolumeUp   key.Binding
	VolumeDown key.Binding
	Stop       key.Binding
	Info       key.Binding
	Help       key.Binding
	Quit       key.Binding
}

var keys = keyMap{
	PlayPause: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "play/pause"),
	),
	SeekBack: key.NewBinding(
		key.WithKeys("left", "h"),
		key.WithHelp("←/h", "-5s"),
	),
	SeekFwd: key.NewBinding(
		key.WithKeys("right", "l"),
		key.WithHelp("→/l", "+5s"),
	),
	VolumeUp: key.NewBinding(
		key.WithKeys("up", "k", "+", "="),
		key.WithHelp("↑/k", "vol+"),
	),
	VolumeDown: key.NewBinding(
		key.WithKeys("down", "j", "-"),
		key.WithHelp("↓/j", "vol-"),
	),
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop"),
	),
	Info: key.NewBinding(
		key.WithKeys("i"),
		key.WithHelp("i", "info"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "more"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PlayPause, k.SeekBack, k.SeekFwd, k.Info, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PlayPause, k.Stop},
		{k.SeekBack, k.SeekFwd},
		{k.VolumeUp, k.VolumeDown},
		{k.Info, k.Help, k.Quit},
	}
}
