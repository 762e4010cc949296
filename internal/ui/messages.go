package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/djbird2046/toney-music/internal/player"
)

const (
	tickInterval = 100 * time.Millisecond
	fps          = int(time.Second / tickInterval)
)

type tickMsg time.Time

type stateMsg player.State

type endedMsg player.Ended

type statusMsg player.StatusChanged

type errorMsg struct{ err error }

// subscriptionClosedMsg stops the event listener.
type subscriptionClosedMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitEvent delivers the next engine event. It is re-issued after each one.
func waitEvent(sub *player.Subscription) tea.Cmd {
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case st := <-sub.StateChanged:
			return stateMsg(st)
		case ev := <-sub.Ended:
			return endedMsg(ev)
		case ev := <-sub.Status:
			return statusMsg(ev)
		case ev := <-sub.Errors:
			return errorMsg{err: ev.Err}
		case <-sub.Done:
			return subscriptionClosedMsg{}
		}
	}
}
