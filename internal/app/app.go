// Package app is the Bubble Tea root model binding the realtime
// subscription to the terminal UI.
package app

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/realtime"
	"github.com/pulsefeed/pulsefeed/internal/theme"
	"github.com/pulsefeed/pulsefeed/internal/views/feedpane"
	"github.com/pulsefeed/pulsefeed/internal/views/status"
)

// TransitionMsg delivers a connection state change.
type TransitionMsg realtime.Snapshot

// EventMsg delivers one feed change event.
type EventMsg struct{ Event feed.Event }

// Bridge forwards orchestrator callbacks into the Bubble Tea runtime.
// Sends are non-blocking so a stalled UI can never stall the orchestrator;
// a dropped transition is recovered by the next one (the snapshot is
// complete, not a delta).
type Bridge struct {
	ch chan tea.Msg
}

func NewBridge() *Bridge {
	return &Bridge{ch: make(chan tea.Msg, 64)}
}

func (b *Bridge) OnTransition(s realtime.Snapshot) { b.send(TransitionMsg(s)) }
func (b *Bridge) OnInsert(ev feed.Event)           { b.send(EventMsg{Event: ev}) }
func (b *Bridge) OnRemove(ev feed.Event)           { b.send(EventMsg{Event: ev}) }

func (b *Bridge) send(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default:
	}
}

// Wait returns a command that delivers the next bridged message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg { return <-b.ch }
}

// Model is the root Bubble Tea model.
type Model struct {
	orch   *realtime.Orchestrator
	bridge *Bridge
	target feed.Target

	keys   KeyMap
	width  int
	height int
	paused bool

	statusBar status.Model
	feed      feedpane.Model
}

// New creates the root model.
func New(orch *realtime.Orchestrator, bridge *Bridge, target feed.Target) Model {
	sb := status.New()
	sb.Topic = target.Topic()
	return Model{
		orch:      orch,
		bridge:    bridge,
		target:    target,
		keys:      DefaultKeyMap(),
		statusBar: sb,
		feed:      feedpane.New(),
	}
}

// Init activates the subscription and starts listening for bridge messages.
func (m Model) Init() tea.Cmd {
	m.orch.Start()
	return m.bridge.Wait()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.feed.Width = msg.Width
		m.feed.Height = msg.Height - 5
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TransitionMsg:
		m.statusBar.Snapshot = realtime.Snapshot(msg)
		return m, m.bridge.Wait()

	case EventMsg:
		m.feed.Push(renderEvent(m.target, msg.Event))
		return m, m.bridge.Wait()
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.orch.Stop()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Reconnect):
		m.orch.Stop()
		m.orch.Start()
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		m.orch.SetEnabled(!m.paused)
		return m, nil
	}
	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.statusBar.View(),
		m.feed.View(),
		theme.StyleDimmed.Render("  r:reconnect  p:pause/resume  q:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderEvent turns a change event into a feed pane entry, decoding the row
// by target type. Undecodable rows still show up, just without detail.
func renderEvent(target feed.Target, ev feed.Event) feedpane.Entry {
	entry := feedpane.Entry{Kind: ev.Kind}
	switch target.Type {
	case feed.TargetActivity:
		if row, err := ev.Notification(); err == nil {
			entry.Text = fmt.Sprintf("%s %sed %s", row.ActorID, row.Kind, row.RecipientID)
			entry.When = row.CreatedAt.Format("15:04:05")
			return entry
		}
	default:
		if row, err := ev.Like(); err == nil {
			verb := "liked"
			if ev.Kind == feed.EventRemove {
				verb = "unliked"
			}
			entry.Text = fmt.Sprintf("%s %s %s", row.ActorID, verb, row.TargetID)
			entry.When = row.CreatedAt.Format("15:04:05")
			return entry
		}
	}
	entry.Text = string(ev.Kind) + " on " + ev.Topic
	return entry
}
