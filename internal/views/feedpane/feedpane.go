// Package feedpane renders the scrolling list of delivered feed events.
package feedpane

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pulsefeed/pulsefeed/internal/feed"
	"github.com/pulsefeed/pulsefeed/internal/theme"
)

const maxEntries = 200

// Entry is one rendered feed line.
type Entry struct {
	Kind feed.EventKind
	Text string
	When string
}

// Model holds the feed pane state.
type Model struct {
	Width   int
	Height  int
	entries []Entry
}

func New() Model {
	return Model{}
}

// Push appends a delivered event, keeping a bounded history.
func (m *Model) Push(e Entry) {
	m.entries = append(m.entries, e)
	if len(m.entries) > maxEntries {
		m.entries = m.entries[len(m.entries)-maxEntries:]
	}
}

// Len returns the number of retained entries.
func (m Model) Len() int { return len(m.entries) }

// View renders the most recent events that fit the pane height.
func (m Model) View() string {
	height := m.Height
	if height < 3 {
		height = 3
	}

	lines := []string{theme.StyleHeader.Render("── FEED ──")}
	visible := m.entries
	if len(visible) > height-1 {
		visible = visible[len(visible)-(height-1):]
	}
	for _, e := range visible {
		lines = append(lines, m.renderEntry(e))
	}
	if len(m.entries) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  waiting for events..."))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderEntry(e Entry) string {
	color := theme.ColorLike
	mark := "+"
	if e.Kind == feed.EventRemove {
		color = theme.ColorUnlike
		mark = "-"
	}
	line := fmt.Sprintf("  %s %s", mark, e.Text)
	styled := lipgloss.NewStyle().Foreground(color).Render(line)
	return styled + "  " + theme.StyleDimmed.Render(e.When)
}
