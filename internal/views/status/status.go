package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pulsefeed/pulsefeed/internal/realtime"
	"github.com/pulsefeed/pulsefeed/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Snapshot realtime.Snapshot
	Topic    string
	Width    int
}

// New creates a status bar model.
func New() Model {
	return Model{Snapshot: realtime.Snapshot{State: realtime.StateDisconnected}}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	snap := m.Snapshot
	stateStr := lipgloss.NewStyle().
		Foreground(theme.StateColor(string(snap.State))).
		Render(glyph(snap.State) + " " + string(snap.State))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := stateStr + sep + m.Topic

	if snap.PollingFallback {
		content += sep + theme.StyleDimmed.Render("fallback polling")
	}
	if snap.RetryAttempts > 0 {
		content += sep + theme.StyleDimmed.Render(fmt.Sprintf("retries: %d", snap.RetryAttempts))
	}
	if snap.Err != nil {
		content += sep + theme.StyleError.Render("err: "+snap.Err.Error())
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func glyph(state realtime.State) string {
	switch state {
	case realtime.StateRealtime:
		return "●"
	case realtime.StatePolling:
		return "◐"
	case realtime.StateError:
		return "✗"
	default:
		return "○"
	}
}
