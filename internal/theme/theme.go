// Package theme provides the Lip Gloss color palette and reusable styles
// for the pulsefeed TUI. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Connection state colors.
var (
	ColorRealtime     = lipgloss.Color("#22c55e")
	ColorPolling      = lipgloss.Color("#d97706")
	ColorDisconnected = lipgloss.Color("#6b7280")
	ColorError        = lipgloss.Color("#dc2626")
)

// Event colors.
var (
	ColorLike   = lipgloss.Color("#ec4899")
	ColorUnlike = lipgloss.Color("#9ca3af")
	ColorFollow = lipgloss.Color("#3b82f6")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
)

var (
	StyleHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorBright)
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleError  = lipgloss.NewStyle().Foreground(ColorError)
)

// StateColor maps a connection state string to its color.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "realtime":
		return ColorRealtime
	case "polling":
		return ColorPolling
	case "error":
		return ColorError
	default:
		return ColorDisconnected
	}
}
