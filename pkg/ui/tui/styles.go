package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accentCyan    = lipgloss.Color("#00D7D7")
	accentMagenta = lipgloss.Color("#D700D7")
	accentGreen   = lipgloss.Color("#5FD75F")
	accentYellow  = lipgloss.Color("#FFD75F")
	accentOrange  = lipgloss.Color("#FF8700")
	accentRed     = lipgloss.Color("#FF5F5F")
	darkBg        = lipgloss.Color("#1C1C1C")
	dimWhite      = lipgloss.Color("#B0B0B0")

	baseStyle = lipgloss.NewStyle().
			Foreground(dimWhite)

	headerStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentMagenta).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(accentMagenta).
			Foreground(darkBg).
			Bold(true).
			Padding(0, 1)

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(accentYellow)

	successStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(accentRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(accentOrange).
			Bold(true)

	logTimestampStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(1, 0, 0, 2)
)

// phaseStyle colours the phase indicator
func phaseStyle(p Phase) lipgloss.Style {
	switch p {
	case PhaseRetrying:
		return warningStyle
	case PhaseFinished:
		return successStyle
	case PhaseWaiting:
		return statsValueStyle
	default:
		return statsLabelStyle
	}
}
