package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/anystat/internal/model"
)

var (
	ColorNavy   = lipgloss.Color("#1B2A4A")
	ColorWhite  = lipgloss.Color("#FFFFFF")
	ColorGray   = lipgloss.Color("245")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("#49E209")
	ColorOrange = lipgloss.Color("208")
	ColorRed    = lipgloss.Color("196")
)

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = sectionStyle.
				BorderForeground(ColorGreen)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	statusStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)

	barStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Background(ColorBlue)

	warnStyle = lipgloss.NewStyle().Foreground(ColorOrange).Bold(true)
	critStyle = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
)

func severityStyle(s model.Severity) lipgloss.Style {
	if s == model.SeverityCrit {
		return critStyle
	}
	return warnStyle
}
