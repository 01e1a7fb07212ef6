package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorBrand  lipgloss.Color = "#89b4fa"
	colorAccent lipgloss.Color = "#cba6f7"
	colorText   lipgloss.Color = "#cdd6f4"
	colorMuted  lipgloss.Color = "#7f849c"
	colorGreen  lipgloss.Color = "#a6e3a1"
	colorYellow lipgloss.Color = "#f9e2af"
	colorRed    lipgloss.Color = "#f38ba8"
	colorMantle lipgloss.Color = "#181825"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorMantle).
			Padding(0, 1)

	titleStyle    = lipgloss.NewStyle().Foreground(colorBrand).Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle  = lipgloss.NewStyle().Foreground(colorGreen)
	warningStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	errorStyle    = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	bodyStyle     = lipgloss.NewStyle().Padding(1, 2)
	helpBarStyle  = lipgloss.NewStyle().Padding(0, 1)
	statusOKStyle = lipgloss.NewStyle().Foreground(colorGreen)
)
