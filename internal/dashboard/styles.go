package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	cyan    = lipgloss.Color("#89dceb")
	green   = lipgloss.Color("#a6e3a1")
	red     = lipgloss.Color("#f38ba8")
	yellow  = lipgloss.Color("#f9e2af")
	magenta = lipgloss.Color("#cba6f7")
	subtext = lipgloss.Color("#a6adc8")

	headerStyle = lipgloss.NewStyle().Foreground(cyan)
	okStyle     = lipgloss.NewStyle().Foreground(green)
	alertStyle  = lipgloss.NewStyle().Foreground(red).Bold(true)
	statsStyle  = lipgloss.NewStyle().Foreground(yellow)
	footerStyle = lipgloss.NewStyle().Foreground(magenta)
	mutedStyle  = lipgloss.NewStyle().Foreground(subtext)
)
