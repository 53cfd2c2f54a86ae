package styles

import "github.com/charmbracelet/lipgloss"

var (
	Primary   = lipgloss.Color("#2563EB") // blue
	Secondary = lipgloss.Color("#14B8A6") // teal
	Success   = lipgloss.Color("#22C55E")
	Warning   = lipgloss.Color("#F59E0B")
	Error     = lipgloss.Color("#EF4444")
	Muted     = lipgloss.Color("#6B7280")
	Text      = lipgloss.Color("#E5E7EB")
	Selection = lipgloss.Color("#FFFFFF")
	Dim       = lipgloss.Color("#333333")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	Label = lipgloss.NewStyle().
		Foreground(Muted).
		Width(12)

	Value = lipgloss.NewStyle().
		Foreground(Text).
		Bold(true)

	Hint = lipgloss.NewStyle().
		Foreground(Muted).
		Italic(true)

	ActiveItem = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	InactiveItem = lipgloss.NewStyle().
			Foreground(Muted)

	StatusBar = lipgloss.NewStyle().
			Foreground(Muted).
			MarginTop(1)

	Border = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Muted).
		Padding(1, 2)

	// Panel is the compact box around stat blocks and detail cards.
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Muted).
		Padding(0, 1)

	ErrorText = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	SuccessText = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)
)
