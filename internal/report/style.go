package report

import "github.com/charmbracelet/lipgloss"

// Styles degrade to plain text when stdout is not a colour terminal.
var (
	gainStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// signed renders text green for positive v and red for negative v.
func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	}
	return text
}
