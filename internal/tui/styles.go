package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by the rater screens.
type Styles struct {
	App      lipgloss.Style
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Label    lipgloss.Style
	Prompt   lipgloss.Style
	Truth    lipgloss.Style

	Answer         lipgloss.Style
	SelectedAnswer lipgloss.Style
	Cursor         lipgloss.Style

	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Help    lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	primary := lipgloss.AdaptiveColor{Light: "#1d4ed8", Dark: "#60a5fa"}
	muted := lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}

	return Styles{
		App: lipgloss.NewStyle().
			Padding(1, 2),
		Title: lipgloss.NewStyle().
			Foreground(primary).
			Bold(true).
			MarginBottom(1),
		Subtitle: lipgloss.NewStyle().
			Foreground(muted),
		Label: lipgloss.NewStyle().
			Bold(true),
		Prompt: lipgloss.NewStyle().
			MarginBottom(1),
		Truth: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#065f46", Dark: "#6ee7b7"}).
			MarginBottom(1),

		Answer: lipgloss.NewStyle().
			PaddingLeft(2),
		SelectedAnswer: lipgloss.NewStyle().
			PaddingLeft(1).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(primary).
			Foreground(primary),
		Cursor: lipgloss.NewStyle().
			Foreground(primary).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(muted),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#dc2626")).
			Bold(true),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#16a34a")).
			Bold(true),
		Help: lipgloss.NewStyle().
			Foreground(muted).
			MarginTop(1),
	}
}
