package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Color scheme
	PrimaryColor   = lipgloss.Color("39")  // Blue
	SecondaryColor = lipgloss.Color("213") // Pink
	SuccessColor   = lipgloss.Color("42")  // Green
	ErrorColor     = lipgloss.Color("196") // Red
	WarningColor   = lipgloss.Color("214") // Orange
	MutedColor     = lipgloss.Color("243") // Gray
	BorderColor    = lipgloss.Color("238") // Dark gray

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	ShortcutKeyStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	ShortcutDescStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	// Roster pane
	RosterPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	RosterTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(PrimaryColor)

	RosterSelfStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	// Feed pane
	FeedPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	MessageAuthorStyle = lipgloss.NewStyle().
				Foreground(SecondaryColor)

	MessageOwnAuthorStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	MessageUnknownAuthorStyle = lipgloss.NewStyle().
					Foreground(MutedColor).
					Italic(true)

	MessageContentStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	MessageMentionStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	ImageStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Underline(true)

	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	MutedTextStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// RenderShortcut renders a keyboard shortcut
func RenderShortcut(key, desc string) string {
	return ShortcutKeyStyle.Render("["+key+"]") + " " + ShortcutDescStyle.Render(desc)
}

// RenderError renders an error message
func RenderError(msg string) string {
	return ErrorStyle.Render("✗ " + msg)
}

// RenderWarning renders a warning message
func RenderWarning(msg string) string {
	return WarningStyle.Render("⚠ " + msg)
}
