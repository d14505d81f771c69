package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nickcecere/memex/internal/source"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("39")  // Cyan
	ColorSecondary = lipgloss.Color("212") // Pink
	ColorSuccess   = lipgloss.Color("82")  // Green
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorError     = lipgloss.Color("196") // Red
	ColorMuted     = lipgloss.Color("245") // Gray
	ColorHighlight = lipgloss.Color("226") // Yellow
)

// Styles for various UI elements
var (
	// Text styles
	Bold   = lipgloss.NewStyle().Bold(true)
	Dim    = lipgloss.NewStyle().Foreground(ColorMuted)
	Header = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)

	// Status styles
	Success = lipgloss.NewStyle().Foreground(ColorSuccess)
	Warning = lipgloss.NewStyle().Foreground(ColorWarning)
	Error   = lipgloss.NewStyle().Foreground(ColorError)

	FilePath = lipgloss.NewStyle().Foreground(ColorPrimary)

	// Search result styles
	ResultScore = lipgloss.NewStyle().
			Foreground(ColorSuccess)
	ResultContent = lipgloss.NewStyle().
			PaddingLeft(2)
	RoleUser = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)
	RoleAssistant = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	// Section styles
	SectionTitle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true).
			MarginTop(1)
	Divider = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// HorizontalRule returns a styled horizontal divider.
func HorizontalRule(width int) string {
	return Divider.Render(strings.Repeat("─", max(width, 0)))
}

// FormatRecordRef formats where a message lives: source, file and turn.
func FormatRecordRef(kind source.Kind, path string, turn uint32) string {
	return Dim.Render("["+kind.String()+"] ") + FilePath.Render(path) + Dim.Render(fmt.Sprintf("#%d", turn))
}

// FormatRole styles a message role.
func FormatRole(role string) string {
	if role == "assistant" {
		return RoleAssistant.Render(role)
	}
	return RoleUser.Render(role)
}

// FormatTimestamp renders a message time in local time, or nothing if unknown.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Dim.Render(t.Local().Format("2006-01-02 15:04"))
}

// FormatScore formats a similarity score as a percentage.
func FormatScore(score float64) string {
	return ResultScore.Render(fmt.Sprintf("(%.1f%% match)", score*100))
}
