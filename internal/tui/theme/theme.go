// Package theme provides the Lip Gloss palette and reusable styles for the
// beacon terminal UI. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// Notification colors.
var (
	ColorAlert  = lipgloss.Color("#dc2626")
	ColorPrompt = lipgloss.Color("#2563eb")
	ColorError  = lipgloss.Color("#f59e0b")
)

// ScoreColor returns the color for a 0-100 safety score.
func ScoreColor(score float64) lipgloss.Color {
	switch {
	case score >= 80:
		return ColorHealthy
	case score >= 40:
		return ColorWarning
	default:
		return ColorDanger
	}
}

// KindColor returns the color for a notification kind.
func KindColor(kind string) lipgloss.Color {
	switch kind {
	case "alert":
		return ColorAlert
	case "prompt":
		return ColorPrompt
	case "error":
		return ColorError
	default:
		return ColorDefault
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleBanner = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright).
		Background(ColorDanger).
		Padding(0, 1)
)
