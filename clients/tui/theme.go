// Package tui provides a terminal dashboard for the magpie gateway.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dohr-michael/magpie/internal/tasks"
)

// Adaptive colors (light/dark terminal detection).
var (
	ColorLive      = lipgloss.AdaptiveColor{Light: "#0070F3", Dark: "#79C0FF"}
	ColorCompleted = lipgloss.AdaptiveColor{Light: "#065F46", Dark: "#7EE2B8"}
	ColorFailed    = lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#FF6B6B"}
	ColorStopped   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	ColorMuted     = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	ColorStatusBg  = lipgloss.AdaptiveColor{Light: "#F3F4F6", Dark: "#1F2937"}
	ColorStatusFg  = lipgloss.AdaptiveColor{Light: "#374151", Dark: "#D1D5DB"}
	ColorBorder    = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#374151"}
)

// Component styles.
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorLive).
			Bold(true).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Background(ColorStatusBg).
			Foreground(ColorStatusFg).
			Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorFailed).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	TableBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBorder)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 1)
)

// statusStyle colors a lifecycle state for the task table.
func statusStyle(s tasks.Status) lipgloss.Style {
	switch s {
	case tasks.StatusCompleted:
		return lipgloss.NewStyle().Foreground(ColorCompleted)
	case tasks.StatusFailed:
		return lipgloss.NewStyle().Foreground(ColorFailed)
	case tasks.StatusCancelled, tasks.StatusKilled, tasks.StatusStopping:
		return lipgloss.NewStyle().Foreground(ColorStopped)
	default:
		return lipgloss.NewStyle().Foreground(ColorLive)
	}
}
