package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/veil/pkg/types"
)

// Color palette shared by every command's output.
var (
	salmonPink  = lipgloss.Color("#FFB3BA") // errors
	mintGreen   = lipgloss.Color("#A8E6CF") // running / reachable
	butterCream = lipgloss.Color("#FDFD96") // transitional states
	mutedGray   = lipgloss.Color("#6B7280") // secondary text
	brightWhite = lipgloss.Color("#F9FAFB") // primary text
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)

	valueStyle = lipgloss.NewStyle().
			Foreground(brightWhite)

	okStyle = lipgloss.NewStyle().
		Foreground(mintGreen)

	warnStyle = lipgloss.NewStyle().
			Foreground(butterCream)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink)
)

func statusStyle(s types.Status) lipgloss.Style {
	switch s {
	case types.StatusRunning:
		return okStyle
	case types.StatusStarting, types.StatusStopping:
		return warnStyle
	case types.StatusError:
		return errorStyle
	}
	return mutedStyle
}
