package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	colorCyan   = lipgloss.Color("36")  // Teal - headings
	colorYellow = lipgloss.Color("220") // Amber - pinned rows
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - borders
)

var (
	// StyleTitle for section headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleDim for secondary text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleNumber for numeric values.
	StyleNumber = lipgloss.NewStyle().Foreground(colorCyan)
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorGray).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleNumber = styleCell.Foreground(colorCyan).Align(lipgloss.Right)
	stylePinned = styleCell.Foreground(colorYellow)
	styleHidden = styleCell.Foreground(colorDim)
	styleBorder = lipgloss.NewStyle().Foreground(colorDim)
)
