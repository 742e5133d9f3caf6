package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Terminal control sequences
const (
	ClearLine  = "\033[2K"
	HideCursor = "\033[?25l"
	ShowCursor = "\033[?25h"
)

// GetDisplayWidth calculates the display width of a string in terminal cells
func GetDisplayWidth(text string) int {
	return runewidth.StringWidth(text)
}

// PadRight pads or truncates text to exactly width terminal cells.
func PadRight(text string, width int) string {
	if GetDisplayWidth(text) > width {
		return runewidth.Truncate(text, width, "…")
	}
	return runewidth.FillRight(text, width)
}

// CreateProgressBar creates a progress bar with the given percentage and width
func CreateProgressBar(percentage float64, width int) string {
	barWidth := width - 2
	if barWidth < 0 {
		barWidth = 0
	}
	filled := int((percentage / 100) * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}
