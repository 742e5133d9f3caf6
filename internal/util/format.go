package util

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatNumber abbreviates large counts.
func FormatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	} else if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	} else {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}

// FormatDuration renders a wall-clock duration for humans: hours and
// minutes for long spans, seconds with millisecond precision below a minute.
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%.3fs", d.Seconds())
	}
}

// FormatBytes renders a byte count with binary prefixes.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatHz renders a frequency with SI prefixes, dropping a zero fraction.
func FormatHz(hz uint64) string {
	return humanize.SIWithDigits(float64(hz), 3, "Hz")
}
