package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// SummaryFormatter prints a readable report per conversion.
type SummaryFormatter struct {
	title   func(a ...interface{}) string
	warning func(a ...interface{}) string
}

func NewSummaryFormatter() *SummaryFormatter {
	return &SummaryFormatter{
		title:   color.New(color.Bold).SprintFunc(),
		warning: color.New(color.FgYellow).SprintFunc(),
	}
}

func (f *SummaryFormatter) Format(w io.Writer, reports []*converter.Report) error {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, f.title("USB Capture Conversion Summary"))
	fmt.Fprintln(w, strings.Repeat("=", 60))

	if len(reports) == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "No captures converted")
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 60))
		return nil
	}

	tp := util.GetTimeProvider()
	for _, r := range reports {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s -> %s\n", r.Input, r.Output)
		if r.Cached {
			fmt.Fprintln(w, "  Up to date, skipped")
			fmt.Fprintf(w, "  Packets:        %s\n", util.FormatNumber(r.Packets))
			continue
		}

		fmt.Fprintf(w, "  Run ID:         %s\n", r.RunID)
		if !r.CaptureStart.IsZero() {
			fmt.Fprintf(w, "  Capture Start:  %s\n", tp.FormatTimestamp(r.CaptureStart))
		}
		fmt.Fprintf(w, "  Duration:       %s\n", util.FormatDuration(r.Duration))
		fmt.Fprintf(w, "  Packets:        %s (%s)\n", util.FormatNumber(r.Packets), r.SpeedSummary())
		for _, name := range r.PIDNames() {
			fmt.Fprintf(w, "    %-12s %s\n", name, util.FormatNumber(r.PacketsByPID[name]))
		}
		fmt.Fprintf(w, "  Encoded Bits:   %s (%s stuffed)\n",
			util.FormatNumber(int(r.EncodedBits)), util.FormatNumber(int(r.StuffedBits)))
		fmt.Fprintf(w, "  Samples:        %s at %s\n", util.FormatNumber(int(r.Samples)), util.FormatHz(r.SampleRate))
		fmt.Fprintf(w, "  Archive:        %d blocks, %s (%.1fx)\n",
			r.Blocks, util.FormatBytes(r.CompressedBytes), r.CompressionRatio())
		fmt.Fprintf(w, "  Elapsed:        %s\n", util.FormatDuration(r.Elapsed))

		if len(r.Warnings) > 0 {
			fmt.Fprintf(w, "  %s\n", f.warning(fmt.Sprintf("Warnings (%d):", len(r.Warnings))))
			for _, warning := range r.Warnings {
				fmt.Fprintf(w, "    %s\n", f.warning(warning))
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	return nil
}
