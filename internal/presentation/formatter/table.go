package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/penwyp/go-usbll2sr/internal/converter"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

type TableFormatter struct {
	headers []string
}

func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		headers: []string{
			"Capture", "Speed", "Packets", "Samples",
			"Rate", "Blocks", "Size", "Duration", "Warnings",
		},
	}
}

func (f *TableFormatter) Format(w io.Writer, reports []*converter.Report) error {
	rows := make([][]string, 0, len(reports)+1)
	var totalPackets, totalWarnings int
	var totalSamples uint64
	var totalBlocks int
	var totalBytes int64
	for _, r := range reports {
		rows = append(rows, f.row(r))
		totalPackets += r.Packets
		totalSamples += r.Samples
		totalBlocks += r.Blocks
		totalBytes += r.CompressedBytes
		totalWarnings += len(r.Warnings)
	}
	total := []string{
		"Total", "",
		util.FormatNumber(totalPackets),
		util.FormatNumber(int(totalSamples)),
		"",
		util.FormatNumber(totalBlocks),
		util.FormatBytes(totalBytes),
		"",
		util.FormatNumber(totalWarnings),
	}

	widths := f.calculateColumnWidths(append(rows, total))

	f.printBorder(w, widths, "top")
	f.printRow(w, f.headers, widths)
	f.printBorder(w, widths, "middle")
	for _, row := range rows {
		f.printRow(w, row, widths)
	}
	f.printBorder(w, widths, "middle")
	f.printRow(w, total, widths)
	f.printBorder(w, widths, "bottom")
	return nil
}

func (f *TableFormatter) row(r *converter.Report) []string {
	name := captureName(r)
	if r.Cached {
		name += " (cached)"
	}
	rate, size, duration := "-", "-", "-"
	if r.SampleRate > 0 {
		rate = util.FormatHz(r.SampleRate)
	}
	if r.CompressedBytes > 0 {
		size = util.FormatBytes(r.CompressedBytes)
	}
	if !r.Cached {
		duration = util.FormatDuration(r.Duration)
	}
	return []string{
		name,
		r.SpeedSummary(),
		util.FormatNumber(r.Packets),
		util.FormatNumber(int(r.Samples)),
		rate,
		util.FormatNumber(r.Blocks),
		size,
		duration,
		util.FormatNumber(len(r.Warnings)),
	}
}

// calculateColumnWidths sizes each column to its widest cell
func (f *TableFormatter) calculateColumnWidths(rows [][]string) []int {
	widths := make([]int, len(f.headers))
	for i, header := range f.headers {
		widths[i] = util.GetDisplayWidth(header)
	}
	for _, row := range rows {
		for i, value := range row {
			if n := util.GetDisplayWidth(value); n > widths[i] {
				widths[i] = n
			}
		}
	}
	return widths
}

// printBorder prints table borders (top, middle, bottom)
func (f *TableFormatter) printBorder(w io.Writer, widths []int, borderType string) {
	var left, middle, right string
	switch borderType {
	case "top":
		left, middle, right = "┌", "┬", "┐"
	case "middle":
		left, middle, right = "├", "┼", "┤"
	case "bottom":
		left, middle, right = "└", "┴", "┘"
	}

	var b strings.Builder
	b.WriteString(left)
	for i, width := range widths {
		b.WriteString(strings.Repeat("─", width+2))
		if i < len(widths)-1 {
			b.WriteString(middle)
		}
	}
	b.WriteString(right)
	fmt.Fprintln(w, b.String())
}

// printRow left-aligns the first two columns and right-aligns the numbers
func (f *TableFormatter) printRow(w io.Writer, values []string, widths []int) {
	var b strings.Builder
	b.WriteString("│")
	for i, value := range values {
		pad := strings.Repeat(" ", widths[i]-util.GetDisplayWidth(value))
		if i < 2 {
			b.WriteString(" " + value + pad + " │")
		} else {
			b.WriteString(" " + pad + value + " │")
		}
	}
	fmt.Fprintln(w, b.String())
}
