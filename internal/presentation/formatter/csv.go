package formatter

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/converter"
)

type CSVFormatter struct{}

func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

func (f *CSVFormatter) Format(w io.Writer, reports []*converter.Report) error {
	cw := csv.NewWriter(w)

	headers := []string{
		"Input", "Output", "Run ID", "Speed", "Packets", "Samples",
		"Sample Rate", "Blocks", "Compressed Bytes", "Duration (s)",
		"Capture Start", "Timing Violations", "Cached", "PIDs",
	}
	if err := cw.Write(headers); err != nil {
		return err
	}

	for _, r := range reports {
		pids := make([]string, 0, len(r.PacketsByPID))
		for _, name := range r.PIDNames() {
			pids = append(pids, name+"="+strconv.Itoa(r.PacketsByPID[name]))
		}
		start := ""
		if !r.CaptureStart.IsZero() {
			start = r.CaptureStart.UTC().Format(time.RFC3339Nano)
		}

		record := []string{
			r.Input,
			r.Output,
			r.RunID,
			r.SpeedSummary(),
			strconv.Itoa(r.Packets),
			strconv.FormatUint(r.Samples, 10),
			strconv.FormatUint(r.SampleRate, 10),
			strconv.Itoa(r.Blocks),
			strconv.FormatInt(r.CompressedBytes, 10),
			strconv.FormatFloat(r.Duration.Seconds(), 'f', 9, 64),
			start,
			strconv.Itoa(r.Violations),
			strconv.FormatBool(r.Cached),
			strings.Join(pids, " "),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
