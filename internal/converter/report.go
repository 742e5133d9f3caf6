package converter

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/timeline"
)

// maxReportedViolations bounds the violations listed as warnings.
const maxReportedViolations = 10

// Report summarizes one conversion.
type Report struct {
	RunID  string `json:"run_id"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Format string `json:"format,omitempty"`

	Packets        int            `json:"packets"`
	PacketsBySpeed map[string]int `json:"packets_by_speed"`
	PacketsByPID   map[string]int `json:"packets_by_pid"`
	EncodedBits    int64          `json:"encoded_bits"`
	StuffedBits    int64          `json:"stuffed_bits"`

	SampleRate      uint64 `json:"sample_rate"`
	Samples         uint64 `json:"samples"`
	Blocks          int    `json:"blocks"`
	RawBytes        uint64 `json:"raw_bytes"`
	CompressedBytes int64  `json:"compressed_bytes"`

	Duration     time.Duration `json:"duration"`
	CaptureStart time.Time     `json:"capture_start"`

	Violations int      `json:"timing_violations"`
	Warnings   []string `json:"warnings,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
	// Cached marks a batch entry that was skipped because an up to date
	// archive already existed.
	Cached bool `json:"cached,omitempty"`
}

func newReport(cfg Config) *Report {
	return &Report{
		RunID:          uuid.NewString(),
		Input:          cfg.Input,
		Output:         cfg.Output,
		PacketsBySpeed: make(map[string]int),
		PacketsByPID:   make(map[string]int),
	}
}

func (r *Report) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// applyLayout copies the packet statistics of a planning pass.
func (r *Report) applyLayout(layout timeline.Layout) {
	r.Packets = layout.Packets
	for speed, n := range layout.BySpeed {
		r.PacketsBySpeed[speed.String()] += n
	}
	for pid, n := range layout.ByPID {
		r.PacketsByPID[pid] += n
	}
	r.EncodedBits = layout.EncodedBits
	r.StuffedBits = layout.StuffedBits
	r.Duration = layout.Extent.Duration()

	r.Violations = layout.ViolationCount
	for i, v := range layout.Violations {
		if i == maxReportedViolations {
			break
		}
		r.addWarning("%s", v.String())
	}
	if layout.ViolationCount > maxReportedViolations {
		r.addWarning("%d more timing violations not listed", layout.ViolationCount-maxReportedViolations)
	}
}

// PIDNames returns the PID names seen, most frequent first.
func (r *Report) PIDNames() []string {
	names := make([]string, 0, len(r.PacketsByPID))
	for name := range r.PacketsByPID {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ni, nj := r.PacketsByPID[names[i]], r.PacketsByPID[names[j]]
		if ni != nj {
			return ni > nj
		}
		return names[i] < names[j]
	})
	return names
}

// SpeedSummary lists the speeds present, e.g. "fs" or "ls+fs".
func (r *Report) SpeedSummary() string {
	out := ""
	for _, s := range []model.Speed{model.LowSpeed, model.FullSpeed} {
		if r.PacketsBySpeed[s.String()] == 0 {
			continue
		}
		if out != "" {
			out += "+"
		}
		out += s.String()
	}
	if out == "" {
		return "-"
	}
	return out
}

// CompressionRatio is raw over compressed size, 0 when nothing was written.
func (r *Report) CompressionRatio() float64 {
	if r.CompressedBytes == 0 {
		return 0
	}
	return float64(r.RawBytes) / float64(r.CompressedBytes)
}
