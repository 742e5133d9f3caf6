package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/penwyp/go-usbll2sr/internal/core/decode"
	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/data/srfile"
	"github.com/penwyp/go-usbll2sr/internal/util"
	"github.com/spf13/cobra"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive.sr>",
	Short: "Show the metadata and decoded packets of a session archive",
	Long: `Reads a sigrok session archive, prints its metadata and decodes the
USB packets carried on its D+/D- channels. The speed is taken from the idle
state of the first sample unless --speed is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 50,
		"Packets to list (0 = all)")
}

type inspectPacket struct {
	Index int    `json:"index"`
	Start string `json:"start"`
	PID   string `json:"pid"`
	Data  string `json:"data"`
}

type inspectResult struct {
	Path          string          `json:"path"`
	Version       string          `json:"version"`
	SigrokVersion string          `json:"sigrok_version"`
	CaptureStart  *time.Time      `json:"capture_start,omitempty"`
	Channels      []string        `json:"channels"`
	SampleRate    uint64          `json:"sample_rate"`
	TotalSamples  uint64          `json:"total_samples"`
	Blocks        int             `json:"blocks"`
	Speed         string          `json:"speed"`
	Packets       int             `json:"packets"`
	Listed        []inspectPacket `json:"listed"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	result, err := inspectArchive(args[0], inspectLimit)
	if err != nil {
		return err
	}
	if strings.EqualFold(outputFormat, "json") {
		data, err := sonic.ConfigDefault.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	printInspect(cmd.OutOrStdout(), result)
	return nil
}

func inspectArchive(path string, limit int) (*inspectResult, error) {
	archive, err := srfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	meta := archive.Metadata
	result := &inspectResult{
		Path:          path,
		Version:       archive.Version,
		SigrokVersion: meta.SigrokVersion,
		Channels:      meta.Channels,
		SampleRate:    meta.SampleRate,
		TotalSamples:  meta.TotalSamples,
		Blocks:        len(archive.Blocks),
		Listed:        []inspectPacket{},
	}
	if !meta.CaptureStart.IsZero() {
		start := meta.CaptureStart
		result.CaptureStart = &start
	}

	speed, err := archiveSpeed(archive)
	if err != nil {
		return nil, err
	}
	result.Speed = speed.Name()

	samples := archive.Samples()
	defer samples.Close()
	dec := decode.NewDecoder(decode.NewSampleSource(samples, meta.SampleRate), speed)
	for {
		p, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode packet %d: %w", result.Packets, err)
		}
		if limit <= 0 || len(result.Listed) < limit {
			pid := ""
			if len(p.Data) > 0 {
				pid = encoder.PIDName(p.Data[0])
			}
			result.Listed = append(result.Listed, inspectPacket{
				Index: result.Packets,
				Start: p.Start.String(),
				PID:   pid,
				Data:  fmt.Sprintf("% x", p.Data),
			})
		}
		result.Packets++
	}
	util.LogDebugf("Inspected %s: %d packets", path, result.Packets)
	return result, nil
}

// archiveSpeed returns the --speed flag or, in auto mode, the speed whose
// idle state matches the first sample.
func archiveSpeed(archive *srfile.Archive) (model.Speed, error) {
	if name := strings.ToLower(speedName); name != "" && name != "auto" {
		return model.ParseSpeed(name)
	}

	samples := archive.Samples()
	defer samples.Close()
	first, err := samples.ReadByte()
	if errors.Is(err, io.EOF) {
		return model.FullSpeed, nil
	}
	if err != nil {
		return model.SpeedUnknown, err
	}

	dp, dm := model.Level(first&0x01), model.Level(first>>1&0x01)
	for _, speed := range []model.Speed{model.FullSpeed, model.LowSpeed} {
		if st, ok := model.StateOf(speed, dp, dm); ok && st == model.StateJ {
			return speed, nil
		}
	}
	return model.SpeedUnknown, fmt.Errorf("%w: archive does not start idle, set --speed", model.ErrUnsupportedSpeed)
}

func printInspect(w io.Writer, r *inspectResult) {
	fmt.Fprintf(w, "Archive:        %s\n", r.Path)
	fmt.Fprintf(w, "Format:         version %s, sigrok %s\n", r.Version, r.SigrokVersion)
	if r.CaptureStart != nil {
		fmt.Fprintf(w, "Capture Start:  %s\n",
			util.GetTimeProvider().FormatTimestamp(*r.CaptureStart))
	}
	fmt.Fprintf(w, "Channels:       %s\n", strings.Join(r.Channels, ", "))
	fmt.Fprintf(w, "Sample Rate:    %s\n", util.FormatHz(r.SampleRate))
	fmt.Fprintf(w, "Samples:        %d in %d blocks\n", r.TotalSamples, r.Blocks)
	fmt.Fprintf(w, "Speed:          %s\n", r.Speed)
	fmt.Fprintf(w, "Packets:        %d\n", r.Packets)
	if len(r.Listed) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%6s  %14s  %-12s %s\n", "#", "Time", "PID", "Data")
	for _, p := range r.Listed {
		fmt.Fprintf(w, "%6d  %14s  %-12s %s\n", p.Index, p.Start, p.PID, p.Data)
	}
	if r.Packets > len(r.Listed) {
		fmt.Fprintf(w, "... %d more\n", r.Packets-len(r.Listed))
	}
}
