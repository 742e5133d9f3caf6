// Package converter turns USB link-layer captures into sigrok session
// archives.
package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/raster"
	"github.com/penwyp/go-usbll2sr/internal/core/timeline"
	"github.com/penwyp/go-usbll2sr/internal/data/capture"
	"github.com/penwyp/go-usbll2sr/internal/data/srfile"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// Source is a packet source that can be read once from the start.
type Source interface {
	model.PacketSource
	Start() time.Time
	Close() error
}

// Opener opens a fresh Source. A conversion reads its input twice.
type Opener func() (Source, error)

type speeder interface {
	Speed() model.Speed
}

type formatter interface {
	Format() string
}

type Converter struct {
	config Config
	open   Opener
}

// New returns a converter reading the capture file named by config.Input.
func New(config Config) *Converter {
	return NewWithOpener(config, func() (Source, error) {
		return capture.Open(config.Input, capture.Options{Speed: config.Speed})
	})
}

// NewWithOpener returns a converter reading from sources produced by open.
func NewWithOpener(config Config, open Opener) *Converter {
	return &Converter{config: config, open: open}
}

func (c *Converter) Config() Config {
	return c.config
}

// Run converts the input. On error no archive is left behind.
func (c *Converter) Run(ctx context.Context) (*Report, error) {
	startTime := time.Now()
	if err := c.config.validate(); err != nil {
		return nil, err
	}

	report := newReport(c.config)
	ctx = util.ContextWithRunID(ctx, report.RunID)
	runField := util.F("run_id", report.RunID)
	util.LogInfo("Converting "+c.config.Input, runField, util.F("output", c.config.Output))

	// Phase 1: plan the timeline
	planStart := time.Now()
	layout, tcfg, captureStart, err := c.plan(ctx, report)
	if err != nil {
		return nil, err
	}
	report.applyLayout(layout)
	report.CaptureStart = captureStart
	util.LogDebugf("Phase 1 - Planning duration: %v, %d packets, extent %v",
		time.Since(planStart), layout.Packets, layout.Extent)

	// Phase 2: sample rate
	fastest := layout.Fastest()
	if fastest == model.SpeedUnknown {
		fastest = layout.FirstSpeed
	}
	rate := c.config.sampleRate(fastest)
	if err := raster.CheckSampleRate(rate, layout.Speeds()...); err != nil {
		if c.config.StrictSampleRate {
			return nil, err
		}
		report.addWarning("%v", err)
		util.LogWarn(err.Error(), runField)
	}
	report.SampleRate = rate
	total := raster.TotalSamples(layout.Extent, rate)

	// Phase 3: write the archive
	writeStart := time.Now()
	if dir := filepath.Dir(c.config.Output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, model.NewIOError("create", dir, err)
		}
	}
	w, err := srfile.Create(c.config.Output, srfile.Options{Overwrite: c.config.Overwrite})
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, w, tcfg, rate, total, captureStart); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			util.LogWarnf("Failed to remove partial archive: %v", abortErr)
		}
		util.LogError("Conversion failed: "+err.Error(), runField)
		return nil, err
	}
	if err := w.Commit(); err != nil {
		return nil, err
	}
	util.LogDebugf("Phase 3 - Archive writing duration: %v", time.Since(writeStart))

	report.Samples = w.Samples()
	report.Blocks = w.Blocks()
	report.RawBytes = w.Samples() * model.UnitSize
	report.CompressedBytes = w.CompressedBytes()
	report.Elapsed = time.Since(startTime)

	util.LogInfo(fmt.Sprintf("Wrote %s: %d packets, %d samples at %s in %d blocks",
		c.config.Output, report.Packets, report.Samples, util.FormatHz(rate), report.Blocks), runField)
	return report, nil
}

// plan reads the input once and computes the layout. It also fixes the
// timeline configuration both passes share.
func (c *Converter) plan(ctx context.Context, report *Report) (timeline.Layout, timeline.Config, time.Time, error) {
	src, err := c.open()
	if err != nil {
		return timeline.Layout{}, timeline.Config{}, time.Time{}, err
	}
	defer src.Close()

	if f, ok := src.(formatter); ok {
		report.Format = f.Format()
	}

	speed := c.config.Speed
	if s, ok := src.(speeder); ok && s.Speed().Valid() {
		speed = s.Speed()
	}
	if !speed.Valid() {
		speed = model.FullSpeed
	}

	tcfg := timeline.Config{
		DefaultSpeed: speed,
		LeadIn:       speed.BitTime(int64(c.config.StartPadding)),
		TrailingIdle: speed.BitTime(int64(c.config.EndPadding)),
		MinDuration:  model.InstantOf(c.config.MinDuration),
		Encoder:      encoder.Options{StrictPID: c.config.StrictPID},
	}

	layout, err := timeline.Plan(ctx, src, tcfg)
	if err != nil {
		return timeline.Layout{}, timeline.Config{}, time.Time{}, err
	}
	return layout, tcfg, src.Start(), nil
}

func (c *Converter) write(ctx context.Context, w *srfile.Writer, tcfg timeline.Config, rate, total uint64, start time.Time) error {
	if err := w.WriteMetadata(model.NewSessionMetadata(rate, total, start)); err != nil {
		return err
	}

	src, err := c.open()
	if err != nil {
		return err
	}
	defer src.Close()

	synth := timeline.New(ctx, src, tcfg)
	rast := raster.New(synth, raster.Config{SampleRate: rate, MaxBlockBytes: c.config.MaxBlockBytes})
	for {
		block, err := rast.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := w.WriteBlock(block); err != nil {
			return err
		}
		if c.config.Progress != nil {
			c.config.Progress(Progress{Blocks: w.Blocks(), Samples: w.Samples(), TotalSamples: total})
		}
	}

	if w.Samples() != total {
		return fmt.Errorf("capture changed during conversion: planned %d samples, wrote %d", total, w.Samples())
	}
	return nil
}
