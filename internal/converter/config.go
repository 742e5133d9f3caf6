package converter

import (
	"fmt"
	"hash/crc32"
	"runtime"
	"time"

	"github.com/bytedance/sonic"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/raster"
)

// Config describes one conversion.
type Config struct {
	Input  string
	Output string

	// Speed overrides the speed of every packet. SpeedUnknown takes it from
	// the capture's link type.
	Speed model.Speed
	// Interpolate is the number of samples per bit of the fastest speed,
	// used when SampleRate is zero.
	Interpolate int
	SampleRate  uint64

	// StartPadding and EndPadding are idle bus time, in bit cycles of the
	// capture speed, before the first and after the last packet.
	StartPadding int
	EndPadding   int
	MinDuration  time.Duration

	MaxBlockBytes int

	StrictPID        bool
	StrictSampleRate bool
	Overwrite        bool

	// Progress, if set, is called after every sample block is written.
	Progress func(Progress)
}

// Progress reports how far the sample pass has come.
type Progress struct {
	Blocks       int
	Samples      uint64
	TotalSamples uint64
}

// Fraction returns the completed share in [0, 1].
func (p Progress) Fraction() float64 {
	if p.TotalSamples == 0 {
		return 1
	}
	return float64(p.Samples) / float64(p.TotalSamples)
}

func DefaultConfig() Config {
	return Config{
		Interpolate:   4,
		StartPadding:  4,
		MaxBlockBytes: raster.DefaultMaxBlockBytes,
	}
}

func (c Config) validate() error {
	if c.Input == "" {
		return fmt.Errorf("no input capture given")
	}
	if c.Output == "" {
		return fmt.Errorf("no output archive given")
	}
	if c.SampleRate == 0 && c.Interpolate <= 0 {
		return fmt.Errorf("interpolation factor must be positive, got %d", c.Interpolate)
	}
	if c.StartPadding < 0 || c.EndPadding < 0 {
		return fmt.Errorf("padding cannot be negative")
	}
	if c.MinDuration < 0 {
		return fmt.Errorf("minimum duration cannot be negative")
	}
	return nil
}

// sampleRate resolves the configured rate against the fastest speed.
func (c Config) sampleRate(fastest model.Speed) uint64 {
	if c.SampleRate > 0 {
		return c.SampleRate
	}
	return fastest.BitRate() * uint64(c.Interpolate)
}

// OptionsHash identifies the settings that change the produced archive.
// Paths and behavior flags are left out.
func (c Config) OptionsHash() string {
	data, err := sonic.Marshal(struct {
		Speed         string `json:"speed"`
		Interpolate   int    `json:"interpolate"`
		SampleRate    uint64 `json:"sample_rate"`
		StartPadding  int    `json:"start_padding"`
		EndPadding    int    `json:"end_padding"`
		MinDuration   int64  `json:"min_duration"`
		MaxBlockBytes int    `json:"max_block_bytes"`
		StrictPID     bool   `json:"strict_pid"`
	}{
		Speed:         c.Speed.String(),
		Interpolate:   c.Interpolate,
		SampleRate:    c.SampleRate,
		StartPadding:  c.StartPadding,
		EndPadding:    c.EndPadding,
		MinDuration:   int64(c.MinDuration),
		MaxBlockBytes: c.MaxBlockBytes,
		StrictPID:     c.StrictPID,
	})
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

func defaultConcurrency(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
