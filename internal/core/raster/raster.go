// Package raster resamples line events onto a fixed sample clock and packs
// the samples into independently compressed blocks.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"slices"

	"github.com/klauspost/compress/flate"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// DefaultMaxBlockBytes matches the slice size sigrok uses for its own
// session files.
const DefaultMaxBlockBytes = 16 << 20

// EventSource is a forward-only stream of line events. Extent must be final
// once Next has returned io.EOF.
type EventSource interface {
	Next() (model.LineEvent, error)
	Extent() model.Instant
}

// Config controls rasterization.
type Config struct {
	SampleRate    uint64
	MaxBlockBytes int
	// Level is the DEFLATE level; zero selects the default.
	Level int
}

// run is a stretch of identical samples not yet copied into a block.
type run struct {
	value byte
	count uint64
}

// Rasterizer turns an event stream into sample blocks. Sample k is taken at
// k/SampleRate and holds the levels of the last event at or before it.
type Rasterizer struct {
	src EventSource
	cfg Config

	level     byte
	haveLevel bool
	next      uint64
	pending   run

	raw      []byte
	out      bytes.Buffer
	zw       *flate.Writer
	index    int
	samples  uint64
	finished bool
}

// New returns a rasterizer over src.
func New(src EventSource, cfg Config) *Rasterizer {
	if cfg.MaxBlockBytes <= 0 {
		cfg.MaxBlockBytes = DefaultMaxBlockBytes
	}
	if cfg.Level == 0 {
		cfg.Level = flate.DefaultCompression
	}
	return &Rasterizer{src: src, cfg: cfg}
}

// Next returns the next compressed block, or io.EOF once every sample has
// been emitted. At least one block is always produced.
func (r *Rasterizer) Next() (model.SampleBlock, error) {
	if r.cfg.SampleRate == 0 {
		return model.SampleBlock{}, errors.New("sample rate must be positive")
	}
	for {
		if r.pending.count > 0 {
			r.drain()
		}
		if len(r.raw) == r.cfg.MaxBlockBytes {
			return r.flush()
		}
		if r.finished {
			if len(r.raw) > 0 || r.index == 0 {
				return r.flush()
			}
			return model.SampleBlock{}, io.EOF
		}

		ev, err := r.src.Next()
		if errors.Is(err, io.EOF) {
			r.extend(model.SampleIndex(r.src.Extent(), r.cfg.SampleRate))
			r.finished = true
			continue
		}
		if err != nil {
			return model.SampleBlock{}, err
		}

		if !r.haveLevel {
			r.level, r.haveLevel = ev.Sample(), true
		}
		r.extend(model.SampleIndex(ev.Time, r.cfg.SampleRate))
		r.level = ev.Sample()
	}
}

// Samples returns the number of samples emitted in blocks so far.
func (r *Rasterizer) Samples() uint64 {
	return r.samples
}

// extend holds the current level up to, but not including, sample idx.
func (r *Rasterizer) extend(idx uint64) {
	if idx <= r.next {
		return
	}
	r.pending = run{value: r.level, count: idx - r.next}
	r.next = idx
}

// drain copies as much of the pending run as fits into the current block.
func (r *Rasterizer) drain() {
	room := uint64(r.cfg.MaxBlockBytes - len(r.raw))
	n := min(r.pending.count, room)
	start := len(r.raw)
	r.raw = slices.Grow(r.raw, int(n))[:start+int(n)]
	seg := r.raw[start:]
	for i := range seg {
		seg[i] = r.pending.value
	}
	r.pending.count -= n
}

func (r *Rasterizer) flush() (model.SampleBlock, error) {
	r.out.Reset()
	if r.zw == nil {
		zw, err := flate.NewWriter(&r.out, r.cfg.Level)
		if err != nil {
			return model.SampleBlock{}, fmt.Errorf("failed to create compressor: %w", err)
		}
		r.zw = zw
	} else {
		r.zw.Reset(&r.out)
	}
	if _, err := r.zw.Write(r.raw); err != nil {
		return model.SampleBlock{}, fmt.Errorf("failed to compress block %d: %w", r.index, err)
	}
	if err := r.zw.Close(); err != nil {
		return model.SampleBlock{}, fmt.Errorf("failed to compress block %d: %w", r.index, err)
	}

	block := model.SampleBlock{
		Index:      r.index,
		SampleRate: r.cfg.SampleRate,
		Channels:   model.ChannelCount,
		UnitSize:   model.UnitSize,
		Samples:    uint64(len(r.raw)) / model.UnitSize,
		RawSize:    uint64(len(r.raw)),
		CRC32:      crc32.ChecksumIEEE(r.raw),
		Payload:    bytes.Clone(r.out.Bytes()),
	}
	r.index++
	r.samples += block.Samples
	r.raw = r.raw[:0]
	return block, nil
}
