package raster

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/penwyp/go-usbll2sr/internal/core/decode"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventSource struct {
	events []model.LineEvent
	extent model.Instant
	pos    int
}

func (s *eventSource) Next() (model.LineEvent, error) {
	if s.pos >= len(s.events) {
		return model.LineEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *eventSource) Extent() model.Instant {
	return s.extent
}

func inflate(t *testing.T, block model.SampleBlock) []byte {
	t.Helper()
	raw, err := io.ReadAll(flate.NewReader(bytes.NewReader(block.Payload)))
	require.NoError(t, err)
	require.Len(t, raw, int(block.RawSize))
	assert.Equal(t, crc32.ChecksumIEEE(raw), block.CRC32)
	return raw
}

func rasterize(t *testing.T, r *Rasterizer) ([]model.SampleBlock, []byte) {
	t.Helper()
	var blocks []model.SampleBlock
	var samples []byte
	for {
		block, err := r.Next()
		if errors.Is(err, io.EOF) {
			return blocks, samples
		}
		require.NoError(t, err)
		assert.Equal(t, len(blocks), block.Index)
		blocks = append(blocks, block)
		samples = append(samples, inflate(t, block)...)
	}
}

func TestRasterizerSamples(t *testing.T) {
	j := func(at model.Instant) model.LineEvent { return model.NewLineEvent(at, model.FullSpeed, model.StateJ) }
	k := func(at model.Instant) model.LineEvent { return model.NewLineEvent(at, model.FullSpeed, model.StateK) }
	const rate = 10_000_000 // 100ns per sample

	tests := []struct {
		name     string
		events   []model.LineEvent
		extent   model.Instant
		expected []byte
	}{
		{
			name:     "idle only",
			events:   []model.LineEvent{j(0)},
			extent:   500 * model.Nanosecond,
			expected: []byte{1, 1, 1, 1, 1},
		},
		{
			name:     "event on a sample instant",
			events:   []model.LineEvent{j(0), k(100 * model.Nanosecond)},
			extent:   300 * model.Nanosecond,
			expected: []byte{1, 2, 2},
		},
		{
			name:     "event between samples",
			events:   []model.LineEvent{j(0), k(150 * model.Nanosecond)},
			extent:   300 * model.Nanosecond,
			expected: []byte{1, 1, 2},
		},
		{
			name:     "last event within a sample period wins",
			events:   []model.LineEvent{j(0), k(110 * model.Nanosecond), j(190 * model.Nanosecond)},
			extent:   300 * model.Nanosecond,
			expected: []byte{1, 1, 1},
		},
		{
			name:     "partial final sample",
			events:   []model.LineEvent{j(0), k(200 * model.Nanosecond)},
			extent:   201 * model.Nanosecond,
			expected: []byte{1, 1, 2},
		},
		{
			name:     "first event after zero",
			events:   []model.LineEvent{k(200 * model.Nanosecond)},
			extent:   300 * model.Nanosecond,
			expected: []byte{2, 2, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&eventSource{events: tt.events, extent: tt.extent}, Config{SampleRate: rate})
			blocks, samples := rasterize(t, r)
			require.Len(t, blocks, 1)
			assert.Equal(t, tt.expected, samples)
			assert.Equal(t, uint64(len(tt.expected)), r.Samples())
			assert.Equal(t, TotalSamples(tt.extent, rate), r.Samples())
		})
	}
}

func TestRasterizerSampleCount(t *testing.T) {
	src := &eventSource{
		events: []model.LineEvent{model.NewLineEvent(0, model.FullSpeed, model.StateJ)},
		extent: 1000 * model.Nanosecond,
	}
	r := New(src, Config{SampleRate: 24_000_000})
	blocks, samples := rasterize(t, r)
	require.Len(t, blocks, 1)
	assert.Len(t, samples, 24)
	assert.Equal(t, uint64(24), blocks[0].Samples)
	assert.Equal(t, uint64(24_000_000), blocks[0].SampleRate)
	assert.Equal(t, model.ChannelCount, blocks[0].Channels)
	assert.Equal(t, model.UnitSize, blocks[0].UnitSize)
}

func TestRasterizerBlockSplitting(t *testing.T) {
	src := &eventSource{
		events: []model.LineEvent{
			model.NewLineEvent(0, model.LowSpeed, model.StateJ),
			model.NewLineEvent(12*model.Microsecond, model.LowSpeed, model.StateK),
		},
		extent: 25 * model.Microsecond,
	}
	r := New(src, Config{SampleRate: 1_000_000, MaxBlockBytes: 10})
	blocks, samples := rasterize(t, r)

	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(10), blocks[0].Samples)
	assert.Equal(t, uint64(10), blocks[1].Samples)
	assert.Equal(t, uint64(5), blocks[2].Samples)
	require.Len(t, samples, 25)
	assert.Equal(t, bytes.Repeat([]byte{2}, 12), samples[:12])
	assert.Equal(t, bytes.Repeat([]byte{1}, 13), samples[12:])
}

func TestRasterizerExactBlockMultiple(t *testing.T) {
	src := &eventSource{
		events: []model.LineEvent{model.NewLineEvent(0, model.FullSpeed, model.StateJ)},
		extent: 20 * model.Microsecond,
	}
	blocks, samples := rasterize(t, New(src, Config{SampleRate: 1_000_000, MaxBlockBytes: 10}))
	assert.Len(t, blocks, 2)
	assert.Len(t, samples, 20)
}

func TestRasterizerEmptySession(t *testing.T) {
	r := New(&eventSource{}, Config{SampleRate: 48_000_000})

	block, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, block.Index)
	assert.Zero(t, block.Samples)
	assert.Empty(t, inflate(t, block))

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestRasterizerZeroRate(t *testing.T) {
	_, err := New(&eventSource{}, Config{}).Next()
	assert.Error(t, err)
}

func TestRasterizerPropagatesSourceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := timeline.New(ctx, emptySource{}, timeline.Config{})
	_, err := New(s, Config{SampleRate: 48_000_000}).Next()
	assert.True(t, errors.Is(err, context.Canceled))
}

type emptySource struct{}

func (emptySource) Next(context.Context) (model.PacketRecord, error) {
	return model.PacketRecord{}, io.EOF
}

type packetList []model.PacketRecord

func (p *packetList) Next(context.Context) (model.PacketRecord, error) {
	if len(*p) == 0 {
		return model.PacketRecord{}, io.EOF
	}
	rec := (*p)[0]
	*p = (*p)[1:]
	return rec, nil
}

func TestRasterizedWaveformDecodes(t *testing.T) {
	tests := []struct {
		speed model.Speed
		rate  uint64
	}{
		{model.FullSpeed, 4 * model.FullSpeedBitRate},
		{model.LowSpeed, 4 * model.LowSpeedBitRate},
		{model.FullSpeed, 50_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.speed.Name(), func(t *testing.T) {
			payloads := [][]byte{{0x2D, 0x00, 0x10}, {0xC3, 0xFF, 0xFF, 0x3F, 0x80}, {0xD2}}
			var recs packetList
			for i, p := range payloads {
				recs = append(recs, model.PacketRecord{
					Timestamp: time.Duration(i) * 200 * time.Microsecond,
					Speed:     tt.speed,
					Data:      p,
				})
			}
			cfg := timeline.Config{LeadIn: tt.speed.BitTime(4), TrailingIdle: tt.speed.BitTime(8)}
			s := timeline.New(context.Background(), &recs, cfg)

			_, samples := rasterize(t, New(s, Config{SampleRate: tt.rate, MaxBlockBytes: 1000}))
			assert.Equal(t, TotalSamples(s.Extent(), tt.rate), uint64(len(samples)))

			packets, err := decode.DecodeAll(decode.NewSampleSource(bytes.NewReader(samples), tt.rate), tt.speed)
			require.NoError(t, err)
			require.Len(t, packets, len(payloads))
			for i, p := range packets {
				assert.Equal(t, payloads[i], p.Data)
			}
		})
	}
}

func TestCheckSampleRate(t *testing.T) {
	tests := []struct {
		name    string
		rate    uint64
		speeds  []model.Speed
		wantErr bool
	}{
		{"full speed at bit rate", 12_000_000, []model.Speed{model.FullSpeed}, false},
		{"full speed below bit rate", 6_000_000, []model.Speed{model.FullSpeed}, true},
		{"low speed only", 6_000_000, []model.Speed{model.LowSpeed}, false},
		{"mixed uses fastest", 6_000_000, []model.Speed{model.LowSpeed, model.FullSpeed}, true},
		{"no speeds", 1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSampleRate(tt.rate, tt.speeds...)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var tooLow *model.SampleRateTooLowError
			require.True(t, errors.As(err, &tooLow))
			assert.Equal(t, model.FullSpeedBitRate, tooLow.Required)
			assert.True(t, errors.Is(err, model.ErrSampleRateTooLow))
		})
	}
}
