package model

import "time"

// Channel layout of every sample unit.
const (
	ChannelCount = 2
	UnitSize     = 1
)

// ChannelNames lists the logic channels in sample bit order.
var ChannelNames = []string{"D+", "D-"}

// SampleBlock is a contiguous run of raster samples compressed with raw
// DEFLATE. Blocks decompress independently and concatenate in Index order.
type SampleBlock struct {
	Index      int
	SampleRate uint64
	Channels   int
	UnitSize   int
	// Samples is the number of sample units in the block.
	Samples uint64
	// RawSize and CRC32 describe the uncompressed payload.
	RawSize uint64
	CRC32   uint32
	Payload []byte
}

// SessionMetadata describes the session archive.
type SessionMetadata struct {
	Channels     []string
	SampleRate   uint64
	TotalSamples uint64
	CaptureStart time.Time
}

// NewSessionMetadata returns metadata for the fixed D+/D- channel layout.
func NewSessionMetadata(sampleRate, totalSamples uint64, start time.Time) SessionMetadata {
	channels := make([]string, len(ChannelNames))
	copy(channels, ChannelNames)
	return SessionMetadata{
		Channels:     channels,
		SampleRate:   sampleRate,
		TotalSamples: totalSamples,
		CaptureStart: start,
	}
}
