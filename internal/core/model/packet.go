package model

import (
	"context"
	"time"
)

// PacketRecord is one USBLL packet as delivered by a capture reader.
type PacketRecord struct {
	// Timestamp is the offset from the first packet of the capture.
	Timestamp time.Duration
	Speed     Speed
	Data      []byte
	// PIDValid reports whether the first byte passed the nibble
	// complement check when the record was read.
	PIDValid bool
}

// PID returns the packet identifier byte.
func (p PacketRecord) PID() (byte, bool) {
	if len(p.Data) == 0 {
		return 0, false
	}
	return p.Data[0], true
}

// PacketSource yields packet records in capture order and returns io.EOF
// once exhausted.
type PacketSource interface {
	Next(ctx context.Context) (PacketRecord, error)
}

// BitStream is an encoded packet: SYNC, then stuffed payload bits. Stuffed
// marks the bits inserted by the stuffing rule.
type BitStream struct {
	Bits    []uint8
	Stuffed []bool
}

// Len returns the number of bits on the wire, SYNC included.
func (b BitStream) Len() int {
	return len(b.Bits)
}

// StuffedCount returns how many bits were inserted by stuffing.
func (b BitStream) StuffedCount() int {
	n := 0
	for _, s := range b.Stuffed {
		if s {
			n++
		}
	}
	return n
}
