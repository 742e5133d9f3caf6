// Package encoder turns USB packet bytes into the serial bit sequence sent on
// the wire: SYNC followed by the LSB-first, bit-stuffed payload.
package encoder

import (
	"fmt"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// SyncPattern is the Low/Full-Speed SYNC field, LSB first.
const SyncPattern byte = 0x80

const (
	syncBits = 8
	// maxRun is the number of consecutive ones after which a zero is
	// forced.
	maxRun = 6
)

// Options controls encoder validation.
type Options struct {
	// StrictPID rejects packets whose first byte fails the PID check.
	StrictPID bool
}

// Encode produces the wire bits for one packet. EOP is not part of the
// stream; the modulator drives it as a line condition.
func Encode(rec model.PacketRecord, opts Options) (model.BitStream, error) {
	if len(rec.Data) == 0 {
		return model.BitStream{}, model.ErrEmptyPacket
	}
	if opts.StrictPID && !CheckPID(rec.Data[0]) {
		return model.BitStream{}, fmt.Errorf("%w: 0x%02x", model.ErrUnsupportedPID, rec.Data[0])
	}

	// Worst case adds one stuffed bit per six payload bits.
	n := len(rec.Data) * 8
	capacity := syncBits + n + n/maxRun
	bs := model.BitStream{
		Bits:    make([]uint8, 0, capacity),
		Stuffed: make([]bool, 0, capacity),
	}

	for i := 0; i < syncBits; i++ {
		bs.Bits = append(bs.Bits, (SyncPattern>>i)&1)
		bs.Stuffed = append(bs.Stuffed, false)
	}

	var s stuffer
	for _, b := range rec.Data {
		for i := 0; i < 8; i++ {
			bit := (b >> i) & 1
			bs.Bits = append(bs.Bits, bit)
			bs.Stuffed = append(bs.Stuffed, false)
			if s.push(bit) {
				bs.Bits = append(bs.Bits, 0)
				bs.Stuffed = append(bs.Stuffed, true)
			}
		}
	}
	return bs, nil
}

// StuffedLength returns the encoded length in bits, SYNC included, without
// building the stream.
func StuffedLength(data []byte) int {
	n := syncBits
	var s stuffer
	for _, b := range data {
		for i := 0; i < 8; i++ {
			n++
			if s.push((b >> i) & 1) {
				n++
			}
		}
	}
	return n
}

// stuffer tracks the current run of ones.
type stuffer struct {
	run int
}

// push consumes one payload bit and reports whether a zero must be
// inserted after it.
func (s *stuffer) push(bit uint8) bool {
	if bit == 0 {
		s.run = 0
		return false
	}
	s.run++
	if s.run == maxRun {
		s.run = 0
		return true
	}
	return false
}
