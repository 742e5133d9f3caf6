// Package decode recovers USB packets from line events. It is the reference
// decoder used to verify synthesized waveforms and to list the packets in an
// existing session archive.
package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrBadSync indicates a packet that does not begin with the SYNC field.
	ErrBadSync = errors.New("bad SYNC field")

	// ErrBitStuffing indicates a one where a stuffed zero was required.
	ErrBitStuffing = errors.New("bit stuffing violation")

	// ErrPartialByte indicates a payload that is not a whole number of bytes.
	ErrPartialByte = errors.New("payload is not byte aligned")
)

// Destuff removes the zero following every run of six ones.
func Destuff(bits []uint8) ([]uint8, error) {
	out := make([]uint8, 0, len(bits))
	run := 0
	for i := 0; i < len(bits); i++ {
		out = append(out, bits[i])
		if bits[i] == 0 {
			run = 0
			continue
		}
		run++
		if run < 6 {
			continue
		}
		run = 0
		i++
		if i < len(bits) && bits[i] != 0 {
			return nil, fmt.Errorf("%w at bit %d", ErrBitStuffing, i)
		}
	}
	return out, nil
}

// Bytes packs LSB-first bits into bytes.
func Bytes(bits []uint8) ([]byte, error) {
	if len(bits)%8 != 0 {
		return nil, fmt.Errorf("%w: %d bits", ErrPartialByte, len(bits))
	}
	out := make([]byte, len(bits)/8)
	for i, b := range bits {
		out[i/8] |= (b & 1) << (i % 8)
	}
	return out, nil
}

// Unframe checks the SYNC field of a wire bit sequence, removes stuffing and
// returns the packet bytes.
func Unframe(bits []uint8) ([]byte, error) {
	if len(bits) < 8 {
		return nil, ErrBadSync
	}
	for i := 0; i < 7; i++ {
		if bits[i] != 0 {
			return nil, ErrBadSync
		}
	}
	if bits[7] != 1 {
		return nil, ErrBadSync
	}
	payload, err := Destuff(bits[8:])
	if err != nil {
		return nil, err
	}
	return Bytes(payload)
}
