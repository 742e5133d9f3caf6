package encoder

import (
	"errors"
	"testing"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var syncBitsLSB = []uint8{0, 0, 0, 0, 0, 0, 0, 1}

func TestEncode(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		payload   []uint8
		stuffedAt []int
	}{
		{
			name:    "no stuffing",
			data:    []byte{0xA5},
			payload: []uint8{1, 0, 1, 0, 0, 1, 0, 1},
		},
		{
			name:      "six ones then zeros",
			data:      []byte{0x3F},
			payload:   []uint8{1, 1, 1, 1, 1, 1, 0, 0, 0},
			stuffedAt: []int{14},
		},
		{
			name:      "stuffed bit at end of packet",
			data:      []byte{0xFC},
			payload:   []uint8{0, 0, 1, 1, 1, 1, 1, 1, 0},
			stuffedAt: []int{16},
		},
		{
			name:      "run counter restarts after stuffed bit",
			data:      []byte{0xFF, 0xFF},
			payload:   []uint8{1, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1},
			stuffedAt: []int{14, 21},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs, err := Encode(model.PacketRecord{Data: tt.data, Speed: model.FullSpeed}, Options{})
			require.NoError(t, err)

			expected := append(append([]uint8{}, syncBitsLSB...), tt.payload...)
			assert.Equal(t, expected, bs.Bits)
			require.Len(t, bs.Stuffed, len(bs.Bits))

			var stuffed []int
			for i, s := range bs.Stuffed {
				if s {
					stuffed = append(stuffed, i)
				}
			}
			assert.Equal(t, tt.stuffedAt, stuffed)
			assert.Equal(t, bs.Len(), StuffedLength(tt.data))
		})
	}
}

func TestEncodeNeverStuffsSync(t *testing.T) {
	bs, err := Encode(model.PacketRecord{Data: []byte{0x3F}}, Options{})
	require.NoError(t, err)
	for i := 0; i < len(syncBitsLSB); i++ {
		assert.False(t, bs.Stuffed[i])
	}
}

func TestEncodeNoSevenOnes(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i*37) | 0xC3
	}
	bs, err := Encode(model.PacketRecord{Data: data}, Options{})
	require.NoError(t, err)

	run := 0
	for _, b := range bs.Bits[len(syncBitsLSB):] {
		if b == 1 {
			run++
		} else {
			run = 0
		}
		require.LessOrEqual(t, run, 6)
	}
}

func TestEncodeErrors(t *testing.T) {
	t.Run("empty packet", func(t *testing.T) {
		_, err := Encode(model.PacketRecord{}, Options{})
		assert.True(t, errors.Is(err, model.ErrEmptyPacket))
	})

	t.Run("invalid pid tolerated by default", func(t *testing.T) {
		_, err := Encode(model.PacketRecord{Data: []byte{0x00}}, Options{})
		assert.NoError(t, err)
	})

	t.Run("invalid pid rejected in strict mode", func(t *testing.T) {
		_, err := Encode(model.PacketRecord{Data: []byte{0x00}}, Options{StrictPID: true})
		assert.True(t, errors.Is(err, model.ErrUnsupportedPID))
		assert.Contains(t, err.Error(), "0x00")
	})

	t.Run("valid pid accepted in strict mode", func(t *testing.T) {
		_, err := Encode(model.PacketRecord{Data: []byte{0xA5, 0x00, 0x10}}, Options{StrictPID: true})
		assert.NoError(t, err)
	})
}

func TestPIDName(t *testing.T) {
	tests := []struct {
		pid      byte
		expected string
		valid    bool
	}{
		{0xA5, "SOF", true},
		{0x2D, "SETUP", true},
		{0xE1, "OUT", true},
		{0x69, "IN", true},
		{0xC3, "DATA0", true},
		{0x4B, "DATA1", true},
		{0xD2, "ACK", true},
		{0x5A, "NAK", true},
		{0x1E, "STALL", true},
		{0xF0, "RESERVED", true},
		{0x00, "INVALID(0x00)", false},
		{0xA6, "INVALID(0xa6)", false},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.valid, CheckPID(tt.pid))
			assert.Equal(t, tt.expected, PIDName(tt.pid))
		})
	}
}
