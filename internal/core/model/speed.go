package model

import (
	"fmt"
	"strings"
)

// Speed is the USB signaling class of a packet.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	LowSpeed
	FullSpeed
)

// Bit rates in bits per second.
const (
	LowSpeedBitRate  uint64 = 1_500_000
	FullSpeedBitRate uint64 = 12_000_000
)

// ParseSpeed parses the short and long speed names accepted on the command
// line.
func ParseSpeed(s string) (Speed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ls", "low", "low-speed", "lowspeed":
		return LowSpeed, nil
	case "fs", "full", "full-speed", "fullspeed":
		return FullSpeed, nil
	default:
		return SpeedUnknown, fmt.Errorf("%w: %q", ErrUnsupportedSpeed, s)
	}
}

// Valid reports whether the speed can be encoded.
func (s Speed) Valid() bool {
	return s == LowSpeed || s == FullSpeed
}

// BitRate returns the signaling rate, or 0 for an unknown speed.
func (s Speed) BitRate() uint64 {
	switch s {
	case LowSpeed:
		return LowSpeedBitRate
	case FullSpeed:
		return FullSpeedBitRate
	default:
		return 0
	}
}

// BitTime returns the offset of bit boundary n from the start of a packet.
// Each boundary is computed from n directly so rounding never accumulates.
func (s Speed) BitTime(n int64) Instant {
	rate := s.BitRate()
	if rate == 0 || n <= 0 {
		return 0
	}
	q, _ := MulDiv(uint64(n), uint64(Second), rate)
	return Instant(q)
}

// BitPeriod is the (truncated) duration of one bit.
func (s Speed) BitPeriod() Instant {
	return s.BitTime(1)
}

func (s Speed) String() string {
	switch s {
	case LowSpeed:
		return "ls"
	case FullSpeed:
		return "fs"
	default:
		return "unknown"
	}
}

// Name returns the human readable speed class.
func (s Speed) Name() string {
	switch s {
	case LowSpeed:
		return "Low-Speed"
	case FullSpeed:
		return "Full-Speed"
	default:
		return "Unknown"
	}
}
