package model

import (
	"math/bits"
	"time"
)

// Instant is a point on the session timeline, in picoseconds from its start.
// Picoseconds keep Full-Speed bit boundaries (83333.3 ns) within one unit of
// their exact position without floating point.
type Instant int64

const (
	Picosecond  Instant = 1
	Nanosecond          = 1000 * Picosecond
	Microsecond         = 1000 * Nanosecond
	Millisecond         = 1000 * Microsecond
	Second              = 1000 * Millisecond
)

// InstantOf converts a capture offset to an Instant.
func InstantOf(d time.Duration) Instant {
	return Instant(d) * Nanosecond
}

// Duration truncates the instant to nanosecond resolution.
func (t Instant) Duration() time.Duration {
	return time.Duration(t / Nanosecond)
}

func (t Instant) String() string {
	return t.Duration().String()
}

// MulDiv returns floor(a*b/c) and the remainder using 128-bit intermediates.
// The quotient must fit in 64 bits.
func MulDiv(a, b, c uint64) (quo, rem uint64) {
	hi, lo := bits.Mul64(a, b)
	return bits.Div64(hi, lo, c)
}

// SampleIndex returns the index of the first sample taken at or after t for
// the given sample rate, i.e. ceil(t * rate / 1s).
func SampleIndex(t Instant, rate uint64) uint64 {
	if t <= 0 {
		return 0
	}
	q, r := MulDiv(uint64(t), rate, uint64(Second))
	if r != 0 {
		q++
	}
	return q
}
