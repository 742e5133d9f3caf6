package model

import (
	"errors"
	"fmt"
	"time"
)

// Conversion errors.
var (
	// ErrEmptyPacket indicates a packet record without any bytes.
	ErrEmptyPacket = errors.New("empty packet")

	// ErrUnsupportedSpeed indicates a speed other than Low-Speed or Full-Speed.
	ErrUnsupportedSpeed = errors.New("unsupported speed")

	// ErrUnsupportedPID indicates a PID failing the nibble complement check.
	ErrUnsupportedPID = errors.New("unsupported PID")

	// ErrSampleRateTooLow indicates a sample rate below the fastest bit rate.
	ErrSampleRateTooLow = errors.New("sample rate too low")

	// ErrIO indicates a failure reading the capture or writing the archive.
	ErrIO = errors.New("i/o failure")
)

// PacketError attaches the position of the offending record to an encoding
// error.
type PacketError struct {
	Index     int
	Timestamp time.Duration
	Err       error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("packet %d at %v: %v", e.Index, e.Timestamp, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// IOError wraps a file system failure. It matches both ErrIO and the
// underlying cause.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

// NewIOError returns nil when err is nil.
func NewIOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// SampleRateTooLowError reports a sample rate that cannot represent every
// bit of the fastest speed in the capture.
type SampleRateTooLowError struct {
	SampleRate uint64
	Required   uint64
	Speed      Speed
}

func (e *SampleRateTooLowError) Error() string {
	return fmt.Sprintf("sample rate %d Hz is below the %s bit rate of %d Hz; transitions will be lost",
		e.SampleRate, e.Speed.Name(), e.Required)
}

func (e *SampleRateTooLowError) Is(target error) bool {
	return target == ErrSampleRateTooLow
}

// TimingViolation records a packet whose reported start fell inside the
// encoded region of the previous packet. It is a warning; the packet is
// moved to Clamped.
type TimingViolation struct {
	Index    int
	Reported Instant
	Clamped  Instant
}

// Overrun is how far the packet was pushed back.
func (v TimingViolation) Overrun() Instant {
	return v.Clamped - v.Reported
}

func (v TimingViolation) String() string {
	return fmt.Sprintf("packet %d reported at %v overlaps previous packet, clamped to %v (+%v)",
		v.Index, v.Reported, v.Clamped, v.Overrun())
}
