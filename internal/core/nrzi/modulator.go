// Package nrzi converts an encoded bit stream into differential line events.
package nrzi

import "github.com/penwyp/go-usbll2sr/internal/core/model"

// EOPBits is the length of the end-of-packet condition: two bit periods of
// SE0 followed by one of J.
const EOPBits = 3

// Duration returns the time a packet of n encoded bits occupies on the bus,
// EOP included.
func Duration(n int, speed model.Speed) model.Instant {
	return speed.BitTime(int64(n + EOPBits))
}

// Modulate appends the line events for bs to dst. A zero bit toggles the
// line between J and K, a one bit holds it. Events are emitted at start and
// wherever the line changes. It returns the events, the line state after the
// packet and the instant the packet ends.
func Modulate(dst []model.LineEvent, bs model.BitStream, speed model.Speed, start model.Instant, carry model.LineState) ([]model.LineEvent, model.LineState, model.Instant) {
	state := carry
	if state == model.StateSE0 {
		state = model.StateJ
	}

	n := bs.Len()
	for i, bit := range bs.Bits {
		prev := state
		if bit == 0 {
			state = state.Toggle()
		}
		if i == 0 || state != prev {
			dst = append(dst, model.NewLineEvent(start+speed.BitTime(int64(i)), speed, state))
		}
	}

	dst = append(dst,
		model.NewLineEvent(start+speed.BitTime(int64(n)), speed, model.StateSE0),
		model.NewLineEvent(start+speed.BitTime(int64(n+2)), speed, model.StateJ),
	)
	return dst, model.StateJ, start + Duration(n, speed)
}
