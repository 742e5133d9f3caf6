package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// maxPacketBits bounds a single packet so a stuck line is reported instead
// of consuming the whole capture.
const maxPacketBits = 8 * 2048

// EventSource is a forward-only stream of line events.
type EventSource interface {
	Next() (model.LineEvent, error)
}

// Packet is one decoded packet.
type Packet struct {
	Start model.Instant
	End   model.Instant
	Speed model.Speed
	Data  []byte
	// Bits is the number of wire bits between SYNC start and EOP.
	Bits int
}

// Decoder reads packets of one speed from a line event stream by sampling
// each bit at its center.
type Decoder struct {
	src   EventSource
	speed model.Speed

	cur     model.LineEvent
	next    model.LineEvent
	hasNext bool
	started bool
	eof     bool
}

// NewDecoder returns a decoder for packets signaled at speed.
func NewDecoder(src EventSource, speed model.Speed) *Decoder {
	return &Decoder{src: src, speed: speed}
}

// Next returns the next packet, or io.EOF when no further SYNC is found.
func (d *Decoder) Next() (Packet, error) {
	if !d.started {
		if err := d.prime(); err != nil {
			return Packet{}, err
		}
	}

	// Idle is J; a packet starts at the first K.
	for d.state() != model.StateK {
		ok, err := d.advance()
		if err != nil {
			return Packet{}, err
		}
		if !ok {
			return Packet{}, io.EOF
		}
	}

	start := d.cur.Time
	prev := model.StateJ
	var bits []uint8
	for i := 0; ; i++ {
		if i >= maxPacketBits {
			return Packet{}, fmt.Errorf("packet at %v has no EOP within %d bits", start, maxPacketBits)
		}
		center := start + (d.speed.BitTime(int64(i))+d.speed.BitTime(int64(i+1)))/2
		st, err := d.stateAt(center)
		if err != nil {
			return Packet{}, err
		}
		if st == model.StateSE0 {
			end := start + d.speed.BitTime(int64(i+3))
			if _, err := d.stateAt(end); err != nil {
				return Packet{}, err
			}
			data, err := Unframe(bits)
			if err != nil {
				return Packet{}, fmt.Errorf("packet at %v: %w", start, err)
			}
			return Packet{Start: start, End: end, Speed: d.speed, Data: data, Bits: len(bits)}, nil
		}
		if st == prev {
			bits = append(bits, 1)
		} else {
			bits = append(bits, 0)
		}
		prev = st
	}
}

// DecodeAll drains the decoder.
func DecodeAll(src EventSource, speed model.Speed) ([]Packet, error) {
	d := NewDecoder(src, speed)
	var packets []Packet
	for {
		p, err := d.Next()
		if errors.Is(err, io.EOF) {
			return packets, nil
		}
		if err != nil {
			return packets, err
		}
		packets = append(packets, p)
	}
}

func (d *Decoder) prime() error {
	d.started = true
	ev, err := d.src.Next()
	if errors.Is(err, io.EOF) {
		d.eof = true
		d.cur = model.NewLineEvent(0, d.speed, model.StateJ)
		return nil
	}
	if err != nil {
		return err
	}
	d.cur = ev
	return d.pull()
}

func (d *Decoder) pull() error {
	if d.eof {
		d.hasNext = false
		return nil
	}
	ev, err := d.src.Next()
	if errors.Is(err, io.EOF) {
		d.eof = true
		d.hasNext = false
		return nil
	}
	if err != nil {
		return err
	}
	d.next, d.hasNext = ev, true
	return nil
}

// advance moves to the next event and reports whether there was one.
func (d *Decoder) advance() (bool, error) {
	if !d.hasNext {
		return false, nil
	}
	d.cur = d.next
	return true, d.pull()
}

func (d *Decoder) stateAt(t model.Instant) (model.LineState, error) {
	for d.hasNext && d.next.Time <= t {
		if _, err := d.advance(); err != nil {
			return model.StateSE0, err
		}
	}
	return d.state(), nil
}

func (d *Decoder) state() model.LineState {
	st, _ := model.StateOf(d.speed, d.cur.DP, d.cur.DM)
	return st
}
