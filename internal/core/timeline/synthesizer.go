// Package timeline lays USB packets out on a continuous bus timeline and
// produces the D+/D- line events for the whole capture.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/nrzi"
	"github.com/penwyp/go-usbll2sr/internal/util"
)

// Synthesizer is a forward-only source of line events. Each call to Next
// that runs out of buffered events reads exactly one packet record, so memory
// stays bounded by a single packet.
type Synthesizer struct {
	ctx context.Context
	src model.PacketSource
	cfg Config

	queue []model.LineEvent
	pos   int

	place placement
	state model.LineState
	last  model.Instant
	done  bool
	stats Stats
}

// New returns a synthesizer reading from src. Cancellation of ctx is
// observed before each packet record.
func New(ctx context.Context, src model.PacketSource, cfg Config) *Synthesizer {
	if !cfg.DefaultSpeed.Valid() {
		cfg.DefaultSpeed = model.FullSpeed
	}
	return &Synthesizer{
		ctx:   ctx,
		src:   src,
		cfg:   cfg,
		place: placement{leadIn: cfg.LeadIn},
		state: model.StateJ,
		last:  -1,
		stats: newStats(),
	}
}

// Next returns the next line event, or io.EOF after the last one.
func (s *Synthesizer) Next() (model.LineEvent, error) {
	for s.pos >= len(s.queue) {
		if s.done {
			return model.LineEvent{}, io.EOF
		}
		if err := s.fill(); err != nil {
			return model.LineEvent{}, err
		}
	}
	ev := s.queue[s.pos]
	s.pos++
	s.last = ev.Time
	return ev, nil
}

// Extent returns the length of the timeline. It is final once Next has
// returned io.EOF.
func (s *Synthesizer) Extent() model.Instant {
	return extent(s.place.prevEnd, s.cfg)
}

// Stats returns the packet statistics collected so far.
func (s *Synthesizer) Stats() Stats {
	return s.stats
}

func (s *Synthesizer) fill() error {
	s.queue = s.queue[:0]
	s.pos = 0

	if err := s.ctx.Err(); err != nil {
		return err
	}

	rec, err := s.src.Next(s.ctx)
	if errors.Is(err, io.EOF) {
		s.done = true
		if s.place.count == 0 {
			s.queue = append(s.queue, model.NewLineEvent(0, s.cfg.DefaultSpeed, model.StateJ))
		}
		return nil
	}
	if err != nil {
		return err
	}

	index := s.place.count
	if !rec.Speed.Valid() {
		return &model.PacketError{Index: index, Timestamp: rec.Timestamp,
			Err: fmt.Errorf("%w: %v", model.ErrUnsupportedSpeed, rec.Speed)}
	}
	bs, err := encoder.Encode(rec, s.cfg.Encoder)
	if err != nil {
		return &model.PacketError{Index: index, Timestamp: rec.Timestamp, Err: err}
	}

	sl := s.place.next(rec.Timestamp, rec.Speed, bs.Len())
	if sl.violation != nil {
		s.stats.addViolation(*sl.violation)
		util.LogWarn(sl.violation.String())
		if s.cfg.OnViolation != nil {
			s.cfg.OnViolation(*sl.violation)
		}
	}

	switch {
	case sl.first && sl.start > 0:
		s.queue = append(s.queue, model.NewLineEvent(0, rec.Speed, model.StateJ))
	case !sl.first && sl.start > sl.prevEnd:
		// Idle gap, in the polarity of the packet that follows it.
		s.queue = append(s.queue, model.NewLineEvent(sl.prevEnd, rec.Speed, model.StateJ))
	case sl.speedChanged:
		util.LogDebugf("Speed change to %s at %v without idle gap", rec.Speed.Name(), sl.start)
	}
	var end model.Instant
	s.queue, s.state, end = nrzi.Modulate(s.queue, bs, rec.Speed, sl.start, s.state)
	if end != sl.end {
		return &model.PacketError{Index: index, Timestamp: rec.Timestamp,
			Err: fmt.Errorf("modulated packet ends at %v, placed to end at %v", end, sl.end)}
	}

	s.stats.Packets++
	s.stats.BySpeed[rec.Speed]++
	s.stats.ByPID[encoder.PIDName(rec.Data[0])]++
	s.stats.EncodedBits += int64(bs.Len())
	s.stats.StuffedBits += int64(bs.StuffedCount())

	if len(s.queue) > 0 && s.queue[0].Time <= s.last {
		return fmt.Errorf("line event at %v does not follow %v", s.queue[0].Time, s.last)
	}
	return nil
}
