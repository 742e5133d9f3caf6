package timeline

import (
	"time"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
	"github.com/penwyp/go-usbll2sr/internal/core/nrzi"
)

// placement assigns each packet its slot on the timeline. It is the only
// state carried from one packet to the next besides the line state.
type placement struct {
	leadIn  model.Instant
	prevEnd model.Instant
	speed   model.Speed
	count   int
}

type slot struct {
	index        int
	first        bool
	speedChanged bool
	prevEnd      model.Instant
	start        model.Instant
	end          model.Instant
	violation    *model.TimingViolation
}

// next places a packet of the given encoded length. A packet reported
// before the previous one has finished is moved to the end of it.
func (p *placement) next(ts time.Duration, speed model.Speed, bits int) slot {
	reported := p.leadIn + model.InstantOf(ts)
	s := slot{
		index:        p.count,
		first:        p.count == 0,
		speedChanged: p.count > 0 && speed != p.speed,
		prevEnd:      p.prevEnd,
		start:        reported,
	}
	if reported < p.prevEnd {
		s.start = p.prevEnd
		s.violation = &model.TimingViolation{
			Index:    p.count,
			Reported: reported,
			Clamped:  p.prevEnd,
		}
	}
	s.end = s.start + nrzi.Duration(bits, speed)

	p.prevEnd = s.end
	p.speed = speed
	p.count++
	return s
}
