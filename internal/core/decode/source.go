package decode

import (
	"io"

	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// SliceSource replays a slice of events.
type SliceSource struct {
	events []model.LineEvent
	pos    int
}

// NewSliceSource returns a source over events.
func NewSliceSource(events []model.LineEvent) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (model.LineEvent, error) {
	if s.pos >= len(s.events) {
		return model.LineEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// SampleSource turns a stream of one-byte sample units back into line
// events, one per level change, timed at the sample clock.
type SampleSource struct {
	r     io.ByteReader
	rate  uint64
	index uint64
	last  int
}

// NewSampleSource reads samples taken at rate from r.
func NewSampleSource(r io.ByteReader, rate uint64) *SampleSource {
	return &SampleSource{r: r, rate: rate, last: -1}
}

func (s *SampleSource) Next() (model.LineEvent, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return model.LineEvent{}, err
		}
		k := s.index
		s.index++
		if int(b&0x03) == s.last {
			continue
		}
		s.last = int(b & 0x03)
		t, _ := model.MulDiv(k, uint64(model.Second), s.rate)
		return model.LineEvent{
			Time: model.Instant(t),
			DP:   model.Level(b & 0x01),
			DM:   model.Level(b >> 1 & 0x01),
		}, nil
	}
}

// Samples returns how many samples have been consumed.
func (s *SampleSource) Samples() uint64 {
	return s.index
}
