package timeline

import (
	"sort"

	"github.com/penwyp/go-usbll2sr/internal/core/encoder"
	"github.com/penwyp/go-usbll2sr/internal/core/model"
)

// maxViolationDetails bounds how many timing violations are kept verbatim.
// All of them are counted.
const maxViolationDetails = 64

// Config controls how packets are laid out on the session timeline.
type Config struct {
	// DefaultSpeed sets the idle polarity of a capture without packets.
	DefaultSpeed model.Speed
	// LeadIn is idle bus time inserted before the first packet.
	LeadIn model.Instant
	// TrailingIdle is idle bus time appended after the last packet.
	TrailingIdle model.Instant
	// MinDuration is the shortest timeline produced, packets or not.
	MinDuration model.Instant
	Encoder     encoder.Options
	// OnViolation, if set, is called for every clamped packet.
	OnViolation func(model.TimingViolation)
}

// Stats summarizes the packets laid out so far.
type Stats struct {
	Packets        int
	BySpeed        map[model.Speed]int
	ByPID          map[string]int
	EncodedBits    int64
	StuffedBits    int64
	ViolationCount int
	Violations     []model.TimingViolation
}

func newStats() Stats {
	return Stats{
		BySpeed: make(map[model.Speed]int),
		ByPID:   make(map[string]int),
	}
}

func (s *Stats) addViolation(v model.TimingViolation) {
	s.ViolationCount++
	if len(s.Violations) < maxViolationDetails {
		s.Violations = append(s.Violations, v)
	}
}

// Speeds returns the speeds present, slowest first.
func (s Stats) Speeds() []model.Speed {
	speeds := make([]model.Speed, 0, len(s.BySpeed))
	for sp, n := range s.BySpeed {
		if n > 0 {
			speeds = append(speeds, sp)
		}
	}
	sort.Slice(speeds, func(i, j int) bool { return speeds[i].BitRate() < speeds[j].BitRate() })
	return speeds
}

// Layout is the result of a planning pass.
type Layout struct {
	Stats
	// Extent is the total timeline length.
	Extent model.Instant
	// FirstSpeed is the polarity of the initial idle state.
	FirstSpeed model.Speed
}

// Fastest returns the fastest speed present, or SpeedUnknown.
func (l Layout) Fastest() model.Speed {
	speeds := l.Speeds()
	if len(speeds) == 0 {
		return model.SpeedUnknown
	}
	return speeds[len(speeds)-1]
}

func extent(lastEnd model.Instant, cfg Config) model.Instant {
	end := lastEnd + cfg.TrailingIdle
	if end < cfg.MinDuration {
		end = cfg.MinDuration
	}
	return end
}
