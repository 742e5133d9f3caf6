package model

// Level is the logic level of a single data line.
type Level uint8

const (
	Low Level = iota
	High
)

// LineState is a named differential bus state.
type LineState uint8

const (
	StateJ LineState = iota
	StateK
	StateSE0
)

func (s LineState) String() string {
	switch s {
	case StateJ:
		return "J"
	case StateK:
		return "K"
	case StateSE0:
		return "SE0"
	default:
		return "?"
	}
}

// Toggle swaps J and K. SE0 toggles to K, the first SYNC state after idle.
func (s LineState) Toggle() LineState {
	if s == StateK {
		return StateJ
	}
	return StateK
}

// pinLevels maps speed and state to (D+, D-). The pair polarity is swapped
// between Low-Speed and Full-Speed.
var pinLevels = [...][3][2]Level{
	LowSpeed: {
		StateJ:   {Low, High},
		StateK:   {High, Low},
		StateSE0: {Low, Low},
	},
	FullSpeed: {
		StateJ:   {High, Low},
		StateK:   {Low, High},
		StateSE0: {Low, Low},
	},
}

// Levels returns the D+ and D- levels for a state at the given speed.
func Levels(speed Speed, state LineState) (dp, dm Level) {
	if !speed.Valid() || state > StateSE0 {
		return Low, Low
	}
	l := pinLevels[speed][state]
	return l[0], l[1]
}

// StateOf is the inverse of Levels. The second result is false for the
// (1,1) condition, which USB never drives.
func StateOf(speed Speed, dp, dm Level) (LineState, bool) {
	for _, s := range []LineState{StateJ, StateK, StateSE0} {
		if p, m := Levels(speed, s); p == dp && m == dm {
			return s, true
		}
	}
	return StateSE0, false
}

// LineEvent marks the instant the bus takes the given levels. The levels
// hold until the next event.
type LineEvent struct {
	Time Instant
	DP   Level
	DM   Level
}

// NewLineEvent builds the event for a named state at the given speed.
func NewLineEvent(t Instant, speed Speed, state LineState) LineEvent {
	dp, dm := Levels(speed, state)
	return LineEvent{Time: t, DP: dp, DM: dm}
}

// Sample packs the event levels into a sample unit, D+ in bit 0 and D- in
// bit 1.
func (e LineEvent) Sample() byte {
	return byte(e.DP) | byte(e.DM)<<1
}

// SameLevels reports whether two events drive identical levels.
func (e LineEvent) SameLevels(o LineEvent) bool {
	return e.DP == o.DP && e.DM == o.DM
}
