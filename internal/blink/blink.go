// Package blink drives the status LED. The engine ticks it on a fixed
// period; the lit phases identify the active network at a glance.
package blink

// PhaseCount is the length of one blink cycle in ticks.
const PhaseCount = 10

type Pattern uint8

const (
	// PatternApple lights one tick per cycle.
	PatternApple Pattern = iota
	// PatternGoogle lights two ticks per cycle, one apart.
	PatternGoogle
	// PatternFault alternates every tick.
	PatternFault
)

func (p Pattern) String() string {
	switch p {
	case PatternApple:
		return "apple"
	case PatternGoogle:
		return "google"
	case PatternFault:
		return "fault"
	default:
		return "unknown"
	}
}

// PhaseOn reports whether the LED is lit at the given tick of the cycle.
// phase values outside [0, PhaseCount) are reduced modulo PhaseCount.
func PhaseOn(p Pattern, phase int) bool {
	phase = ((phase % PhaseCount) + PhaseCount) % PhaseCount
	switch p {
	case PatternApple:
		return phase == 0
	case PatternGoogle:
		return phase == 0 || phase == 2
	case PatternFault:
		return phase%2 == 0
	default:
		return false
	}
}
