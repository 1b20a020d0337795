package fsm

import "fmt"

// OscillationDetector is a bounded-history monitor over recorded states.
// With max oscillations k, it watches the last 2k entries and flags a
// strict two-state alternation (A B A B ...) as a GovernanceError. The
// detector only observes; it never prevents a transition.
type OscillationDetector struct {
	max     int
	history []State
}

// NewOscillationDetector creates a detector tolerating up to max
// back-and-forth cycles.
func NewOscillationDetector(max int) *OscillationDetector {
	if max < 1 {
		max = 1
	}
	return &OscillationDetector{max: max}
}

// Record appends a state observation and checks the window.
func (d *OscillationDetector) Record(s State) error {
	d.history = append(d.history, s)
	window := 2 * d.max
	if len(d.history) > window {
		d.history = d.history[len(d.history)-window:]
	}
	return d.check()
}

// History returns a copy of the retained window.
func (d *OscillationDetector) History() []State {
	return append([]State(nil), d.history...)
}

// Reset clears the window, typically after an operator acknowledges the
// violation.
func (d *OscillationDetector) Reset() { d.history = nil }

func (d *OscillationDetector) check() error {
	window := 2 * d.max
	if len(d.history) < window {
		return nil
	}

	recent := d.history[len(d.history)-window:]
	distinct := make(map[State]struct{}, 2)
	evens := make(map[State]struct{}, 1)
	odds := make(map[State]struct{}, 1)
	for i, s := range recent {
		distinct[s] = struct{}{}
		if i%2 == 0 {
			evens[s] = struct{}{}
		} else {
			odds[s] = struct{}{}
		}
	}

	if len(distinct) == 2 && len(evens) == 1 && len(odds) == 1 {
		var a, b State
		for s := range evens {
			a = s
		}
		for s := range odds {
			b = s
		}
		return &GovernanceError{
			Pattern: fmt.Sprintf("state oscillation %s <-> %s repeated %d times", a, b, d.max),
		}
	}
	return nil
}
