package sequence

import (
	"time"

	"github.com/sweeney/gpio-sequencer/internal/output"
)

type hold struct {
	remaining time.Duration
	level     output.Level
}

// Validate walks the sequence one period per step and reports every output
// that is asked to change level while still inside its cooldown window.
// It returns nil when the sequence is clean. Inputs are not modified.
//
// Re-asserting the level an output already holds is never a violation, but
// it restarts the window. A violating change is reported once; the new level
// becomes the held level and the remaining cooldown carries on counting down.
func Validate(seq Sequence, period, cooldown time.Duration) []Violation {
	tracked := make(map[string]hold)
	var violations []Violation

	for i, state := range seq {
		for name, h := range tracked {
			h.remaining -= period
			if h.remaining <= 0 {
				delete(tracked, name)
				continue
			}
			tracked[name] = h
		}

		for _, name := range state.Names() {
			level := state[name]
			h, ok := tracked[name]
			if ok && h.level != level {
				violations = append(violations, Violation{
					Output:    name,
					Step:      i,
					Remaining: h.remaining,
				})
				h.level = level
				tracked[name] = h
				continue
			}
			tracked[name] = hold{remaining: cooldown, level: level}
		}
	}

	return violations
}
