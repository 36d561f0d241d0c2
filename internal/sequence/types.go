// Package sequence validates and runs timed sequences of output states.
//
// A Sequence is an ordered list of States; each State assigns a level to a
// subset of the configured outputs. Before a run touches any output the
// whole sequence is checked against the cooldown policy: an output may not
// change to a different level until it has held its previous level for at
// least the cooldown duration.
package sequence

import (
	"sort"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/output"
)

// Forever is the Repeat value for a run that only ends when cancelled.
const Forever = -1

// State assigns levels to outputs. Outputs absent from a State are left
// untouched when it is applied.
type State map[string]output.Level

// Names returns the outputs named by the state, sorted.
func (s State) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Levels returns the state as plain 0/1 values, for events and JSON.
func (s State) Levels() map[string]uint8 {
	out := make(map[string]uint8, len(s))
	for name, level := range s {
		out[name] = uint8(level)
	}
	return out
}

// AllOff returns a state driving every given output Low.
func AllOff(outputs []string) State {
	s := make(State, len(outputs))
	for _, name := range outputs {
		s[name] = output.Low
	}
	return s
}

// Sequence is an ordered list of states, one per step.
type Sequence []State

// Request describes one run.
type Request struct {
	// Name identifies the run in logs and events.
	Name string

	Sequence Sequence

	// Period is the wait after every applied step.
	Period time.Duration

	// Repeat is the number of extra passes after the first, or Forever.
	Repeat int

	// Terminal is applied once when the run ends. Nil means all outputs Low.
	Terminal State
}
