package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeRunStarted uint32 = iota + 1
	TypeStepApplied
	TypeRunFinished
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Result is the outcome of a sequencer run.
type Result string

const (
	ResultCompleted Result = "COMPLETED"
	ResultCancelled Result = "CANCELLED"
	ResultRejected  Result = "REJECTED"
	ResultFailed    Result = "FAILED"
)

// RunStarted is published once a run passed validation and is about to
// apply its first step.
type RunStarted struct {
	Name   string
	Steps  int
	Period time.Duration
	Repeat int // -1 = forever
	At     time.Time
}

// Type returns the event type identifier for RunStarted.
func (e RunStarted) Type() uint32 { return TypeRunStarted }

// StepApplied is published after every successfully applied state,
// including the terminal state.
type StepApplied struct {
	Name      string
	Iteration int
	Step      int
	Terminal  bool
	Levels    map[string]uint8
	At        time.Time
}

// Type returns the event type identifier for StepApplied.
func (e StepApplied) Type() uint32 { return TypeStepApplied }

// RunFinished is published exactly once per Run call that got past the
// busy check.
type RunFinished struct {
	Name       string
	Result     Result
	Error      string
	Violations []string
	Iterations int
	Started    time.Time
	At         time.Time
}

// Type returns the event type identifier for RunFinished.
func (e RunFinished) Type() uint32 { return TypeRunFinished }

// Duration returns how long the run took.
func (e RunFinished) Duration() time.Duration {
	if e.Started.IsZero() {
		return 0
	}
	return e.At.Sub(e.Started)
}
