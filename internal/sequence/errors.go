package sequence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/output"
)

var (
	// ErrBusy is returned when a run is requested while another is active.
	ErrBusy = errors.New("sequencer busy")

	// ErrInvalidRequest is wrapped by structural request errors.
	ErrInvalidRequest = errors.New("invalid run request")
)

// Violation is one cooldown breach found by Validate.
type Violation struct {
	Output    string
	Step      int
	Remaining time.Duration
}

func (v Violation) String() string {
	return fmt.Sprintf("output %s at step %d still needs %v of cooldown", v.Output, v.Step, v.Remaining)
}

// ValidationError rejects a sequence that breaches the cooldown policy.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return "cooldown violated: " + strings.Join(e.Strings(), "; ")
}

// Strings returns one description per violation, in order.
func (e *ValidationError) Strings() []string {
	out := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.String()
	}
	return out
}

// ConfigError reports a state naming an output with no pin mapping.
type ConfigError struct {
	Output   string
	Step     int
	Terminal bool
}

func (e *ConfigError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("terminal state: unknown output %q", e.Output)
	}
	return fmt.Sprintf("step %d: unknown output %q", e.Step, e.Output)
}

func (e *ConfigError) Unwrap() error { return output.ErrUnknownOutput }

// DriverError is a failed write of a single output.
type DriverError struct {
	Output string
	Level  output.Level
	Err    error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("write %s=%v: %v", e.Output, e.Level, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// StepError locates a DriverError within a run.
type StepError struct {
	Pass     int
	Step     int
	Terminal bool
	Err      error
}

func (e *StepError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("terminal state: %v", e.Err)
	}
	return fmt.Sprintf("pass %d step %d: %v", e.Pass, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
