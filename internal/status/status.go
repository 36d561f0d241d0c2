// Package status provides a thread-safe view of the sequencer daemon for
// the HTTP handlers and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/events"
)

// Config contains daemon configuration for display.
type Config struct {
	Chip       string
	CooldownMs int64
	Broker     string
	HTTPAddr   string
	DryRun     bool
}

// Output is the last known level of one output.
type Output struct {
	Name  string
	Label string
	Level uint8
	Known bool // false until the first write
}

// Run summarises the most recent finished run.
type Run struct {
	Sequence   string
	Result     events.Result
	Error      string
	Violations []string
	Passes     int
	Duration   time.Duration
	Finished   time.Time
}

// Counts are finished runs by result.
type Counts struct {
	Completed int
	Cancelled int
	Rejected  int
	Failed    int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Running       bool
	Sequence      string
	Pass          int
	Step          int
	Outputs       []Output
	Sequences     []string
	LastRun       *Run
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	index   map[string]int
	startAt time.Time // At of the last run marked active
	endedAt time.Time // Started of the last finished run
}

// NewTracker creates a Tracker for the given outputs, in display order.
// labels may be nil.
func NewTracker(startTime time.Time, cfg Config, outputs []string, labels map[string]string) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Outputs:   make([]Output, len(outputs)),
		},
		index: make(map[string]int, len(outputs)),
	}
	for i, name := range outputs {
		label := labels[name]
		if label == "" {
			label = name
		}
		t.snap.Outputs[i] = Output{Name: name, Label: label}
		t.index[name] = i
	}
	return t
}

// Subscribe keeps the tracker current from bus events. The returned
// function unsubscribes.
func (t *Tracker) Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.OnRunStarted(t.RunStarted),
		bus.OnStepApplied(t.StepApplied),
		bus.OnRunFinished(t.RunFinished),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// RunStarted marks a run as active.
func (t *Tracker) RunStarted(e events.RunStarted) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Event types are delivered independently, so the finish of this very
	// run may already have been seen.
	if !t.endedAt.IsZero() && !e.At.After(t.endedAt) {
		return
	}
	t.startAt = e.At
	t.snap.Running = true
	t.snap.Sequence = e.Name
	t.snap.Pass = 0
	t.snap.Step = 0
}

// StepApplied records the levels written by a step.
func (t *Tracker) StepApplied(e events.StepApplied) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, level := range e.Levels {
		if i, ok := t.index[name]; ok {
			t.snap.Outputs[i].Level = level
			t.snap.Outputs[i].Known = true
		}
	}
	if t.snap.Running && t.snap.Sequence == e.Name && !e.Terminal {
		t.snap.Pass = e.Iteration
		t.snap.Step = e.Step
	}
}

// RunFinished records the outcome of a run.
func (t *Tracker) RunFinished(e events.RunFinished) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Result {
	case events.ResultCompleted:
		t.snap.Counts.Completed++
	case events.ResultCancelled:
		t.snap.Counts.Cancelled++
	case events.ResultRejected:
		t.snap.Counts.Rejected++
	case events.ResultFailed:
		t.snap.Counts.Failed++
	}

	t.snap.LastRun = &Run{
		Sequence:   e.Name,
		Result:     e.Result,
		Error:      e.Error,
		Violations: append([]string(nil), e.Violations...),
		Passes:     e.Iterations,
		Duration:   e.Duration(),
		Finished:   e.At,
	}

	// A rejection never started, so it leaves any active run alone.
	if e.Result == events.ResultRejected {
		return
	}
	if e.Started.After(t.endedAt) {
		t.endedAt = e.Started
	}
	// a later run is already active
	if e.Started.Before(t.startAt) {
		return
	}
	t.snap.Running = false
	t.snap.Sequence = ""
	t.snap.Pass = 0
	t.snap.Step = 0
}

// SetSequences sets the runnable sequence names.
func (t *Tracker) SetSequences(names []string) {
	t.mu.Lock()
	t.snap.Sequences = append([]string(nil), names...)
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Outputs = append([]Output(nil), t.snap.Outputs...)
	s.Sequences = append([]string(nil), t.snap.Sequences...)
	if t.snap.LastRun != nil {
		run := *t.snap.LastRun
		s.LastRun = &run
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
