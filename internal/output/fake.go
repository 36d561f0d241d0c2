package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FakeDriver is a test double that records writes instead of touching
// hardware. It also backs the --dry-run mode of the CLI.
type FakeDriver struct {
	pins []Pin

	// Errors, if set for an output, is returned by writes to that output.
	Errors map[string]error

	// Delay is slept before every write completes.
	Delay time.Duration

	// Logger, if set, receives one record per write.
	Logger *slog.Logger

	mu     sync.Mutex
	writes []Write
	levels map[string]Level
	closed bool
}

// Write is a single recorded write.
type Write struct {
	Name  string
	Level Level
}

// NewFakeDriver creates a FakeDriver with the given pins, all Low.
func NewFakeDriver(pins []Pin) *FakeDriver {
	levels := make(map[string]Level, len(pins))
	for _, p := range pins {
		levels[p.Name] = Low
	}
	return &FakeDriver{
		pins:   pins,
		Errors: make(map[string]error),
		levels: levels,
	}
}

// Write records the write and updates the held level.
func (f *FakeDriver) Write(ctx context.Context, name string, level Level) error {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if _, ok := f.levels[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownOutput, name)
	}
	f.writes = append(f.writes, Write{Name: name, Level: level})
	if err := f.Errors[name]; err != nil {
		return err
	}
	f.levels[name] = level
	if f.Logger != nil {
		f.Logger.Info("dry-run write", "output", name, "level", level.String())
	}
	return nil
}

// Outputs returns the configured output names in pin order.
func (f *FakeDriver) Outputs() []string {
	return names(f.pins)
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Writes returns a copy of every write attempted so far, including failed ones.
func (f *FakeDriver) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Level returns the last successfully written level of an output.
func (f *FakeDriver) Level(name string) Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[name]
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded writes and sets every output Low.
func (f *FakeDriver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
	for name := range f.levels {
		f.levels[name] = Low
	}
	f.closed = false
}
