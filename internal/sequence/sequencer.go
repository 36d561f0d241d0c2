package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/events"
	"github.com/sweeney/gpio-sequencer/internal/logging"
)

// Notifier receives run lifecycle events. *events.Bus satisfies it.
type Notifier interface {
	Publish(ev events.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(events.Event) {}

// Sequencer runs sequences against a fixed set of outputs, one run at a time.
type Sequencer struct {
	applier  *Applier
	outputs  []string
	known    map[string]bool
	cooldown time.Duration
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
	running  atomic.Bool
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

// WithNotifier sets where lifecycle events go.
func WithNotifier(n Notifier) Option {
	return func(s *Sequencer) { s.notifier = n }
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// New creates a Sequencer writing through w. outputs is the full set of
// output names the writer knows; cooldown is the minimum hold time.
func New(w Writer, outputs []string, cooldown time.Duration, opts ...Option) *Sequencer {
	known := make(map[string]bool, len(outputs))
	for _, name := range outputs {
		known[name] = true
	}
	s := &Sequencer{
		outputs:  append([]string(nil), outputs...),
		known:    known,
		cooldown: cooldown,
		logger:   logging.Discard(),
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.applier = NewApplier(w, s.logger)
	return s
}

// Outputs returns the configured output names.
func (s *Sequencer) Outputs() []string {
	return append([]string(nil), s.outputs...)
}

// Cooldown returns the configured cooldown.
func (s *Sequencer) Cooldown() time.Duration {
	return s.cooldown
}

// Running reports whether a run or reset is in progress.
func (s *Sequencer) Running() bool {
	return s.running.Load()
}

// Check runs every pre-flight check of Run without touching any output:
// request shape, output names, then cooldown.
func (s *Sequencer) Check(req Request) error {
	if req.Period < 0 {
		return fmt.Errorf("%w: negative period %v", ErrInvalidRequest, req.Period)
	}
	if req.Repeat < Forever {
		return fmt.Errorf("%w: repeat %d", ErrInvalidRequest, req.Repeat)
	}
	for i, state := range req.Sequence {
		for _, name := range state.Names() {
			if !s.known[name] {
				return &ConfigError{Output: name, Step: i}
			}
		}
	}
	for _, name := range req.Terminal.Names() {
		if !s.known[name] {
			return &ConfigError{Output: name, Terminal: true}
		}
	}
	if v := Validate(req.Sequence, req.Period, s.cooldown); len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

// Run validates the request and drives it to completion.
//
// A rejected request returns before any write. Each step is applied in
// full and followed by a wait of exactly req.Period. When the passes are
// used up, or ctx is cancelled at a wait or between passes, the terminal
// state is applied once and its result is returned; cancellation itself is
// not an error. A failed step aborts the run without applying the terminal
// state.
func (s *Sequencer) Run(ctx context.Context, req Request) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	log := s.logger.With("sequence", req.Name)

	if err := s.Check(req); err != nil {
		log.Error("run rejected", "error", err)
		finished := events.RunFinished{
			Name:   req.Name,
			Result: events.ResultRejected,
			Error:  err.Error(),
			At:     s.now(),
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			finished.Violations = verr.Strings()
		}
		s.notifier.Publish(finished)
		return err
	}

	started := s.now()
	s.notifier.Publish(events.RunStarted{
		Name:   req.Name,
		Steps:  len(req.Sequence),
		Period: req.Period,
		Repeat: req.Repeat,
		At:     started,
	})
	log.Info("run started", "steps", len(req.Sequence), "period", req.Period, "repeat", req.Repeat)

	passes, err := s.step(ctx, req, log)
	if err != nil {
		return s.fail(req, passes, started, err, log)
	}

	terminal := req.Terminal
	if terminal == nil {
		terminal = AllOff(s.outputs)
	}
	if err := s.applier.Apply(context.WithoutCancel(ctx), terminal); err != nil {
		return s.fail(req, passes, started, &StepError{Pass: passes, Terminal: true, Err: err}, log)
	}
	s.notifier.Publish(events.StepApplied{
		Name:      req.Name,
		Iteration: passes,
		Terminal:  true,
		Levels:    terminal.Levels(),
		At:        s.now(),
	})

	result := events.ResultCompleted
	if ctx.Err() != nil {
		result = events.ResultCancelled
	}
	log.Info("run finished", "result", result, "passes", passes)
	s.notifier.Publish(events.RunFinished{
		Name:       req.Name,
		Result:     result,
		Iterations: passes,
		Started:    started,
		At:         s.now(),
	})
	return nil
}

// step applies the sequence pass after pass and returns the number of
// passes started. It returns early, without error, on cancellation.
func (s *Sequencer) step(ctx context.Context, req Request, log *slog.Logger) (int, error) {
	if len(req.Sequence) == 0 {
		return 0, nil
	}

	// Steps are never interrupted: cancellation is only honoured at waits
	// and between passes.
	stepCtx := context.WithoutCancel(ctx)
	remaining := req.Repeat
	passes := 0

	for {
		passes++
		for k, state := range req.Sequence {
			if err := s.applier.Apply(stepCtx, state); err != nil {
				return passes, &StepError{Pass: passes, Step: k, Err: err}
			}
			log.Debug("step applied", "pass", passes, "step", k)
			s.notifier.Publish(events.StepApplied{
				Name:      req.Name,
				Iteration: passes,
				Step:      k,
				Levels:    state.Levels(),
				At:        s.now(),
			})

			if !wait(ctx, req.Period) {
				log.Debug("run cancelled", "pass", passes, "step", k)
				return passes, nil
			}
		}

		if ctx.Err() != nil {
			return passes, nil
		}
		switch {
		case remaining == Forever:
		case remaining > 0:
			remaining--
		default:
			return passes, nil
		}
	}
}

func (s *Sequencer) fail(req Request, passes int, started time.Time, err error, log *slog.Logger) error {
	log.Error("run failed", "error", err, "passes", passes)
	s.notifier.Publish(events.RunFinished{
		Name:       req.Name,
		Result:     events.ResultFailed,
		Error:      err.Error(),
		Iterations: passes,
		Started:    started,
		At:         s.now(),
	})
	return err
}

// Reset drives every output Low outside of a run. Used to reach the safe
// state after a failed run.
func (s *Sequencer) Reset(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)

	if err := s.applier.Apply(ctx, AllOff(s.outputs)); err != nil {
		s.logger.Error("reset failed", "error", err)
		return err
	}
	s.logger.Info("outputs reset")
	return nil
}

// wait blocks for d, returning false if ctx is cancelled first.
func wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
