package mqtt

import (
	"log/slog"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/control"
	"github.com/sweeney/gpio-sequencer/internal/events"
)

// Forward publishes run start and finish events from bus until the
// returned function is called. Publish errors are logged, never fatal.
func Forward(bus *events.Bus, pub Publisher, logger *slog.Logger) func() {
	send := func(ev RunEvent) {
		if err := pub.PublishRun(ev); err != nil {
			logger.Warn("mqtt publish failed", "event", ev.Event, "sequence", ev.Sequence, "error", err)
		}
	}
	unsubStarted := bus.OnRunStarted(func(e events.RunStarted) { send(RunStartedEvent(e)) })
	unsubFinished := bus.OnRunFinished(func(e events.RunFinished) { send(RunFinishedEvent(e)) })
	return func() {
		unsubStarted()
		unsubFinished()
	}
}

// Runner is the part of control.Controller that commands drive.
type Runner interface {
	Start(name string, o control.Overrides) error
	Stop() bool
}

// Dispatch carries out a parsed command.
func Dispatch(c Command, r Runner) error {
	switch c.Action {
	case ActionStop:
		r.Stop()
		return nil
	case ActionRun:
		var o control.Overrides
		o.Repeat = c.Repeat
		if c.PeriodMs != nil {
			period := time.Duration(*c.PeriodMs) * time.Millisecond
			o.Period = &period
		}
		return r.Start(c.Sequence, o)
	}
	return ErrInvalidCommand
}
