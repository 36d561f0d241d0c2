package sequence

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/gpio-sequencer/internal/logging"
	"github.com/sweeney/gpio-sequencer/internal/output"
)

// Writer sets a single named output. output.Driver satisfies it.
type Writer interface {
	Write(ctx context.Context, name string, level output.Level) error
}

// Applier writes whole states.
type Applier struct {
	w      Writer
	logger *slog.Logger
}

// NewApplier creates an Applier writing through w.
func NewApplier(w Writer, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Applier{w: w, logger: logger}
}

// Apply issues one write per output in the state, all concurrently, and
// returns once every write has finished. A failed write does not stop the
// others; the first failure is returned as a *DriverError.
func (a *Applier) Apply(ctx context.Context, state State) error {
	var g errgroup.Group
	for _, name := range state.Names() {
		level := state[name]
		g.Go(func() error {
			a.logger.Log(ctx, logging.LevelTrace, "write", "output", name, "level", level.String())
			if err := a.w.Write(ctx, name, level); err != nil {
				return &DriverError{Output: name, Level: level, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}
