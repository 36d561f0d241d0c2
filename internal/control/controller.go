// Package control starts and stops named sequences in the background on
// behalf of the HTTP and MQTT front ends.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/config"
	"github.com/sweeney/gpio-sequencer/internal/logging"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
)

var (
	// ErrUnknownSequence is returned by Start for names missing from the catalog.
	ErrUnknownSequence = errors.New("unknown sequence")

	// ErrClosed is returned by Start and Reset once Close was called.
	ErrClosed = errors.New("controller closed")
)

// Overrides replace catalog values for a single run. Nil fields keep the
// catalog value.
type Overrides struct {
	Repeat *int
	Period *time.Duration
}

// Controller owns the background run of a Sequencer.
type Controller struct {
	seq    *sequence.Sequencer
	logger *slog.Logger

	mu      sync.Mutex
	catalog config.Catalog
	active  string
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
	closed  bool
}

// New creates a Controller. A nil logger discards.
func New(seq *sequence.Sequencer, catalog config.Catalog, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{seq: seq, catalog: catalog, logger: logger}
}

// SetCatalog swaps the sequence catalog. A run in progress keeps the
// request it started with.
func (c *Controller) SetCatalog(cat config.Catalog) {
	c.mu.Lock()
	c.catalog = cat
	c.mu.Unlock()
	c.logger.Info("sequence catalog updated", "sequences", cat.Names())
}

// Names returns the runnable sequence names, sorted.
func (c *Controller) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Names()
}

// Lookup returns the catalog request for name.
func (c *Controller) Lookup(name string) (sequence.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.catalog[name]
	return req, ok
}

// Active returns the name of the running sequence, if any.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.done != nil
}

// LastError returns the error of the most recent background run.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start validates the named sequence and runs it in the background. It
// fails with sequence.ErrBusy while another run is active and returns
// validation errors synchronously.
func (c *Controller) Start(name string, o Overrides) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.done != nil || c.seq.Running() {
		return sequence.ErrBusy
	}
	req, ok := c.catalog[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSequence, name)
	}
	if o.Repeat != nil {
		req.Repeat = *o.Repeat
	}
	if o.Period != nil {
		req.Period = *o.Period
	}

	if err := c.seq.Check(req); err != nil {
		// Run reports the rejection to subscribers and returns the same
		// error without touching any output.
		return c.seq.Run(context.Background(), req)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.active = name
	c.cancel = cancel
	c.done = done

	go func() {
		err := c.seq.Run(ctx, req)
		cancel()

		c.mu.Lock()
		c.lastErr = err
		c.active = ""
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the active run. It returns false when nothing is running.
// The terminal state is still applied; use Wait to block until it is.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.logger.Info("stopping run", "sequence", c.active)
	c.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset drives every output Low. It fails with sequence.ErrBusy during a run.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.done != nil {
		return sequence.ErrBusy
	}
	return c.seq.Reset(ctx)
}

// Close refuses further runs, stops the active one and waits for its
// terminal state. It reports whether a run was stopped. The outputs are not
// touched after Close returns.
func (c *Controller) Close() bool {
	c.mu.Lock()
	c.closed = true
	done := c.done
	if c.cancel != nil {
		c.logger.Info("stopping run", "sequence", c.active)
		c.cancel()
	}
	c.mu.Unlock()

	if done == nil {
		return false
	}
	<-done
	return true
}
