//go:build linux

package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealDriver drives outputs on actual hardware using the Linux GPIO character device.
type RealDriver struct {
	pins []Pin

	// mu is held shared by writes and exclusively by Close.
	mu     sync.RWMutex
	chip   *gpiocdev.Chip
	lines  map[string]*gpiocdev.Line
	closed bool
}

// NewRealDriver requests every pin as an output, initially inactive.
func NewRealDriver(chipName, consumer string, pins []Pin) (*RealDriver, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	d := &RealDriver{
		chip:  chip,
		pins:  pins,
		lines: make(map[string]*gpiocdev.Line, len(pins)),
	}
	for _, p := range pins {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if p.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(p.Line, opts...)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", p.Name, p.Line, err)
		}
		d.lines[p.Name] = line
	}
	return d, nil
}

// Write sets the named output's line value.
func (d *RealDriver) Write(ctx context.Context, name string, level Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	line, ok := d.lines[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownOutput, name)
	}
	if err := line.SetValue(int(level)); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// Outputs returns the configured output names in pin order.
func (d *RealDriver) Outputs() []string {
	return names(d.pins)
}

// Close drives every line inactive, then reconfigures it as an input before
// releasing it, so nothing stays energised across a restart.
func (d *RealDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error

	for _, p := range d.pins {
		line := d.lines[p.Name]
		if line == nil {
			continue
		}
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", p.Name, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", p.Name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name, err))
		}
		delete(d.lines, p.Name)
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
