// Package output drives named binary outputs with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing and dry runs without hardware.
package output

import (
	"context"
	"errors"
	"fmt"
)

// Level is the binary value of an output.
type Level uint8

const (
	// Low drives the output inactive.
	Low Level = 0
	// High drives the output active.
	High Level = 1
)

// ParseLevel converts a configured 0/1 value into a Level.
func ParseLevel(v int) (Level, error) {
	switch v {
	case 0:
		return Low, nil
	case 1:
		return High, nil
	}
	return Low, fmt.Errorf("invalid output level %d (want 0 or 1)", v)
}

func (l Level) String() string {
	if l == High {
		return "1"
	}
	return "0"
}

// ErrUnknownOutput is returned when a write names an output with no pin mapping.
var ErrUnknownOutput = errors.New("unknown output")

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("output driver closed")

// Pin maps a logical output name to a GPIO line offset.
type Pin struct {
	Name      string
	Line      int
	ActiveLow bool
}

// Driver sets named outputs.
type Driver interface {
	// Write sets a single output. Safe to call concurrently for
	// different outputs.
	Write(ctx context.Context, name string, level Level) error

	// Outputs returns the configured output names in pin order.
	Outputs() []string

	// Close releases hardware resources.
	Close() error
}

func names(pins []Pin) []string {
	out := make([]string, len(pins))
	for i, p := range pins {
		out[i] = p.Name
	}
	return out
}
