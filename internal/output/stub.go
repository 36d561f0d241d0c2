//go:build !linux

package output

import (
	"context"
	"errors"
)

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(chipName, consumer string, pins []Pin) (*RealDriver, error) {
	return nil, errors.New("output: gpio not supported on this platform (requires Linux)")
}

// Write is not implemented on non-Linux platforms.
func (d *RealDriver) Write(ctx context.Context, name string, level Level) error {
	return errors.New("output: gpio not supported")
}

// Outputs returns nothing on non-Linux platforms.
func (d *RealDriver) Outputs() []string {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
