package control

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/config"
	"github.com/sweeney/gpio-sequencer/internal/output"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
)

var pins = []output.Pin{{Name: "out1", Line: 66}, {Name: "out2", Line: 67}}

func testCatalog() config.Catalog {
	blink := sequence.Sequence{{"out1": output.High}, {"out1": output.Low}}
	return config.Catalog{
		"blink":   {Name: "blink", Sequence: blink, Period: 20 * time.Millisecond},
		"forever": {Name: "forever", Sequence: blink, Period: 20 * time.Millisecond, Repeat: sequence.Forever},
		"fast":    {Name: "fast", Sequence: blink, Period: time.Millisecond},
	}
}

func newTestController(t *testing.T) (*Controller, *output.FakeDriver) {
	t.Helper()
	d := output.NewFakeDriver(pins)
	seq := sequence.New(d, d.Outputs(), 10*time.Millisecond)
	return New(seq, testCatalog(), nil), d
}

func TestStartRunsInBackground(t *testing.T) {
	c, d := newTestController(t)

	if err := c.Start("blink", Overrides{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()

	// two steps of one write each, then all-off across both outputs
	if n := len(d.Writes()); n != 4 {
		t.Errorf("writes: got %d, want 4", n)
	}
	if err := c.LastError(); err != nil {
		t.Errorf("LastError: %v", err)
	}
	if name, running := c.Active(); running || name != "" {
		t.Errorf("Active after Wait: %q %v", name, running)
	}
}

func TestStartUnknownSequence(t *testing.T) {
	c, d := newTestController(t)

	err := c.Start("missing", Overrides{})
	if !errors.Is(err, ErrUnknownSequence) {
		t.Fatalf("got %v, want ErrUnknownSequence", err)
	}
	if n := len(d.Writes()); n != 0 {
		t.Errorf("writes: got %d, want 0", n)
	}
}

func TestStartRejectsCooldownViolation(t *testing.T) {
	c, d := newTestController(t)

	err := c.Start("fast", Overrides{})
	var verr *sequence.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *sequence.ValidationError", err)
	}
	if n := len(d.Writes()); n != 0 {
		t.Errorf("writes: got %d, want 0", n)
	}
	if _, running := c.Active(); running {
		t.Error("rejected request left a run active")
	}
}

func TestStartBusyAndStop(t *testing.T) {
	c, d := newTestController(t)

	if err := c.Start("forever", Overrides{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if name, running := c.Active(); !running || name != "forever" {
		t.Errorf("Active: %q %v", name, running)
	}
	if err := c.Start("blink", Overrides{}); !errors.Is(err, sequence.ErrBusy) {
		t.Errorf("second Start: got %v, want ErrBusy", err)
	}
	if err := c.Reset(context.Background()); !errors.Is(err, sequence.ErrBusy) {
		t.Errorf("Reset during run: got %v, want ErrBusy", err)
	}

	time.Sleep(50 * time.Millisecond)
	if !c.Stop() {
		t.Fatal("Stop returned false during a run")
	}
	c.Wait()

	if got := d.Level("out1"); got != output.Low {
		t.Errorf("out1 after stop: got %v, want Low", got)
	}
	if err := c.LastError(); err != nil {
		t.Errorf("cancelled run should not report an error, got %v", err)
	}
	if c.Stop() {
		t.Error("Stop returned true with nothing running")
	}
}

func TestStartOverrides(t *testing.T) {
	c, d := newTestController(t)

	repeat := 1
	if err := c.Start("blink", Overrides{Repeat: &repeat}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()

	// two passes of two steps, then all-off
	if n := len(d.Writes()); n != 6 {
		t.Errorf("writes: got %d, want 6", n)
	}

	period := time.Millisecond
	err := c.Start("blink", Overrides{Period: &period})
	var verr *sequence.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("period override should be validated, got %v", err)
	}
}

func TestSetCatalog(t *testing.T) {
	c, _ := newTestController(t)

	c.SetCatalog(config.Catalog{"solo": {Name: "solo"}})

	if got := c.Names(); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("Names: got %v", got)
	}
	if _, ok := c.Lookup("blink"); ok {
		t.Error("old catalog entry still visible")
	}
	if err := c.Start("solo", Overrides{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()
}

func TestResetWhenIdle(t *testing.T) {
	c, d := newTestController(t)

	if err := c.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n := len(d.Writes()); n != 2 {
		t.Errorf("writes: got %d, want 2", n)
	}
}

func TestCloseStopsRunAndRefusesNewOnes(t *testing.T) {
	c, d := newTestController(t)

	if err := c.Start("forever", Overrides{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if !c.Close() {
		t.Error("Close should report the stopped run")
	}
	if _, running := c.Active(); running {
		t.Error("run still active after Close")
	}
	for _, name := range d.Outputs() {
		if got := d.Level(name); got != output.Low {
			t.Errorf("%s after Close: got %v, want Low", name, got)
		}
	}

	writes := len(d.Writes())
	if err := c.Start("blink", Overrides{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close: got %v, want ErrClosed", err)
	}
	if err := c.Reset(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset after Close: got %v, want ErrClosed", err)
	}
	if n := len(d.Writes()); n != writes {
		t.Errorf("outputs written after Close: %d new writes", n-writes)
	}
}

func TestCloseWhenIdle(t *testing.T) {
	c, _ := newTestController(t)

	if c.Close() {
		t.Error("Close reported a run while idle")
	}
	if err := c.Start("blink", Overrides{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close: got %v, want ErrClosed", err)
	}
}
