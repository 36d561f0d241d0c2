package sequence

import (
	"reflect"
	"testing"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/output"
)

const (
	lo = output.Low
	hi = output.High
)

func TestValidateToggleInsideCooldown(t *testing.T) {
	seq := Sequence{{"A": hi}, {"A": lo}}

	got := Validate(seq, 100*time.Millisecond, 500*time.Millisecond)
	want := []Violation{{Output: "A", Step: 1, Remaining: 400 * time.Millisecond}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValidateSameLevelReassertion(t *testing.T) {
	periods := []time.Duration{0, time.Millisecond, 100 * time.Millisecond}
	cooldowns := []time.Duration{0, 50 * time.Millisecond, time.Hour}

	for _, p := range periods {
		for _, c := range cooldowns {
			seq := Sequence{{"A": hi}, {"A": hi}}
			if got := Validate(seq, p, c); got != nil {
				t.Errorf("period=%v cooldown=%v: expected clean, got %v", p, c, got)
			}
		}
	}
}

func TestValidateSpacedToggle(t *testing.T) {
	tests := []struct {
		name string
		gap  int // steps between A:1 and A:0
		want []Violation
	}{
		{"exactly cooldown", 5, nil},
		{"longer than cooldown", 7, nil},
		{"one step short", 4, []Violation{{Output: "A", Step: 4, Remaining: 100 * time.Millisecond}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := Sequence{{"A": hi}}
			for i := 1; i < tt.gap; i++ {
				seq = append(seq, State{"B": hi})
			}
			seq = append(seq, State{"A": lo})

			got := Validate(seq, 100*time.Millisecond, 500*time.Millisecond)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateReassertionRefreshesWindow(t *testing.T) {
	// Without the refresh at step 2, A's window would have expired by step 4.
	seq := Sequence{{"A": hi}, {}, {"A": hi}, {}, {"A": lo}}

	got := Validate(seq, 100*time.Millisecond, 300*time.Millisecond)
	want := []Violation{{Output: "A", Step: 4, Remaining: 100 * time.Millisecond}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValidateViolationReportedOnce(t *testing.T) {
	// The violating level becomes the held level, so holding it is clean.
	seq := Sequence{{"A": hi}, {"A": lo}, {"A": lo}}

	got := Validate(seq, 100*time.Millisecond, 500*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("expected 1 violation, got %v", got)
	}
	if got[0].Step != 1 {
		t.Errorf("violation step: got %d, want 1", got[0].Step)
	}
}

func TestValidateViolationKeepsCountingDown(t *testing.T) {
	seq := Sequence{{"A": hi}, {"A": lo}, {"A": hi}}

	got := Validate(seq, 100*time.Millisecond, 500*time.Millisecond)
	want := []Violation{
		{Output: "A", Step: 1, Remaining: 400 * time.Millisecond},
		{Output: "A", Step: 2, Remaining: 300 * time.Millisecond},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValidateStepMajorOrder(t *testing.T) {
	seq := Sequence{
		{"C": hi, "A": hi, "B": hi},
		{"C": lo, "B": lo},
		{"A": lo},
	}

	got := Validate(seq, 100*time.Millisecond, time.Second)
	want := []Violation{
		{Output: "B", Step: 1, Remaining: 900 * time.Millisecond},
		{Output: "C", Step: 1, Remaining: 900 * time.Millisecond},
		{Output: "A", Step: 2, Remaining: 800 * time.Millisecond},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestValidateIsPure(t *testing.T) {
	seq := Sequence{{"A": hi, "B": lo}, {"A": lo}, {"B": hi}}
	snapshot := Sequence{{"A": hi, "B": lo}, {"A": lo}, {"B": hi}}

	first := Validate(seq, 100*time.Millisecond, 250*time.Millisecond)
	second := Validate(seq, 100*time.Millisecond, 250*time.Millisecond)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(seq, snapshot) {
		t.Errorf("input modified: %v", seq)
	}
}

func TestValidateEmptyAndZeroCooldown(t *testing.T) {
	if got := Validate(nil, 100*time.Millisecond, time.Second); got != nil {
		t.Errorf("empty sequence: expected clean, got %v", got)
	}

	toggle := Sequence{{"A": hi}, {"A": lo}, {"A": hi}, {"A": lo}}
	if got := Validate(toggle, 100*time.Millisecond, 0); got != nil {
		t.Errorf("zero cooldown: expected clean, got %v", got)
	}
	if got := Validate(toggle, 0, 0); got != nil {
		t.Errorf("zero period and cooldown: expected clean, got %v", got)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Violations: []Violation{
		{Output: "out1", Step: 1, Remaining: 400 * time.Millisecond},
	}}
	want := "cooldown violated: output out1 at step 1 still needs 400ms of cooldown"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
