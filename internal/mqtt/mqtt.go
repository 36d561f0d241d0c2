// Package mqtt publishes run and lifecycle events to an MQTT broker and
// accepts run/stop commands from it.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/events"
)

// Topics are the MQTT topics used under a common prefix.
type Topics struct {
	Events  string
	System  string
	Command string
}

// NewTopics derives the topic set from prefix, e.g. "gpio/sequencer".
func NewTopics(prefix string) Topics {
	return Topics{
		Events:  prefix + "/events",
		System:  prefix + "/system",
		Command: prefix + "/command",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishRun sends a run lifecycle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishRun(event RunEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Run event names.
const (
	EventRunStarted  = "RUN_STARTED"
	EventRunFinished = "RUN_FINISHED"
)

// RunEvent is the broker-facing view of a run starting or finishing.
type RunEvent struct {
	Timestamp  time.Time
	Event      string
	Sequence   string
	Result     string // RUN_FINISHED only
	Error      string
	Violations []string
	Passes     int
	Duration   time.Duration
}

// RunStartedEvent converts a bus event.
func RunStartedEvent(e events.RunStarted) RunEvent {
	return RunEvent{Timestamp: e.At, Event: EventRunStarted, Sequence: e.Name}
}

// RunFinishedEvent converts a bus event.
func RunFinishedEvent(e events.RunFinished) RunEvent {
	return RunEvent{
		Timestamp:  e.At,
		Event:      EventRunFinished,
		Sequence:   e.Name,
		Result:     string(e.Result),
		Error:      e.Error,
		Violations: e.Violations,
		Passes:     e.Iterations,
		Duration:   e.Duration(),
	}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for run events.
type Payload struct {
	Run RunPayload `json:"run"`
}

// RunPayload contains the run event details.
type RunPayload struct {
	Timestamp  string   `json:"timestamp"`
	Event      string   `json:"event"`
	Sequence   string   `json:"sequence"`
	Result     string   `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Passes     int      `json:"passes,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
}

// FormatPayload creates the JSON payload for a run event.
func FormatPayload(event RunEvent) ([]byte, error) {
	payload := Payload{
		Run: RunPayload{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Event:      event.Event,
			Sequence:   event.Sequence,
			Result:     event.Result,
			Error:      event.Error,
			Violations: event.Violations,
			Passes:     event.Passes,
			DurationMs: event.Duration.Milliseconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, SHUTDOWN) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command actions.
const (
	ActionRun  = "run"
	ActionStop = "stop"
)

// ErrInvalidCommand is returned for command payloads that cannot be acted on.
var ErrInvalidCommand = errors.New("invalid command")

// Command is a request received on the command topic.
type Command struct {
	Action   string `json:"action"`
	Sequence string `json:"sequence,omitempty"`
	Repeat   *int   `json:"repeat,omitempty"`
	PeriodMs *int   `json:"period_ms,omitempty"`
}

// ParseCommand decodes and checks a command payload.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	switch c.Action {
	case ActionRun:
		if c.Sequence == "" {
			return Command{}, fmt.Errorf("%w: run needs a sequence", ErrInvalidCommand)
		}
		if c.PeriodMs != nil && *c.PeriodMs < 0 {
			return Command{}, fmt.Errorf("%w: negative period_ms", ErrInvalidCommand)
		}
	case ActionStop:
	default:
		return Command{}, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, c.Action)
	}
	return c, nil
}
