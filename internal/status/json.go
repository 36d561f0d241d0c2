package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Running       bool         `json:"running"`
	Sequence      string       `json:"sequence,omitempty"`
	Pass          int          `json:"pass,omitempty"`
	Step          int          `json:"step,omitempty"`
	Outputs       []OutputJSON `json:"outputs"`
	Sequences     []string     `json:"sequences"`
	LastRun       *RunJSON     `json:"last_run,omitempty"`
	Counts        CountsJSON   `json:"run_counts"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Config        ConfigJSON   `json:"config"`
}

// OutputJSON is one output's last known level: "ON", "OFF" or "UNKNOWN".
type OutputJSON struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	State string `json:"state"`
}

// RunJSON is the JSON representation of the last finished run.
type RunJSON struct {
	Sequence   string   `json:"sequence"`
	Result     string   `json:"result"`
	Error      string   `json:"error,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Passes     int      `json:"passes"`
	DurationMs int64    `json:"duration_ms"`
	Finished   string   `json:"finished"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of run counts.
type CountsJSON struct {
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip       string `json:"chip"`
	CooldownMs int64  `json:"cooldown_ms"`
	Broker     string `json:"broker"`
	HTTPAddr   string `json:"http_addr"`
	DryRun     bool   `json:"dry_run,omitempty"`
}

// OutputState renders a level for display.
func OutputState(o Output) string {
	switch {
	case !o.Known:
		return "UNKNOWN"
	case o.Level != 0:
		return "ON"
	default:
		return "OFF"
	}
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Running:       snap.Running,
		Sequence:      snap.Sequence,
		Pass:          snap.Pass,
		Step:          snap.Step,
		Outputs:       make([]OutputJSON, len(snap.Outputs)),
		Sequences:     snap.Sequences,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Completed: snap.Counts.Completed,
			Cancelled: snap.Counts.Cancelled,
			Rejected:  snap.Counts.Rejected,
			Failed:    snap.Counts.Failed,
		},
		Config: ConfigJSON{
			Chip:       snap.Config.Chip,
			CooldownMs: snap.Config.CooldownMs,
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
			DryRun:     snap.Config.DryRun,
		},
	}
	if inner.Sequences == nil {
		inner.Sequences = []string{}
	}
	for i, o := range snap.Outputs {
		inner.Outputs[i] = OutputJSON{Name: o.Name, Label: o.Label, State: OutputState(o)}
	}
	if r := snap.LastRun; r != nil {
		inner.LastRun = &RunJSON{
			Sequence:   r.Sequence,
			Result:     string(r.Result),
			Error:      r.Error,
			Violations: r.Violations,
			Passes:     r.Passes,
			DurationMs: r.Duration.Milliseconds(),
			Finished:   r.Finished.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
