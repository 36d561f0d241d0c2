package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/gpio-sequencer/internal/control"
	"github.com/sweeney/gpio-sequencer/internal/events"
	"github.com/sweeney/gpio-sequencer/internal/sequence"
	"github.com/sweeney/gpio-sequencer/internal/status"
)

type fakeRunner struct {
	started   []string
	overrides []control.Overrides
	stopped   bool
	err       error
}

func (f *fakeRunner) Start(name string, o control.Overrides) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, name)
	f.overrides = append(f.overrides, o)
	return nil
}

func (f *fakeRunner) Stop() bool {
	return f.stopped
}

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *fakeRunner) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Chip:       "gpiochip0",
		CooldownMs: 100,
		Broker:     "tcp://192.168.1.200:1883",
		HTTPAddr:   ":80",
	}
	tr := status.NewTracker(start, cfg, []string{"out1", "out2"}, map[string]string{"out1": "Red"})
	tr.SetSequences([]string{"allonoff", "nightrider"})
	runner := &fakeRunner{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "gpioseq_run_active 0")
	})
	srv := New(":0", tr, runner, metrics, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, runner
}

func getStatus(t *testing.T, ts *httptest.Server) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.StepApplied(events.StepApplied{Levels: map[string]uint8{"out1": 1, "out2": 0}})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if len(sj.Status.Outputs) != 2 {
		t.Fatalf("outputs: got %d, want 2", len(sj.Status.Outputs))
	}
	if o := sj.Status.Outputs[0]; o.Label != "Red" || o.State != "ON" {
		t.Errorf("out1: got %+v", o)
	}
	if o := sj.Status.Outputs[1]; o.State != "OFF" {
		t.Errorf("out2: got %+v", o)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if len(sj.Status.Sequences) != 2 {
		t.Errorf("sequences: got %v", sj.Status.Sequences)
	}
	if sj.Status.Config.CooldownMs != 100 {
		t.Errorf("Config.CooldownMs: got %d, want 100", sj.Status.Config.CooldownMs)
	}
}

func TestJSONUnknownBeforeFirstWrite(t *testing.T) {
	ts, _, _ := newTestServer(t)

	sj := getStatus(t, ts)
	for _, o := range sj.Status.Outputs {
		if o.State != "UNKNOWN" {
			t.Errorf("%s before first write: got %q, want UNKNOWN", o.Name, o.State)
		}
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.RunStarted(events.RunStarted{Name: "nightrider", At: time.Now()})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"Red", "nightrider (pass 0, step 0)", `action="/run/allonoff"`, `action="/stop"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestRunRequiresPost(t *testing.T) {
	ts, _, runner := newTestServer(t)

	resp, err := http.Get(ts.URL + "/run/nightrider")
	if err != nil {
		t.Fatalf("GET /run: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
	if len(runner.started) != 0 {
		t.Error("GET should not start a run")
	}
}

func TestRunEndpoint(t *testing.T) {
	ts, _, runner := newTestServer(t)

	resp, err := http.Post(ts.URL+"/run/nightrider?repeat=3&period_ms=400", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /run: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want 202", resp.StatusCode)
	}
	var body RunJSON
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Started != "nightrider" {
		t.Errorf("started: got %q", body.Started)
	}

	if len(runner.started) != 1 || runner.started[0] != "nightrider" {
		t.Fatalf("runner.started: %v", runner.started)
	}
	o := runner.overrides[0]
	if o.Repeat == nil || *o.Repeat != 3 {
		t.Errorf("repeat override: %v", o.Repeat)
	}
	if o.Period == nil || *o.Period != 400*time.Millisecond {
		t.Errorf("period override: %v", o.Period)
	}
}

func TestRunEndpointBadQuery(t *testing.T) {
	ts, _, runner := newTestServer(t)

	resp, err := http.Post(ts.URL+"/run/nightrider?repeat=lots", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /run: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
	if len(runner.started) != 0 {
		t.Error("bad request should not start a run")
	}
}

func TestRunEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantViol int
	}{
		{"unknown", fmt.Errorf("%w %q", control.ErrUnknownSequence, "x"), http.StatusNotFound, 0},
		{"busy", sequence.ErrBusy, http.StatusConflict, 0},
		{"shutting down", control.ErrClosed, http.StatusServiceUnavailable, 0},
		{"violation", &sequence.ValidationError{Violations: []sequence.Violation{
			{Output: "out1", Step: 1, Remaining: 50 * time.Millisecond},
			{Output: "out2", Step: 1, Remaining: 50 * time.Millisecond},
		}}, http.StatusUnprocessableEntity, 2},
		{"unknown output", &sequence.ConfigError{Output: "out9"}, http.StatusBadRequest, 0},
		{"invalid request", fmt.Errorf("%w: repeat -5", sequence.ErrInvalidRequest), http.StatusBadRequest, 0},
		{"other", errors.New("boom"), http.StatusInternalServerError, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, runner := newTestServer(t)
			runner.err = tt.err

			resp, err := http.Post(ts.URL+"/run/x", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /run: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status: got %d, want %d", resp.StatusCode, tt.wantCode)
			}
			var body ErrorJSON
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
			if len(body.Violations) != tt.wantViol {
				t.Errorf("violations: got %d, want %d", len(body.Violations), tt.wantViol)
			}
		})
	}
}

func TestRunFormRedirects(t *testing.T) {
	ts, _, runner := newTestServer(t)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.PostForm(ts.URL+"/run/allonoff", url.Values{})
	if err != nil {
		t.Fatalf("POST /run: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status: got %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location: got %q, want /", loc)
	}
	if len(runner.started) != 1 {
		t.Error("form post did not start a run")
	}
}

func TestStopEndpoint(t *testing.T) {
	ts, _, runner := newTestServer(t)

	for _, running := range []bool{true, false} {
		runner.stopped = running

		resp, err := http.Post(ts.URL+"/stop", "application/json", nil)
		if err != nil {
			t.Fatalf("POST /stop: %v", err)
		}
		var body StopJSON
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status: got %d, want 200", resp.StatusCode)
		}
		if body.Stopped != running {
			t.Errorf("stopped: got %v, want %v", body.Stopped, running)
		}
	}
}

func TestMetricsMounted(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gpioseq_run_active") {
		t.Errorf("unexpected metrics body: %s", body)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t)

	if sj := getStatus(t, ts); sj.Status.Running {
		t.Error("expected Running=false initially")
	}

	tr.RunStarted(events.RunStarted{Name: "nightrider", At: time.Now()})
	tr.SetMQTTConnected(true)

	sj := getStatus(t, ts)
	if !sj.Status.Running || sj.Status.Sequence != "nightrider" {
		t.Errorf("running: got %v %q", sj.Status.Running, sj.Status.Sequence)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
