// Package metrics exports sequencer activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/gpio-sequencer/internal/events"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpioseq",
		Name:      "runs_total",
		Help:      "Finished runs by result",
	}, []string{"sequence", "result"})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpioseq",
		Name:      "steps_applied_total",
		Help:      "States applied to the outputs, terminal states included",
	}, []string{"sequence"})

	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpioseq",
		Name:      "cooldown_violations_total",
		Help:      "Cooldown violations found in rejected requests",
	}, []string{"sequence"})

	runActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpioseq",
		Name:      "run_active",
		Help:      "1 while a sequence is running",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gpioseq",
		Name:      "run_duration_seconds",
		Help:      "Wall time of runs that got past validation",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
	}, []string{"sequence"})

	outputLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gpioseq",
		Name:      "output_level",
		Help:      "Last level written to each output",
	}, []string{"output"})
)

// Subscribe feeds bus events into the metrics. The returned function
// unsubscribes.
func Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.OnRunStarted(recordRunStarted),
		bus.OnStepApplied(recordStepApplied),
		bus.OnRunFinished(recordRunFinished),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// activity orders run starts and finishes, which the bus delivers on
// independent consumers.
var activity struct {
	sync.Mutex
	started time.Time // At of the last run marked active
	ended   time.Time // Started of the last finished run
}

func recordRunStarted(e events.RunStarted) {
	activity.Lock()
	defer activity.Unlock()
	if !activity.ended.IsZero() && !e.At.After(activity.ended) {
		return
	}
	activity.started = e.At
	runActive.Set(1)
}

func recordStepApplied(e events.StepApplied) {
	stepsTotal.WithLabelValues(e.Name).Inc()
	for name, level := range e.Levels {
		outputLevel.WithLabelValues(name).Set(float64(level))
	}
}

func recordRunFinished(e events.RunFinished) {
	runsTotal.WithLabelValues(e.Name, string(e.Result)).Inc()
	if n := len(e.Violations); n > 0 {
		violationsTotal.WithLabelValues(e.Name).Add(float64(n))
	}
	if e.Result == events.ResultRejected {
		return
	}
	if d := e.Duration(); d > 0 {
		runDuration.WithLabelValues(e.Name).Observe(d.Seconds())
	}

	activity.Lock()
	defer activity.Unlock()
	if e.Started.After(activity.ended) {
		activity.ended = e.Started
	}
	// a later run already started
	if e.Started.Before(activity.started) {
		return
	}
	runActive.Set(0)
}

