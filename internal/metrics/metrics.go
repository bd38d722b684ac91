// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "floodmon"

// Frame outcomes.
const (
	FrameAccepted      = "accepted"
	FrameSuppressed    = "suppressed"
	FrameNotStructured = "not_structured"
	FrameMalformed     = "malformed"
	FrameFlow          = "flow"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry     *prometheus.Registry
	frames       *prometheus.CounterVec
	weatherPolls *prometheus.CounterVec
	appends      *prometheus.CounterVec
	sensorPolls  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Device frames by parse and filter outcome.",
		}, []string{"outcome"}),
		weatherPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_polls_total",
			Help:      "Weather polls by outcome.",
		}, []string{"outcome"}),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_appends_total",
			Help:      "Store appends by path and outcome.",
		}, []string{"path", "outcome"}),
		sensorPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_polls_total",
			Help:      "Sensor polls by whether a frame was available.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		m.frames,
		m.weatherPolls,
		m.appends,
		m.sensorPolls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Frame(outcome string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(outcome).Inc()
}

func (m *Metrics) WeatherPoll(ok bool) {
	if m == nil {
		return
	}
	m.weatherPolls.WithLabelValues(outcomeLabel(ok)).Inc()
}

func (m *Metrics) Append(path string, ok bool) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(path, outcomeLabel(ok)).Inc()
}

// SensorPoll records whether the device had a complete frame buffered.
func (m *Metrics) SensorPoll(gotFrame bool) {
	if m == nil {
		return
	}
	outcome := "idle"
	if gotFrame {
		outcome = "frame"
	}
	m.sensorPolls.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Counter accessors, mostly for tests.

func (m *Metrics) FrameCounter(outcome string) prometheus.Counter {
	return m.frames.WithLabelValues(outcome)
}

func (m *Metrics) AppendCounter(path string, ok bool) prometheus.Counter {
	return m.appends.WithLabelValues(path, outcomeLabel(ok))
}

func (m *Metrics) WeatherCounter(ok bool) prometheus.Counter {
	return m.weatherPolls.WithLabelValues(outcomeLabel(ok))
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
