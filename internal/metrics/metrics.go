// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the doorkeeper collectors on a private registry. All methods
// are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	FramesProcessed prometheus.Counter
	FrameErrors     *prometheus.CounterVec
	FrameDuration   prometheus.Histogram
	Blinks          prometheus.Counter
	Notifications   *prometheus.CounterVec
	DoorCycles      *prometheus.CounterVec
	CaptureRunning  prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "doorkeeper_frames_processed_total",
			Help: "Frames run through the capture pipeline",
		}),
		FrameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doorkeeper_frame_errors_total",
			Help: "Per-frame pipeline failures by stage",
		}, []string{"stage"}), // stage: "acquire", "landmarks", "recognize", "liveness", "encode"
		FrameDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "doorkeeper_frame_duration_seconds",
			Help:    "Time spent processing one frame",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Blinks: factory.NewCounter(prometheus.CounterOpts{
			Name: "doorkeeper_blinks_total",
			Help: "Blinks detected by the liveness machine",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doorkeeper_notifications_total",
			Help: "Notification deliveries by channel and outcome",
		}, []string{"channel", "outcome"}),
		DoorCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "doorkeeper_door_cycles_total",
			Help: "Completed door cycles by result",
		}, []string{"result"}), // result: "ok", "open_failed", "close_failed"
		CaptureRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "doorkeeper_capture_running",
			Help: "1 while the capture task is running",
		}),
	}
}

// RegisterCacheSize exports the embedding cache size, read at scrape time.
func (m *Metrics) RegisterCacheSize(size func() int) {
	if m == nil || size == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "doorkeeper_embedding_cache_identities",
		Help: "Identities with a usable embedding in the cache",
	}, func() float64 { return float64(size()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveFrame(d time.Duration) {
	if m != nil {
		m.FramesProcessed.Inc()
		m.FrameDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementFrameError(stage string) {
	if m != nil {
		m.FrameErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) IncrementBlinks() {
	if m != nil {
		m.Blinks.Inc()
	}
}

func (m *Metrics) IncrementNotification(channel, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(channel, outcome).Inc()
	}
}

// ObserveDoorCycle records a finished door cycle.
func (m *Metrics) ObserveDoorCycle(opened, closed bool) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case !opened:
		result = "open_failed"
	case !closed:
		result = "close_failed"
	}
	m.DoorCycles.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCaptureRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.CaptureRunning.Set(1)
	} else {
		m.CaptureRunning.Set(0)
	}
}
