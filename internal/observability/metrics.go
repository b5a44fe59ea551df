// Package observability provides Prometheus metrics for the streaming engine.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics contains all Prometheus metrics related to stream playback.
type StreamMetrics struct {
	BytesReceived    prometheus.Counter
	StateTransitions *prometheus.CounterVec
	Bounces          prometheus.Counter
	Failures         *prometheus.CounterVec
	CacheEvictions   prometheus.Counter
	CacheHits        prometheus.Counter
	PrebufferedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// NewStreamMetrics creates and registers the stream metrics on the given
// registry.
func NewStreamMetrics(registry *prometheus.Registry) (*StreamMetrics, error) {
	m := &StreamMetrics{registry: registry}

	m.BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_bytes_received_total",
		Help: "Total number of stream bytes received from the network",
	})

	m.StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_state_transitions_total",
		Help: "Total number of playback state transitions by target state",
	}, []string{"state"})

	m.Bounces = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_bounces_total",
		Help: "Total number of playing to buffering transitions caused by underruns",
	})

	m.Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_failures_total",
		Help: "Total number of playback failures by error kind",
	}, []string{"error"})

	m.CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_cache_evictions_total",
		Help: "Total number of cache records evicted by the size policy",
	})

	m.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_cache_hits_total",
		Help: "Total number of plays served from the local cache",
	})

	m.PrebufferedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_prebuffered_bytes",
		Help: "Current number of prebuffered bytes",
	})

	collectors := []prometheus.Collector{
		m.BytesReceived,
		m.StateTransitions,
		m.Bounces,
		m.Failures,
		m.CacheEvictions,
		m.CacheHits,
		m.PrebufferedBytes,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register stream metrics: %w", err)
		}
	}
	return m, nil
}
