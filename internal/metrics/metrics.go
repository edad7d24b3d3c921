// Copyright 2025 FleetTools Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics provides Prometheus metrics collection for the Core: the
// counters, histograms and gauges the Coordinator API exposes on /metrics
// (spec §4.1, §4.8). GET /health does not read them; it asks the Store.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleettools/coordination-core/internal/config"
)

// Metrics holds every Prometheus collector the Core registers. A nil
// *Metrics is valid and every method is a no-op on it, so components can
// hold an unconditional reference whether or not metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	eventsAppended  *prometheus.CounterVec
	eventAppendDur  *prometheus.HistogramVec
	lockAcquires    *prometheus.CounterVec
	lockConflicts   *prometheus.CounterVec
	locksActive     prometheus.Gauge
	checkpoints     *prometheus.CounterVec
	checkpointDur   prometheus.Histogram
	recoveryRuns    *prometheus.CounterVec
	walSizeBytes    prometheus.GaugeFunc
	storeBreakerOpen prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New builds a Metrics instance, or returns nil if cfg disables metrics.
// walSize is polled lazily by the wal_size_bytes gauge so Store doesn't need
// to depend on this package.
func New(cfg config.MetricsConfig, walSize func() int64) *Metrics {
	if !cfg.Enabled {
		return nil
	}

	ns := cfg.Namespace
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.eventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "eventlog", Name: "events_appended_total",
		Help: "Total number of events appended to the log.",
	}, []string{"stream_type", "event_type"})

	m.eventAppendDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "eventlog", Name: "append_duration_seconds",
		Help:    "Duration of a single event append, including projection application.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"stream_type"})

	m.lockAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "locks", Name: "acquires_total",
		Help: "Total number of lock acquisition attempts.",
	}, []string{"purpose", "outcome"})

	m.lockConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "locks", Name: "conflicts_total",
		Help: "Total number of lock acquisition conflicts.",
	}, []string{"purpose"})

	m.locksActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "locks", Name: "active",
		Help: "Number of currently active (unexpired, unreleased) locks.",
	})

	m.checkpoints = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "checkpoint", Name: "created_total",
		Help: "Total number of checkpoints created, by trigger.",
	}, []string{"trigger"})

	m.checkpointDur = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "checkpoint", Name: "create_duration_seconds",
		Help:    "Duration of checkpoint snapshot + persist.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	m.recoveryRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "recovery", Name: "restores_total",
		Help: "Total number of Restore invocations.",
	}, []string{"dry_run", "outcome"})

	m.storeBreakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "store", Name: "breaker_open",
		Help: "1 if the store's write circuit breaker is open, 0 otherwise.",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests handled.",
	}, []string{"method", "route", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	reg.MustRegister(
		m.eventsAppended, m.eventAppendDur,
		m.lockAcquires, m.lockConflicts, m.locksActive,
		m.checkpoints, m.checkpointDur,
		m.recoveryRuns,
		m.storeBreakerOpen,
		m.httpRequests, m.httpDuration,
	)

	if walSize != nil {
		m.walSizeBytes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "store", Name: "wal_size_bytes",
			Help: "Size of the sqlite -wal sidecar file, as reported on /health.",
		}, func() float64 { return float64(walSize()) })
		reg.MustRegister(m.walSizeBytes)
	}

	return m
}

// RecordEventAppend records one eventlog.Append/AppendInTx call.
func (m *Metrics) RecordEventAppend(streamType, eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(streamType, eventType).Inc()
	m.eventAppendDur.WithLabelValues(streamType).Observe(d.Seconds())
}

// RecordLockAcquire records a lock acquisition attempt and whether it
// conflicted.
func (m *Metrics) RecordLockAcquire(purpose string, conflict bool) {
	if m == nil {
		return
	}
	outcome := "acquired"
	if conflict {
		outcome = "conflict"
		m.lockConflicts.WithLabelValues(purpose).Inc()
	}
	m.lockAcquires.WithLabelValues(purpose, outcome).Inc()
}

// SetLocksActive sets the active-lock gauge.
func (m *Metrics) SetLocksActive(n int) {
	if m == nil {
		return
	}
	m.locksActive.Set(float64(n))
}

// RecordCheckpoint records a checkpoint creation.
func (m *Metrics) RecordCheckpoint(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(trigger).Inc()
	m.checkpointDur.Observe(d.Seconds())
}

// RecordRecoveryRestore records a Recovery Engine Restore invocation.
func (m *Metrics) RecordRecoveryRestore(dryRun bool, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.recoveryRuns.WithLabelValues(boolLabel(dryRun), outcome).Inc()
}

// SetStoreBreakerOpen reports the write circuit breaker's state.
func (m *Metrics) SetStoreBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.storeBreakerOpen.Set(1)
		return
	}
	m.storeBreakerOpen.Set(0)
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the Prometheus exposition format. Callers must check
// Metrics is non-nil (or Enabled) before mounting this route.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
