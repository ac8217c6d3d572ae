// Package metrics exposes run outcomes as Prometheus metrics.
//
// Collectors live on a private registry so a pagewatch embedded in another
// process does not collide with its metrics. A one-shot CLI run pushes the
// registry to a pushgateway; the long-running server exposes it on /metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/hazyhaar/pagewatch/engine"
)

// Metrics implements engine.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	Runs          *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Items         *prometheus.GaugeVec
	LastSuccess   *prometheus.GaugeVec
	LastChange    *prometheus.GaugeVec

	now func() time.Time
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_runs_total",
			Help: "Detection runs by outcome (changed, unchanged, failed)",
		}, []string{"watch_id", "outcome"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_run_failures_total",
			Help: "Failed runs by failing stage",
		}, []string{"watch_id", "stage"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewatch_notifications_total",
			Help: "Change events accepted by the notification gateway",
		}, []string{"watch_id"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagewatch_run_duration_seconds",
			Help:    "Duration of detection runs, fetch included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"watch_id"}),
		Items: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagewatch_items",
			Help: "Items extracted by the last successful extraction",
		}, []string{"watch_id"}),
		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagewatch_last_success_timestamp_seconds",
			Help: "Unix time of the last run that reached Done",
		}, []string{"watch_id"}),
		LastChange: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagewatch_last_change_timestamp_seconds",
			Help: "Unix time of the last run with a Changed verdict",
		}, []string{"watch_id"}),
		now: time.Now,
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// RecordRun records one finished run.
func (m *Metrics) RecordRun(watchID string, res *engine.Result, err error) {
	if res != nil {
		m.Duration.WithLabelValues(watchID).Observe(res.Duration.Seconds())
		if res.Notified() {
			m.Notifications.WithLabelValues(watchID).Inc()
		}
	}
	if err != nil {
		m.Runs.WithLabelValues(watchID, "failed").Inc()
		m.Failures.WithLabelValues(watchID, engine.StageOf(err).String()).Inc()
		if res != nil && engine.StageOf(err) > engine.StageExtract {
			m.Items.WithLabelValues(watchID).Set(float64(len(res.Items)))
		}
		return
	}

	now := float64(m.now().Unix())
	m.Runs.WithLabelValues(watchID, res.Verdict.String()).Inc()
	m.Items.WithLabelValues(watchID).Set(float64(len(res.Items)))
	m.LastSuccess.WithLabelValues(watchID).Set(now)
	if res.Verdict == engine.Changed {
		m.LastChange.WithLabelValues(watchID).Set(now)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Push replaces the watch's metric group on a pushgateway. The group is
// keyed by instance because watch_id is already a label on every series.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, watchID string) error {
	err := push.New(gatewayURL, job).
		Gatherer(m.reg).
		Grouping("instance", watchID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("metrics: push to %s: %w", gatewayURL, err)
	}
	return nil
}
