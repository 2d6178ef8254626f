// Package metrics exposes Prometheus metrics for the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vertex-audit/pkg/events"
)

// Sample is what one finished analysis reports.
type Sample struct {
	Source       string // api, nats, cli
	Risk         events.RiskLevel
	Records      int
	Critical     int
	AttackChains int
	Alerts       int
	Duration     time.Duration
}

// Collector owns a private registry so several instances can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	analysesTotal   *prometheus.CounterVec
	analysisErrors  *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	recordsTotal    prometheus.Counter
	criticalTotal   prometheus.Counter
	chainsTotal     prometheus.Counter
	alertsTotal     prometheus.Counter
	rulesLoaded     prometheus.Gauge
	rulesReloads    *prometheus.CounterVec
	batchSizeRecord prometheus.Histogram
}

// New creates a collector with process and Go runtime collectors registered.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(registry)
	return &Collector{
		registry: registry,
		analysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_analyses_total",
			Help: "Completed analyses by source and risk level",
		}, []string{"source", "risk"}),
		analysisErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_analysis_errors_total",
			Help: "Rejected or failed analyses by source and reason",
		}, []string{"source", "reason"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vertex_analysis_duration_seconds",
			Help:    "Analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"source"}),
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vertex_records_total",
			Help: "Raw records normalized",
		}),
		criticalTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vertex_critical_events_total",
			Help: "Events classified as critical",
		}),
		chainsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vertex_attack_chains_total",
			Help: "Attack chains found by correlation",
		}),
		alertsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vertex_rule_alerts_total",
			Help: "Custom rule matches",
		}),
		rulesLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "vertex_rules_loaded",
			Help: "Custom detection rules currently loaded",
		}),
		rulesReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vertex_rules_reloads_total",
			Help: "Rule reloads by result",
		}, []string{"result"}),
		batchSizeRecord: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vertex_batch_records",
			Help:    "Records per analyzed batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 9),
		}),
	}
}

// ObserveAnalysis records one completed analysis.
func (c *Collector) ObserveAnalysis(s Sample) {
	if c == nil {
		return
	}
	c.analysesTotal.WithLabelValues(s.Source, s.Risk.String()).Inc()
	c.duration.WithLabelValues(s.Source).Observe(s.Duration.Seconds())
	c.recordsTotal.Add(float64(s.Records))
	c.criticalTotal.Add(float64(s.Critical))
	c.chainsTotal.Add(float64(s.AttackChains))
	c.alertsTotal.Add(float64(s.Alerts))
	c.batchSizeRecord.Observe(float64(s.Records))
}

// ObserveError records a rejected or failed analysis.
func (c *Collector) ObserveError(source, reason string) {
	if c == nil {
		return
	}
	c.analysisErrors.WithLabelValues(source, reason).Inc()
}

// SetRulesLoaded records the size of the active rule set after a (re)load.
func (c *Collector) SetRulesLoaded(n int, ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	} else {
		c.rulesLoaded.Set(float64(n))
	}
	c.rulesReloads.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
