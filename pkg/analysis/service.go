// Package analysis runs the full pipeline (normalize, classify, correlate, summarize, custom
// rules) over one batch of raw records and assembles the report.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vertex-audit/pkg/causal"
	"vertex-audit/pkg/detection"
	"vertex-audit/pkg/events"
	"vertex-audit/pkg/highlight"
	"vertex-audit/pkg/metrics"
	"vertex-audit/pkg/normalize"
	"vertex-audit/pkg/summarize"
)

// ErrTooManyRecords is returned when a batch exceeds Options.MaxRecords.
var ErrTooManyRecords = errors.New("analysis: too many records")

// Report is the result of one analysis. Field names are part of the API contract.
type Report struct {
	ID              string                  `json:"id"`
	CreatedAt       time.Time               `json:"createdAt"`
	Events          []events.LogEvent       `json:"events"`
	CriticalIndices []int                   `json:"criticalIndices"`
	RiskLevel       events.RiskLevel        `json:"riskLevel"`
	Narrative       string                  `json:"narrative"`
	Analysis        summarize.EventAnalysis `json:"analysis"`
	Edges           []causal.Edge           `json:"edges,omitempty"`
	AttackChains    []causal.Edge           `json:"attackChains,omitempty"`
	Alerts          []events.Alert          `json:"alerts"`
}

// Options configures a Service. The zero value analyzes with correlation off and no rules.
type Options struct {
	Correlate  bool
	MaxRecords int
	Source     string // metrics label: api, nats, cli
	Engine     *detection.Engine
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Service is safe for concurrent use; each call works on its own batch.
type Service struct {
	correlate  bool
	maxRecords int
	source     string
	engine     *detection.Engine
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a Service.
func New(opts Options) *Service {
	s := &Service{
		correlate:  opts.Correlate,
		maxRecords: opts.MaxRecords,
		source:     opts.Source,
		engine:     opts.Engine,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if s.engine == nil {
		s.engine = detection.NewEngine()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.source == "" {
		s.source = "api"
	}
	return s
}

// SetRules replaces the custom detection rules.
func (s *Service) SetRules(rules []detection.Rule) error {
	err := s.engine.SetRules(rules)
	s.metrics.SetRulesLoaded(s.engine.Len(), err == nil)
	if err != nil {
		s.logger.Warn("rule reload rejected", zap.Error(err))
		return err
	}
	s.logger.Info("rules loaded", zap.Int("count", len(rules)))
	return nil
}

// Rules returns the active custom rules.
func (s *Service) Rules() []detection.Rule {
	return s.engine.Rules()
}

// AnalyzeJSON decodes a JSON array (or {"Records": [...]}) and analyzes it.
func (s *Service) AnalyzeJSON(ctx context.Context, data []byte) (*Report, error) {
	records, err := normalize.DecodeRecords(data)
	if err != nil {
		s.metrics.ObserveError(s.source, "invalid_payload")
		return nil, err
	}
	return s.Analyze(ctx, records)
}

// Analyze runs the pipeline over records. Cancellation is checked between stages.
func (s *Service) Analyze(ctx context.Context, records []events.RawRecord) (*Report, error) {
	start := s.now()
	if s.maxRecords > 0 && len(records) > s.maxRecords {
		s.metrics.ObserveError(s.source, "too_many_records")
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecords, len(records), s.maxRecords)
	}

	evs := normalize.Normalize(records)
	indices := highlight.Classify(evs)
	critical := highlight.Critical(evs, indices)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := summarize.Analyze(critical)
	r := &Report{
		ID:              uuid.NewString(),
		CreatedAt:       start.UTC(),
		Events:          evs,
		CriticalIndices: indices,
		Analysis:        a,
		RiskLevel:       events.MaxRisk(highlight.RiskLevelOf(critical), summarize.RiskLevelOf(a)),
	}

	// Escalation paragraphs replace the summary's correlation clause; the single closing
	// banner always names the report's risk level.
	var correlation string
	if s.correlate {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := causal.New(evs)
		r.Edges = g.Edges()
		r.AttackChains = g.AttackChains()
		if esc := g.Escalations(); len(esc) > 0 {
			correlation = strings.Join(esc, " ")
			r.RiskLevel = events.MaxRisk(r.RiskLevel, events.RiskCritical)
		}
	}
	r.Narrative = summarize.NarrativeWith(a, r.RiskLevel, correlation)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.Alerts = s.engine.Alerts(evs)

	elapsed := s.now().Sub(start)
	s.metrics.ObserveAnalysis(metrics.Sample{
		Source:       s.source,
		Risk:         r.RiskLevel,
		Records:      len(records),
		Critical:     len(indices),
		AttackChains: len(r.AttackChains),
		Alerts:       len(r.Alerts),
		Duration:     elapsed,
	})
	s.logger.Debug("analysis complete",
		zap.String("id", r.ID),
		zap.Int("records", len(records)),
		zap.Int("critical", len(indices)),
		zap.Int("attack_chains", len(r.AttackChains)),
		zap.Int("alerts", len(r.Alerts)),
		zap.Stringer("risk", r.RiskLevel),
		zap.Duration("elapsed", elapsed))
	return r, nil
}

// Notable reports whether the result warrants publication to downstream consumers:
// a custom rule fired or the risk is HIGH or above.
func (r *Report) Notable() bool {
	return len(r.Alerts) > 0 || r.RiskLevel >= events.RiskHigh
}
