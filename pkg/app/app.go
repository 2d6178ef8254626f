// Package app wires configuration into the analysis service, rule loading and report export.
// The API server, the NATS analyzer and the CLI share it.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"vertex-audit/pkg/analysis"
	"vertex-audit/pkg/config"
	"vertex-audit/pkg/detection"
	"vertex-audit/pkg/logger"
	"vertex-audit/pkg/metrics"
	"vertex-audit/pkg/output"
	"vertex-audit/pkg/sigma"
)

// LoadConfig loads, normalizes and validates the config, then applies its logging section.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.SetFormat(cfg.Logging.Format); err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

// NewService builds the analysis service and loads the configured rule directory.
// Rule files that fail to compile are skipped with a warning.
func NewService(cfg *config.Config, source string, m *metrics.Collector) (*analysis.Service, error) {
	svc := analysis.New(analysis.Options{
		Correlate:  cfg.CorrelateEnabled(),
		MaxRecords: cfg.Analysis.MaxRecords,
		Source:     source,
		Metrics:    m,
		Logger:     logger.Named(source),
	})
	if cfg.Analysis.RulesDir == "" {
		return svc, nil
	}
	if err := ReloadRules(svc, cfg.Analysis.RulesDir); err != nil {
		return nil, err
	}
	return svc, nil
}

// ReloadRules loads dir into svc. A partially valid directory still replaces the rule set.
func ReloadRules(svc *analysis.Service, dir string) error {
	rules, err := sigma.LoadDir(dir)
	return apply(svc, dir, rules, err)
}

func apply(svc *analysis.Service, dir string, rules []detection.Rule, err error) error {
	var skip *sigma.SkipError
	if err != nil && !errors.As(err, &skip) {
		return err
	}
	if skip != nil {
		logger.Warn("sigma %s: skipped %v: %v", dir, skip.Files, skip.Err)
	}
	return svc.SetRules(rules)
}

// WatchRules reloads the rule directory on file changes until ctx is done.
func WatchRules(ctx context.Context, svc *analysis.Service, dir string) {
	go func() {
		err := sigma.Watch(ctx, dir, func(rules []detection.Rule, err error) {
			if err := apply(svc, dir, rules, err); err != nil {
				logger.Warn("sigma reload %s: %v", dir, err)
				return
			}
			logger.Info("sigma: reloaded %d rules from %s", len(rules), dir)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("sigma watch %s: %v", dir, err)
		}
	}()
}

// SubscribeReload reloads the rule directory whenever a message arrives on subject.
func SubscribeReload(nc *nats.Conn, subject string, svc *analysis.Service, dir string) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(_ *nats.Msg) {
		if err := ReloadRules(svc, dir); err != nil {
			logger.Warn("sigma reload via %s: %v", subject, err)
			return
		}
		logger.Info("sigma: reloaded %d rules via %s", len(svc.Rules()), subject)
	})
}

// Connect opens the NATS connection when enabled. It returns nil, nil when NATS is off.
func Connect(cfg *config.Config, name string) (*nats.Conn, error) {
	if !cfg.Nats.Enabled {
		return nil, nil
	}
	return nats.Connect(cfg.Nats.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected to %s", c.ConnectedUrl())
		}))
}

// NewExporter builds the report exporter from the output section. nc may be nil.
func NewExporter(cfg *config.Config, nc *nats.Conn, source string) (*output.Exporter, error) {
	host, _ := os.Hostname()
	opts := output.ExporterOptions{
		Host:   host,
		Stderr: cfg.OutputStderrEnabled(),
		Source: source,
		Logger: logger.Named("output"),
	}
	if cfg.Output.File.Enabled {
		opts.FilePath = cfg.Output.File.Path
	}
	if r := cfg.Output.Remote; r.Enabled {
		opts.Sinks = append(opts.Sinks, output.NewRemoteOutput(output.RemoteOptions{
			Address:       r.Address,
			Protocol:      r.Protocol,
			HTTPEndpoint:  r.HTTPEndpoint,
			MaxRetries:    r.MaxRetries,
			RetryInterval: time.Duration(r.RetryIntervalSeconds) * time.Second,
			Host:          host,
		}))
	}
	if cfg.Output.Nats && nc != nil {
		opts.Sinks = append(opts.Sinks, output.NewNatsOutput(nc, cfg.Nats.ResultsSubject))
	}
	return output.NewExporter(opts)
}
