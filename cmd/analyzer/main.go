// Analyzer: consumes raw record batches from NATS, runs the pipeline, replies with the report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"vertex-audit/pkg/analysis"
	"vertex-audit/pkg/app"
	"vertex-audit/pkg/logger"
	"vertex-audit/pkg/metrics"
	"vertex-audit/pkg/output"
)

var (
	configPath  = flag.String("config", "", "Path to config YAML. Empty = defaults.")
	metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address. Empty = off.")
	timeout     = flag.Duration("timeout", 30*time.Second, "Per-batch analysis timeout.")
	showVersion = flag.Bool("version", false, "Print version and exit.")
)

var version = "0.1.0"

type options struct {
	configPath  string
	metricsAddr string
	timeout     time.Duration
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("vertex analyzer", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, options{configPath: *configPath, metricsAddr: *metricsAddr, timeout: *timeout})
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyzer: %v\n", err)
		os.Exit(1)
	}
}

// run serves analysis requests until ctx is done. Every resource it opens is released
// before it returns.
func run(ctx context.Context, opts options) error {
	cfg, err := app.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer logger.Sync()
	cfg.Nats.Enabled = true

	m := metrics.New()
	svc, err := app.NewService(cfg, "nats", m)
	if err != nil {
		return fmt.Errorf("rules %s: %w", cfg.Analysis.RulesDir, err)
	}
	if cfg.Analysis.WatchRules {
		app.WatchRules(ctx, svc, cfg.Analysis.RulesDir)
	}

	nc, err := app.Connect(cfg, "vertex-analyzer")
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", cfg.Nats.URL, err)
	}
	defer nc.Drain()

	// Notable reports go to the results subject below, so the exporter gets no NATS sink.
	exp, err := app.NewExporter(cfg, nil, "nats")
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	defer exp.Close()
	results := output.NewNatsOutput(nc, cfg.Nats.ResultsSubject)

	if cfg.Analysis.RulesDir != "" {
		if _, err := app.SubscribeReload(nc, cfg.Nats.ReloadSubject, svc, cfg.Analysis.RulesDir); err != nil {
			logger.Warn("%s subscribe: %v", cfg.Nats.ReloadSubject, err)
		}
	}

	_, err = nc.QueueSubscribe(cfg.Nats.AnalyzeSubject, cfg.Nats.QueueGroup, func(msg *nats.Msg) {
		actx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		report, err := svc.AnalyzeJSON(actx, msg.Data)
		if err != nil {
			logger.Warn("analyze %s: %v", msg.Subject, err)
			reply(msg, map[string]string{"error": err.Error()})
			return
		}
		reply(msg, report)
		if exp.Enabled() {
			if err := exp.Export(report); err != nil {
				logger.Warn("export %s: %v", report.ID, err)
			}
		}
		if report.Notable() {
			publish(actx, results, report)
		}
		logger.Info("analyzed %d records: risk=%s chains=%d alerts=%d", len(report.Events), report.RiskLevel, len(report.AttackChains), len(report.Alerts))
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", cfg.Nats.AnalyzeSubject, err)
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics: %v", err)
			}
		}()
		defer srv.Close()
	}

	logger.Info("analyzer: listening on %s (queue %s)", cfg.Nats.AnalyzeSubject, cfg.Nats.QueueGroup)
	<-ctx.Done()
	logger.Info("analyzer: shutdown")
	return nil
}

func reply(msg *nats.Msg, v interface{}) {
	if msg.Reply == "" {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal reply: %v", err)
		return
	}
	if err := msg.Respond(b); err != nil {
		logger.Warn("reply: %v", err)
	}
}

func publish(ctx context.Context, out *output.NatsOutput, r *analysis.Report) {
	b, err := json.Marshal(r)
	if err != nil {
		logger.Error("marshal report: %v", err)
		return
	}
	if err := out.Send(ctx, b); err != nil {
		logger.Warn("publish %s: %v", r.ID, err)
	}
}
