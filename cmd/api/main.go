// API: HTTP gateway for log analysis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"vertex-audit/pkg/api"
	"vertex-audit/pkg/app"
	"vertex-audit/pkg/logger"
	"vertex-audit/pkg/metrics"
)

var (
	configPath  = flag.String("config", "", "Path to config YAML. Empty = defaults.")
	showVersion = flag.Bool("version", false, "Print version and exit.")
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println("vertex api", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, *configPath)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

// run serves HTTP until ctx is done or the listener fails, then shuts down gracefully.
func run(ctx context.Context, configPath string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer logger.Sync()
	gin.SetMode(gin.ReleaseMode)

	m := metrics.New()
	svc, err := app.NewService(cfg, "api", m)
	if err != nil {
		return fmt.Errorf("rules %s: %w", cfg.Analysis.RulesDir, err)
	}
	logger.Info("rules: %d loaded from %q", len(svc.Rules()), cfg.Analysis.RulesDir)
	if cfg.Analysis.WatchRules {
		app.WatchRules(ctx, svc, cfg.Analysis.RulesDir)
	}

	nc, err := app.Connect(cfg, "vertex-api")
	if err != nil {
		logger.Warn("nats connect: %v (API will run without NATS)", err)
		nc = nil
	}
	if nc != nil {
		defer nc.Close()
		if cfg.Analysis.RulesDir != "" {
			if sub, err := app.SubscribeReload(nc, cfg.Nats.ReloadSubject, svc, cfg.Analysis.RulesDir); err != nil {
				logger.Warn("%s subscribe: %v", cfg.Nats.ReloadSubject, err)
			} else {
				defer sub.Unsubscribe()
			}
		}
	}

	exp, err := app.NewExporter(cfg, nc, "api")
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	defer exp.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Options{
			Service:        svc,
			Exporter:       exp,
			Metrics:        m,
			Logger:         logger.Named("http"),
			RulesDir:       cfg.Analysis.RulesDir,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			CORSOrigins:    cfg.Server.CORSOrigins,
		}).Router(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api: listening on %s", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("api: shutdown")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
