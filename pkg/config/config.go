// Package config provides the central analyzer configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration shared by the API server, the NATS analyzer and the CLI.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Nats     NatsConfig     `yaml:"nats"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address. Default ":8080".
	Addr string `yaml:"addr"`
	// MaxUploadBytes caps uploaded log files. Default 10 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// CORSOrigins allowed for browser clients. Empty = any origin.
	CORSOrigins []string `yaml:"cors_origins"`
	// ShutdownTimeoutSeconds bounds graceful shutdown. Default 10.
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout"`
}

type NatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"` // e.g. nats://localhost:4222
	// AnalyzeSubject receives raw record batches (request/reply). Default logs.analyze.
	AnalyzeSubject string `yaml:"analyze_subject"`
	// ResultsSubject receives finished reports. Default analysis.results.
	ResultsSubject string `yaml:"results_subject"`
	// ReloadSubject triggers a rule reload. Default analysis.reload.
	ReloadSubject string `yaml:"reload_subject"`
	// QueueGroup load-balances analyzer workers. Default analyzers.
	QueueGroup string `yaml:"queue_group"`
}

type AnalysisConfig struct {
	// Correlate enables the causal graph and its narrative. Default true.
	Correlate *bool `yaml:"correlate"`
	// RulesDir holds Sigma-style YAML rules. Empty = no custom rules.
	RulesDir string `yaml:"rules_dir"`
	// WatchRules reloads RulesDir on change. Default false.
	WatchRules bool `yaml:"watch_rules"`
	// MaxRecords rejects larger batches. 0 = unlimited.
	MaxRecords int `yaml:"max_records"`
}

type OutputConfig struct {
	// File writes reports to a local file (JSON lines).
	File FileOutputConfig `yaml:"file"`
	// Stderr prints report summaries to stderr. Default true when no file/remote/nats.
	Stderr *bool `yaml:"stderr"`
	// Remote forwards reports to a collector.
	Remote RemoteOutputConfig `yaml:"remote"`
	// Nats publishes reports to the results subject.
	Nats bool `yaml:"nats"`
}

type FileOutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RemoteOutputConfig struct {
	Enabled bool `yaml:"enabled"`
	// Address collector address (host:port).
	Address string `yaml:"address"`
	// Protocol "tcp" (plain) or "tls" or "http". Default tcp.
	Protocol string `yaml:"protocol"`
	// HTTPEndpoint used when protocol=http, e.g. "/reports".
	HTTPEndpoint string `yaml:"http_endpoint"`
	// MaxRetries connection retries. Default 5.
	MaxRetries int `yaml:"max_retries"`
	// RetryIntervalSeconds between retries. Default 10.
	RetryIntervalSeconds int `yaml:"retry_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error. Default info.
	Format string `yaml:"format"` // json or console. Default json.
}

// DefaultMaxUploadBytes is the upload limit when none is configured.
const DefaultMaxUploadBytes = 10 << 20

// Load reads config from path. If path is empty, returns default config.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	return c, nil
}

// Default returns default configuration.
func Default() *Config {
	trueVal := true
	return &Config{
		Server: ServerConfig{
			Addr:                   ":8080",
			MaxUploadBytes:         DefaultMaxUploadBytes,
			ShutdownTimeoutSeconds: 10,
		},
		Nats: NatsConfig{
			Enabled:        false,
			URL:            "nats://localhost:4222",
			AnalyzeSubject: "logs.analyze",
			ResultsSubject: "analysis.results",
			ReloadSubject:  "analysis.reload",
			QueueGroup:     "analyzers",
		},
		Analysis: AnalysisConfig{
			Correlate: &trueVal,
		},
		Output: OutputConfig{
			Remote: RemoteOutputConfig{
				Protocol:             "tcp",
				HTTPEndpoint:         "/reports",
				MaxRetries:           5,
				RetryIntervalSeconds: 10,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// CorrelateEnabled returns whether the causal graph runs.
func (c *Config) CorrelateEnabled() bool {
	return c.Analysis.Correlate == nil || *c.Analysis.Correlate
}

// OutputStderrEnabled returns whether to print report summaries to stderr.
func (c *Config) OutputStderrEnabled() bool {
	if c.Output.Stderr == nil {
		return true
	}
	return *c.Output.Stderr
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// Validate returns an error if config is inconsistent (e.g. file enabled but path empty).
func (c *Config) Validate() error {
	if c.Output.File.Enabled && c.Output.File.Path == "" {
		return fmt.Errorf("output.file.enabled is true but output.file.path is empty")
	}
	if c.Output.Remote.Enabled && c.Output.Remote.Address == "" {
		return fmt.Errorf("output.remote.enabled is true but output.remote.address is empty")
	}
	switch c.Output.Remote.Protocol {
	case "tcp", "tls", "http":
	default:
		return fmt.Errorf("output.remote.protocol %q is not one of tcp, tls, http", c.Output.Remote.Protocol)
	}
	if c.Output.Nats && !c.Nats.Enabled {
		return fmt.Errorf("output.nats is true but nats.enabled is false")
	}
	if c.Nats.Enabled && c.Nats.URL == "" {
		return fmt.Errorf("nats.enabled is true but nats.url is empty")
	}
	if c.Analysis.WatchRules && c.Analysis.RulesDir == "" {
		return fmt.Errorf("analysis.watch_rules is true but analysis.rules_dir is empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	return nil
}

// Normalize fills empty defaults and applies environment overrides.
func (c *Config) Normalize() {
	// When file, remote or NATS output is enabled, default stderr to false (no console spam)
	if (c.Output.File.Enabled && c.Output.File.Path != "") || c.Output.Remote.Enabled || c.Output.Nats {
		if c.Output.Stderr == nil {
			falseVal := false
			c.Output.Stderr = &falseVal
		}
	}
	// Production: env overrides config (12-factor, Docker/k8s)
	if u := os.Getenv("NATS_URL"); u != "" {
		c.Nats.URL = u
	}
	if a := os.Getenv("ADDR"); a != "" {
		c.Server.Addr = a
	}
	if l := os.Getenv("LOG_LEVEL"); l != "" {
		c.Logging.Level = l
	}
	if d := os.Getenv("RULES_DIR"); d != "" {
		c.Analysis.RulesDir = d
	}
	if n, err := strconv.ParseInt(os.Getenv("MAX_UPLOAD_BYTES"), 10, 64); err == nil && n > 0 {
		c.Server.MaxUploadBytes = n
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Nats.AnalyzeSubject == "" {
		c.Nats.AnalyzeSubject = "logs.analyze"
	}
	if c.Nats.ResultsSubject == "" {
		c.Nats.ResultsSubject = "analysis.results"
	}
	if c.Nats.ReloadSubject == "" {
		c.Nats.ReloadSubject = "analysis.reload"
	}
	if c.Nats.QueueGroup == "" {
		c.Nats.QueueGroup = "analyzers"
	}
	if c.Output.Remote.Protocol == "" {
		c.Output.Remote.Protocol = "tcp"
	}
	if c.Output.Remote.MaxRetries <= 0 {
		c.Output.Remote.MaxRetries = 5
	}
	if c.Output.Remote.RetryIntervalSeconds <= 0 {
		c.Output.Remote.RetryIntervalSeconds = 10
	}
	if c.Output.Remote.HTTPEndpoint == "" {
		c.Output.Remote.HTTPEndpoint = "/reports"
	}
	c.Output.Remote.Protocol = strings.ToLower(c.Output.Remote.Protocol)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
