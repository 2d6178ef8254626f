// Package output exports finished analysis reports to files, stderr, a remote collector and NATS.
package output

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"vertex-audit/pkg/analysis"
)

// Sink delivers one serialized report record.
type Sink interface {
	Send(ctx context.Context, payload []byte) error
}

// ReportRecord is one exported report line.
type ReportRecord struct {
	Host      string           `json:"host"`
	Source    string           `json:"source"`
	Timestamp time.Time        `json:"timestamp"`
	Report    *analysis.Report `json:"report"`
}

// Exporter writes report records to file, stderr, and any number of sinks.
type Exporter struct {
	mu     sync.Mutex
	f      *os.File
	stderr io.Writer
	sinks  []Sink
	host   string
	source string
	logger *zap.Logger
	wg     sync.WaitGroup
}

// ExporterOptions configures file, stderr, sinks, and identity.
type ExporterOptions struct {
	FilePath string
	Stderr   bool
	Sinks    []Sink
	Host     string
	Source   string
	Logger   *zap.Logger
}

// NewExporter creates an exporter from options. All of file/stderr/sinks are optional.
func NewExporter(opts ExporterOptions) (*Exporter, error) {
	e := &Exporter{
		sinks:  opts.Sinks,
		host:   opts.Host,
		source: opts.Source,
		logger: opts.Logger,
	}
	if e.host == "" {
		e.host, _ = os.Hostname()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if opts.Stderr {
		e.stderr = os.Stderr
	}
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		e.f = f
	}
	return e, nil
}

// Enabled reports whether the exporter writes anywhere.
func (e *Exporter) Enabled() bool {
	return e.f != nil || e.stderr != nil || len(e.sinks) > 0
}

// Export appends the report as a JSON line to file/stderr and hands it to every sink.
// Sinks run in the background; Close waits for them.
func (e *Exporter) Export(r *analysis.Report) error {
	line, err := json.Marshal(ReportRecord{
		Host:      e.host,
		Source:    e.source,
		Timestamp: time.Now().UTC(),
		Report:    r,
	})
	if err != nil {
		return err
	}
	lineNL := append(line, '\n')
	e.mu.Lock()
	if e.f != nil {
		if _, err := e.f.Write(lineNL); err != nil {
			e.logger.Warn("report file write failed", zap.Error(err))
		}
	}
	if e.stderr != nil {
		_, _ = e.stderr.Write(lineNL)
	}
	e.mu.Unlock()
	for _, s := range e.sinks {
		e.wg.Add(1)
		go func(s Sink) {
			defer e.wg.Done()
			if err := s.Send(context.Background(), line); err != nil {
				e.logger.Warn("report sink failed", zap.String("report_id", r.ID), zap.Error(err))
			}
		}(s)
	}
	return nil
}

// Close waits for in-flight sinks, then flushes and closes the export file.
func (e *Exporter) Close() error {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f != nil {
		_ = e.f.Sync()
		err := e.f.Close()
		e.f = nil
		return err
	}
	return nil
}
