// Package api serves the analyzer over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vertex-audit/pkg/analysis"
	"vertex-audit/pkg/config"
	"vertex-audit/pkg/metrics"
	"vertex-audit/pkg/normalize"
	"vertex-audit/pkg/output"
	"vertex-audit/pkg/sigma"
)

var errNoFile = errors.New("no file uploaded")

// Options configures a Server. Service is required.
type Options struct {
	Service        *analysis.Service
	Exporter       *output.Exporter
	Metrics        *metrics.Collector
	Logger         *zap.Logger
	RulesDir       string
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server holds the HTTP handlers.
type Server struct {
	svc       *analysis.Service
	exporter  *output.Exporter
	metrics   *metrics.Collector
	logger    *zap.Logger
	rulesDir  string
	maxUpload int64
	origins   []string
}

// New creates a Server.
func New(opts Options) *Server {
	s := &Server{
		svc:       opts.Service,
		exporter:  opts.Exporter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		rulesDir:  opts.RulesDir,
		maxUpload: opts.MaxUploadBytes,
		origins:   opts.CORSOrigins,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = config.DefaultMaxUploadBytes
	}
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(s.accessLog())

	cc := cors.DefaultConfig()
	if len(s.origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = s.origins
	}
	cc.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	r.Use(cors.New(cc))

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.GET("/health", s.handleHealth)
		v1.GET("/rules", s.handleRules)
	}
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client", c.ClientIP()))
	}
}

func (s *Server) handleAnalyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	data, err := s.readPayload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.metrics.ObserveError("api", "too_large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		case errors.Is(err, errNoFile):
			s.metrics.ObserveError("api", "no_file")
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		default:
			s.metrics.ObserveError("api", "read_failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read upload"})
		}
		return
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		s.metrics.ObserveError("api", "invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON file"})
		return
	}
	records, err := normalize.Unwrap(v)
	if err != nil {
		s.metrics.ObserveError("api", "invalid_payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Payload must be an array"})
		return
	}

	report, err := s.svc.Analyze(c.Request.Context(), records)
	switch {
	case errors.Is(err, analysis.ErrTooManyRecords):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed"})
		return
	}

	if s.exporter != nil && s.exporter.Enabled() {
		if err := s.exporter.Export(report); err != nil {
			s.logger.Warn("report export failed", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, report)
}

// readPayload returns the multipart "file" part, or the raw body for non-multipart requests.
func (s *Server) readPayload(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, errNoFile
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errNoFile
	}
	return data, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
		"rules":  len(s.svc.Rules()),
	})
}

type loadedRule struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Severity string   `json:"severity"`
	Mitre    []string `json:"mitre,omitempty"`
}

func (s *Server) handleRules(c *gin.Context) {
	active := s.svc.Rules()
	loaded := make([]loadedRule, 0, len(active))
	for _, r := range active {
		loaded = append(loaded, loadedRule{ID: r.ID, Name: r.Name, Severity: string(r.Severity), Mitre: r.Mitre})
	}
	files := []sigma.RuleMeta{}
	if s.rulesDir != "" {
		list, err := sigma.ListRuleMeta(s.rulesDir)
		if err != nil {
			s.logger.Warn("list rules failed", zap.String("dir", s.rulesDir), zap.Error(err))
		} else {
			files = list
		}
	}
	c.JSON(http.StatusOK, gin.H{"loaded": loaded, "files": files})
}
