// Package server runs the local management API: dry-run classification,
// policy inspection and the audit log.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BakeLens/shellgate/internal/api"
	"github.com/BakeLens/shellgate/internal/logger"
	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/telemetry"
)

var log = logger.New("server")

// Options wires the API to the rest of the gate.
type Options struct {
	Engine     *rules.Engine
	Classifier *rules.Classifier
	// Storage may be nil when the audit log is disabled; the log routes are
	// then not registered.
	Storage *telemetry.Storage
	Agent   string
	Version string
}

// APIServer handles HTTP API requests
type APIServer struct {
	opts    Options
	started time.Time
	router  *gin.Engine
}

// NewAPIServer creates a new API server
func NewAPIServer(opts Options) *APIServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(api.LoopbackOnlyMiddleware())
	router.Use(api.RequestLogMiddleware())
	router.Use(api.SecurityHeadersMiddleware())
	router.Use(api.BodySizeLimitMiddleware(api.MaxBodySize))

	s := &APIServer{opts: opts, started: time.Now(), router: router}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler for the API
func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")
	apiGroup.GET("/status", s.handleStatus)

	rules.NewAPIHandler(s.opts.Engine, s.opts.Classifier, s.opts.Agent).RegisterRoutes(apiGroup)

	if s.opts.Storage != nil {
		telemetry.NewAPIHandler(s.opts.Storage).RegisterRoutes(apiGroup)
	} else {
		log.Debug("Audit log disabled, /api/logs not registered")
	}
}

// handleHealth handles GET /health
func (s *APIServer) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleStatus handles GET /api/status
func (s *APIServer) handleStatus(c *gin.Context) {
	encrypted := false
	if s.opts.Storage != nil {
		encrypted = s.opts.Storage.IsEncrypted()
	}
	api.Success(c, gin.H{
		"version":         s.opts.Version,
		"agent":           s.opts.Agent,
		"policy_files":    len(s.opts.Engine.Files()),
		"rules_count":     s.opts.Engine.RuleCount(),
		"audit_enabled":   s.opts.Storage != nil,
		"audit_encrypted": encrypted,
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}
