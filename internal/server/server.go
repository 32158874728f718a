// Package server exposes the import orchestrator over HTTP: trigger an
// import, query run status, health and metrics. The generic expense
// CRUD API lives elsewhere; this surface covers only the ingestion
// pipeline.
package server

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mailspend/mailspend/internal/metrics"
	"github.com/mailspend/mailspend/pkg/api"
)

// ImportService is the orchestrator boundary the server calls.
type ImportService interface {
	Run(ctx context.Context, accountID string) (api.RunSummary, error)
	Status(accountID string) api.RunStatus
}

// Server is the HTTP surface of the ingestion pipeline.
type Server struct {
	imports ImportService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a server.
func New(imports ImportService, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{imports: imports, metrics: m, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	apiGroup := r.Group("/api")
	apiGroup.POST("/accounts/:account/import", s.handleImport)
	apiGroup.GET("/accounts/:account/import/status", s.handleStatus)

	return r
}

func (s *Server) handleImport(c *gin.Context) {
	accountID := c.Param("account")
	start := time.Now()

	summary, err := s.imports.Run(c.Request.Context(), accountID)
	if err != nil {
		s.renderImportError(c, accountID, summary, err, time.Since(start))
		return
	}

	s.metrics.ObserveRun(summary, metrics.ResultCompleted, time.Since(start))
	c.JSON(http.StatusOK, summary)
}

func (s *Server) renderImportError(c *gin.Context, accountID string, summary api.RunSummary, err error, elapsed time.Duration) {
	var running *api.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		s.metrics.Imports.WithLabelValues(metrics.ResultRejected).Inc()
		c.JSON(http.StatusConflict, gin.H{
			"error":               "import_unavailable",
			"retry_after_seconds": ceilSeconds(running.CooldownRemaining),
		})

	case errors.Is(err, api.ErrNoCredential):
		s.metrics.ObserveRun(summary, metrics.ResultFailed, elapsed)
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_credential",
			"message": "no mailbox connected for this account",
		})

	case errors.Is(err, api.ErrRevoked):
		s.metrics.ObserveRun(summary, metrics.ResultFailed, elapsed)
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "credential_revoked",
			"message": "mailbox access was revoked, reconnect required",
		})

	case errors.Is(err, api.ErrSourceUnavailable):
		s.metrics.ObserveRun(summary, metrics.ResultFailed, elapsed)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "source_unavailable",
			"message": "mailbox temporarily unavailable, try again later",
		})

	default:
		s.logger.Error("import failed", "account_id", accountID, "error", err)
		s.metrics.ObserveRun(summary, metrics.ResultFailed, elapsed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.imports.Status(c.Param("account"))

	c.JSON(http.StatusOK, gin.H{
		"running":                    status.Running,
		"cooldown_remaining_seconds": ceilSeconds(status.CooldownRemaining),
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
