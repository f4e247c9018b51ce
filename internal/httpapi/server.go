// Package httpapi exposes the service's HTTP surface: the checker's
// submit/status endpoints, the debugger's websocket upgrade, liveness
// and Prometheus scrape routes.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cppjudge/internal/catalog"
	"cppjudge/internal/checker"
	"cppjudge/internal/config"
	"cppjudge/internal/events"
	"cppjudge/internal/logging"
	"cppjudge/internal/metrics"
	"cppjudge/internal/middleware"
	"cppjudge/internal/resultstore"
)

// maxSubmissionBytes caps the size of a submitted source file.
const maxSubmissionBytes = 256 * 1024

// Server is the HTTP front of the service.
type Server struct {
	engine      *gin.Engine
	checks      *checker.Checker
	problems    checker.ProblemSource
	results     resultstore.Store
	receivedDir string
}

// NewServer assembles the gin engine with the full middleware chain
// and routes.
func NewServer(
	checks *checker.Checker,
	problems checker.ProblemSource,
	results resultstore.Store,
	debugEvents *events.Handler,
	m *metrics.Metrics,
	receivedDir string,
) *Server {
	if config.IsProductionEnvironment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:      gin.New(),
		checks:      checks,
		problems:    problems,
		results:     results,
		receivedDir: receivedDir,
	}

	limiter := middleware.NewIPRateLimiter(120, 20)
	s.engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Security(),
		middleware.CORS(),
		metrics.Middleware(m),
	)

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/debugger", limiter.Middleware(), debugEvents.Serve)

	chk := s.engine.Group("/checker", limiter.Middleware())
	chk.POST("/submit", s.submit)
	chk.GET("/status/:authorization", s.status)

	return s
}

// Engine exposes the underlying router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves on addr until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// submit accepts a C++ source body with a Problem header, queues the
// check, and returns the submission token.
func (s *Server) submit(c *gin.Context) {
	problemHeader := c.GetHeader("Problem")
	problemID, err := strconv.Atoi(problemHeader)
	if err != nil || problemID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "Problem header must be a positive integer"})
		return
	}

	if _, err := s.problems.PackPath(problemID); err != nil {
		if errors.Is(err, catalog.ErrProblemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "invalid problem id"})
			return
		}
		logging.L().Error("resolve problem", zap.Int("problem", problemID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "internal error"})
		return
	}

	source, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmissionBytes+1))
	if err != nil || len(source) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "request body must be C++ source"})
		return
	}
	if len(source) > maxSubmissionBytes {
		c.JSON(http.StatusBadRequest, gin.H{"status": "source too large"})
		return
	}

	token := uuid.NewString()
	srcPath := filepath.Join(s.receivedDir, token+".cpp")
	if err := os.WriteFile(srcPath, source, 0o644); err != nil {
		logging.L().Error("write submission source", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "internal error"})
		return
	}

	s.checks.PushCheck(srcPath, problemID, token, nil)
	c.JSON(http.StatusAccepted, gin.H{
		"status":        "queued",
		"authorization": token,
	})
}

// status returns the outcome for a submission token. Anything other
// than the unauthorized outcome is consumed by this read.
func (s *Server) status(c *gin.Context) {
	token := c.Param("authorization")
	outcome := s.results.Consume(c.Request.Context(), token)
	c.JSON(http.StatusOK, outcome)
}
