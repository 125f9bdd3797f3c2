// Package api provides the HTTP control/query surface for the sync engine:
// start/stop/status, root listing and force actions, hierarchy sync,
// statistics, token dashboard, config hot-reload, and ad-hoc story/test-case
// extraction. Grounded in the teacher's gin-based router setup
// (cmd/tarsy/main.go's gin.Default()+health handler) and its Server/NewServer
// shape (pkg/api/handlers.go).
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/papai0709/syncengine/pkg/buildinfo"
	"github.com/papai0709/syncengine/pkg/config"
	"github.com/papai0709/syncengine/pkg/history"
	"github.com/papai0709/syncengine/pkg/scheduler"
	"github.com/papai0709/syncengine/pkg/syncworker"
	"github.com/papai0709/syncengine/pkg/tokens"
)

// Server is the control/query HTTP API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	live      *config.Live
	scheduler *scheduler.Scheduler
	worker    *syncworker.Worker
	tokens    *tokens.Accountant
	history   *history.Store // nil if the history store is disabled

	log *slog.Logger
}

// NewServer wires the gin router. history may be nil when HistoryConfig
// disables the sync history store. The server keeps the reference, but no
// endpoint reads from it.
func NewServer(live *config.Live, sched *scheduler.Scheduler, worker *syncworker.Worker, acct *tokens.Accountant, historyStore *history.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if live.Current().LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:    gin.New(),
		live:      live,
		scheduler: sched,
		worker:    worker,
		tokens:    acct,
		history:   historyStore,
		log:       log,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.engine.Use(securityHeaders())

	s.setupRoutes()
	return s
}

// requestLogger logs each request's method, path, status, and latency via
// slog, in place of gin's default text logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/start", s.startHandler)
	v1.POST("/stop", s.stopHandler)
	v1.GET("/status", s.statusHandler)

	v1.GET("/roots", s.listRootsHandler)
	v1.POST("/roots/:id/force-check", s.forceCheckHandler)
	v1.POST("/roots/:id/force-reextract", s.forceReextractHandler)
	v1.POST("/roots/:id/sync-hierarchy", s.syncHierarchyHandler)
	v1.GET("/hierarchy/status", s.hierarchyStatusHandler)

	v1.GET("/stats", s.statsHandler)
	v1.GET("/tokens/dashboard", s.tokensDashboardHandler)
	v1.POST("/tokens/clear", s.tokensClearHandler)

	v1.PUT("/config", s.putConfigHandler)

	v1.POST("/stories/:id/test-cases", s.storyTestCasesHandler)
	v1.POST("/stories/:id/test-cases/upload", s.storyTestCasesUploadHandler)
	v1.POST("/requirements/:id/stories", s.requirementStoriesHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the server on a pre-created listener, used by
// tests to bind to a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	status := s.scheduler.Status()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   buildinfo.MonitorVersion(),
		Running:   status.Running,
		RootCount: status.RootCount,
	})
}
