// Package control exposes the file server's lifecycle and access logs over
// HTTP for an external UI.
package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
	"github.com/atikulmunna/spindle/internal/aggregator"
	"github.com/atikulmunna/spindle/internal/httpd"
	"github.com/atikulmunna/spindle/internal/hub"
	"github.com/gin-gonic/gin"
)

// Backend is the lifecycle surface the API drives. *httpd.Controller
// implements it.
type Backend interface {
	Start(cfg httpd.Config) error
	Stop()
	IsRunning() bool
	Config() (httpd.Config, bool)
	AccessLog() *accesslog.Logger
	LoadAccessLogs() []string
}

// Server holds the Gin engine and dependencies for the control API.
type Server struct {
	engine     *gin.Engine
	http       *http.Server
	backend    Backend
	defaults   httpd.Config
	hub        *hub.Hub
	aggregator *aggregator.Aggregator
}

// New creates the control API. defaults fill in any field a start request
// leaves out.
func New(b Backend, defaults httpd.Config, h *hub.Hub, agg *aggregator.Aggregator, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	s := &Server{
		engine:     engine,
		backend:    b,
		defaults:   defaults,
		hub:        h,
		aggregator: agg,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"running": s.backend.IsRunning(),
		})
	})

	api := s.engine.Group("/api")
	api.GET("/server", s.handleStatus)
	api.POST("/server/start", s.handleStart)
	api.POST("/server/stop", s.handleStop)
	api.GET("/logs", s.handleLogs)
	api.GET("/logs/days", s.handleDays)
	api.GET("/logs/days/:day", s.handleDay)
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.aggregator.Snapshot())
	})

	s.engine.GET("/ws", s.handleWebSocket)

	// pprof profiling endpoints.
	s.engine.GET("/debug/pprof/", gin.WrapF(pprof.Index))
	s.engine.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
	s.engine.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
	s.engine.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
	s.engine.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	s.engine.GET("/debug/pprof/heap", gin.WrapH(pprof.Handler("heap")))
	s.engine.GET("/debug/pprof/goroutine", gin.WrapH(pprof.Handler("goroutine")))
}

// startRequest mirrors httpd.Config; zero fields fall back to defaults.
type startRequest struct {
	DocumentRoot string   `json:"documentRoot"`
	LogDirectory string   `json:"logDirectory"`
	Port         int      `json:"port"`
	Exclude      []string `json:"exclude"`
}

func (s *Server) handleStatus(c *gin.Context) {
	cfg, ok := s.backend.Config()
	if !ok {
		cfg = s.defaults
	}
	c.JSON(http.StatusOK, gin.H{
		"running": s.backend.IsRunning(),
		"config":  cfg,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cfg := s.defaults
	if req.DocumentRoot != "" {
		cfg.DocumentRoot = req.DocumentRoot
	}
	if req.LogDirectory != "" {
		cfg.LogDirectory = req.LogDirectory
	}
	if req.Port != 0 {
		cfg.Port = req.Port
	}
	if req.Exclude != nil {
		cfg.Exclude = req.Exclude
	}

	var bindErr *httpd.BindError
	switch err := s.backend.Start(cfg); {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"running": true, "config": cfg})
	case errors.Is(err, httpd.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "already running"})
	case errors.As(err, &bindErr):
		c.JSON(http.StatusConflict, gin.H{"error": bindErr.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleStop(c *gin.Context) {
	s.backend.Stop()
	c.JSON(http.StatusOK, gin.H{"running": s.backend.IsRunning()})
}

// handleLogs returns today's lines starting at ?since=N together with the
// cursor to pass next time, so a poller only renders new lines. A cursor
// past the end (the day rolled over) restarts from zero.
func (s *Server) handleLogs(c *gin.Context) {
	lines := s.backend.LoadAccessLogs()

	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil || since < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
		return
	}
	if since > len(lines) {
		since = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"lines": lines[since:],
		"next":  len(lines),
	})
}

func (s *Server) handleDays(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"days": s.accessLog().Days()})
}

func (s *Server) handleDay(c *gin.Context) {
	day, err := time.ParseInLocation(accesslog.DayLayout, c.Param("day"), time.Local)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be formatted as yyyy-mm-dd"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": s.accessLog().ReadDay(day)})
}

// accessLog returns the logger of the latest server, or one for the default
// log directory when nothing has been started yet.
func (s *Server) accessLog() *accesslog.Logger {
	if l := s.backend.AccessLog(); l != nil {
		return l
	}
	return accesslog.New(s.defaults.LogDirectory)
}

// Start runs the API. Blocks until Shutdown.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the API gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
