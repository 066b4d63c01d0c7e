package httpd

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/atikulmunna/spindle/internal/accesslog"
)

// Controller starts and stops file servers on behalf of an outer layer
// (CLI, control API). Each Start builds a new Server, so configuration
// changes never touch a running instance.
type Controller struct {
	logOpts []accesslog.Option

	mu  sync.Mutex
	srv *Server
}

// NewController returns a Controller whose servers create their access
// loggers with logOpts.
func NewController(logOpts ...accesslog.Option) *Controller {
	return &Controller{logOpts: logOpts}
}

// Start binds a new server for cfg and serves it in the background. Bind
// failures are returned synchronously as *BindError.
func (c *Controller) Start(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.srv != nil && c.srv.IsRunning() {
		log.Printf("httpd: already running on port %d", c.srv.Config().Port)
		return ErrAlreadyRunning
	}

	srv, err := New(cfg, WithAccessLog(accesslog.New(cfg.LogDirectory, c.logOpts...)))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	c.srv = srv

	go c.serve(srv)
	return nil
}

// serve runs srv's accept loop. ErrServerClosed means Stop got there
// before Serve did, which is a normal exit.
func (c *Controller) serve(srv *Server) {
	if err := srv.Serve(); err != nil && !errors.Is(err, ErrServerClosed) {
		log.Printf("httpd: server on port %d exited: %v", srv.Config().Port, err)
	}
}

// Stop stops the current server, if any. It is idempotent.
func (c *Controller) Stop() {
	if srv := c.current(); srv != nil {
		srv.Stop()
	}
}

// Shutdown stops the current server and waits for its handlers.
func (c *Controller) Shutdown(ctx context.Context) error {
	if srv := c.current(); srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// IsRunning reports whether a server is currently listening.
func (c *Controller) IsRunning() bool {
	srv := c.current()
	return srv != nil && srv.IsRunning()
}

// Server returns the most recently started server, or nil.
func (c *Controller) Server() *Server {
	return c.current()
}

// Config returns the configuration of the most recent server.
func (c *Controller) Config() (Config, bool) {
	srv := c.current()
	if srv == nil {
		return Config{}, false
	}
	return srv.Config(), true
}

// AccessLog returns the most recent server's access logger, or nil.
func (c *Controller) AccessLog() *accesslog.Logger {
	srv := c.current()
	if srv == nil {
		return nil
	}
	return srv.AccessLog()
}

// LoadAccessLogs returns today's lines from the most recent server's log
// directory. It keeps working after Stop so the last session stays visible.
func (c *Controller) LoadAccessLogs() []string {
	srv := c.current()
	if srv == nil {
		return []string{}
	}
	return srv.LoadAccessLogs()
}

func (c *Controller) current() *Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srv
}
