// Package httpd is a minimal HTTP/1.x file server: one request line per
// connection, GET only, no keep-alive.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atikulmunna/spindle/internal/accesslog"
)

var (
	// ErrAlreadyRunning is returned when starting a server that is listening.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrServerClosed is returned when starting a server after Stop.
	ErrServerClosed = errors.New("server closed")
)

// BindError reports that the listening socket could not be opened.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Server owns the listening socket and dispatches every accepted connection
// to its own goroutine running a Handler.
type Server struct {
	cfg     Config
	addr    string
	root    string
	logs    *accesslog.Logger
	handler *Handler
	slots   chan struct{} // nil when unbounded

	running atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	serving  bool
	closed   bool
	quit     chan struct{}
	done     chan struct{} // closed when the accept loop returns
	active   map[net.Conn]struct{}
	conns    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithAccessLog replaces the default access logger for cfg.LogDirectory.
func WithAccessLog(l *accesslog.Logger) Option {
	return func(s *Server) { s.logs = l }
}

// New validates cfg and prepares a Server. The document root is resolved to
// its canonical form once, here.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	root, err := canonicalRoot(cfg.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		addr:   fmt.Sprintf(":%d", cfg.Port),
		root:   root,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		active: make(map[net.Conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logs == nil {
		s.logs = accesslog.New(cfg.LogDirectory)
	}
	if cfg.MaxConns > 0 {
		s.slots = make(chan struct{}, cfg.MaxConns)
	}
	s.handler = NewHandler(root, s.logs, cfg)
	return s, nil
}

// Config returns the configuration the server was built with.
func (s *Server) Config() Config {
	return s.cfg
}

// Root returns the canonical document root.
func (s *Server) Root() string {
	return s.root
}

// AccessLog returns the logger requests are recorded to.
func (s *Server) AccessLog() *accesslog.Logger {
	return s.logs
}

// IsRunning reports whether the server is listening.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// LoadAccessLogs returns today's access log lines.
func (s *Server) LoadAccessLogs() []string {
	return s.logs.ReadToday()
}

// Listen binds the listening socket. It fails with *BindError when the
// port is unavailable.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrServerClosed
	case s.listener != nil:
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &BindError{Port: s.cfg.Port, Err: err}
	}

	s.listener = ln
	s.running.Store(true)
	log.Printf("httpd: serving %s on %s", s.root, ln.Addr())
	return nil
}

// Start binds and runs the accept loop until Stop. Calling Start on a server
// that is already running logs and returns nil.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			log.Printf("httpd: already running on port %d", s.cfg.Port)
			return nil
		}
		return err
	}
	return s.Serve()
}

// Serve runs the accept loop on a socket opened by Listen. It returns nil
// after Stop, or the accept error that ended the loop.
func (s *Server) Serve() error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrServerClosed
	case s.listener == nil:
		s.mu.Unlock()
		return errors.New("serve called before listen")
	case s.serving:
		s.mu.Unlock()
		log.Printf("httpd: already running on port %d", s.cfg.Port)
		return nil
	}
	s.serving = true
	ln := s.listener
	s.mu.Unlock()

	defer close(s.done)

	var backoff time.Duration
	for {
		if !s.acquire() {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if !s.running.Load() {
				// Listener closed by Stop.
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.running.Store(false)
				return fmt.Errorf("accept: %w", err)
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			log.Printf("httpd: accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.track(conn, true)
		go func() {
			defer s.release()
			defer s.track(conn, false)
			s.handler.Serve(conn)
		}()
	}
}

// acquire takes a worker slot, blocking while MaxConns handlers are busy.
// It returns false once the server is stopping.
func (s *Server) acquire() bool {
	if s.slots == nil {
		return true
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.active[conn] = struct{}{}
		s.conns.Add(1)
		return
	}
	delete(s.active, conn)
	s.conns.Done()
}

// Stop closes the listening socket and waits for the accept loop to exit.
// Handlers already dispatched keep running. Stop is idempotent and safe to
// call from any goroutine.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.running.Store(false)
	close(s.quit)

	ln, serving := s.listener, s.serving
	if ln != nil {
		if err := ln.Close(); err != nil {
			log.Printf("httpd: close listener: %v", err)
		}
	}
	s.mu.Unlock()

	if serving {
		<-s.done
	}
	if ln != nil {
		log.Printf("httpd: stopped listening on port %d", s.cfg.Port)
	}
}

// Shutdown stops accepting and waits for in-flight handlers. When ctx ends
// first, their connections are expired so they finish promptly, and the
// context error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()

	finished := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for conn := range s.active {
		conn.SetDeadline(time.Now())
	}
	s.mu.Unlock()

	<-finished
	return ctx.Err()
}
