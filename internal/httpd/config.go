package httpd

import (
	"errors"
	"fmt"
	"time"
)

// Config describes one file server instance. It is fixed for the lifetime
// of a Server; changing any field means starting a new Server.
type Config struct {
	DocumentRoot string        `json:"documentRoot"`
	LogDirectory string        `json:"logDirectory"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"readTimeout,omitempty"`
	WriteTimeout time.Duration `json:"writeTimeout,omitempty"`
	MaxConns     int           `json:"maxConns,omitempty"` // 0 means unbounded
	Exclude      []string      `json:"exclude,omitempty"`  // globs hidden from listings
}

// Validate reports the first problem with c, if any.
func (c Config) Validate() error {
	if c.DocumentRoot == "" {
		return errors.New("document root is required")
	}
	if c.LogDirectory == "" {
		return errors.New("log directory is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max conns must not be negative, got %d", c.MaxConns)
	}
	return nil
}
