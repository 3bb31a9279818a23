// Package api provides the HTTP server for the NutriGraph retrieval
// service. Server wiring lives here; the JSON endpoints are in the v1
// subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

const (
	DefaultListen          = ":8000"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultBodyLimit       = "1M"
)

// Config is the resolved server configuration
type Config struct {
	Listen         string
	AllowedOrigins []string
	BodyLimit      string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	Debug    bool
	LogLevel logger.LogLevel
}

// DefaultConfig returns the configuration used for unset settings
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		AllowedOrigins:  []string{"*"},
		BodyLimit:       DefaultBodyLimit,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        logger.LogLevelInfo,
	}
}

// ConfigFromSettings overlays the server section on DefaultConfig. Zero
// values keep the default, and the global debug flag also turns on server
// debugging.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	srv := settings.Server

	if srv.Listen != "" {
		cfg.Listen = srv.Listen
	}
	if len(srv.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = srv.AllowedOrigins
	}
	if srv.BodyLimit != "" {
		cfg.BodyLimit = srv.BodyLimit
	}
	for _, d := range []struct {
		dst *time.Duration
		src time.Duration
	}{
		{&cfg.ReadTimeout, srv.ReadTimeout},
		{&cfg.WriteTimeout, srv.WriteTimeout},
		{&cfg.ShutdownTimeout, srv.ShutdownTimeout},
	} {
		if d.src > 0 {
			*d.dst = d.src
		}
	}

	if srv.Debug || settings.Debug {
		cfg.Debug = true
		cfg.LogLevel = logger.LogLevelDebug
	}
	return cfg
}

// Validate rejects a listen address that is not host:port and
// non-positive timeouts.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("listen address %q is not host:port: %w", c.Listen, err)
	}
	for name, d := range map[string]time.Duration{
		"read":     c.ReadTimeout,
		"write":    c.WriteTimeout,
		"idle":     c.IdleTimeout,
		"shutdown": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf("listen=%s origins=%v body_limit=%s debug=%v", c.Listen, c.AllowedOrigins, c.BodyLimit, c.Debug)
}
