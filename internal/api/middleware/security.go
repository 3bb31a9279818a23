package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HSTSMaxAge is one year in seconds
const HSTSMaxAge = 365 * 24 * 60 * 60

// SecurityConfig controls CORS and the response security headers
type SecurityConfig struct {
	AllowedOrigins        []string
	AllowCredentials      bool
	HSTSMaxAge            int
	ContentSecurityPolicy string
}

// DefaultSecurityConfig suits a JSON API that never serves documents:
// any origin, no credentials, and a CSP that forbids loading anything.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins:        []string{"*"},
		HSTSMaxAge:            HSTSMaxAge,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}
}

// NewCORS allows the read and retrieve methods and exposes X-Request-ID so
// browser clients can quote it in bug reports.
func NewCORS(cfg SecurityConfig) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
		ExposeHeaders:    []string{echo.HeaderXRequestID},
		AllowCredentials: cfg.AllowCredentials,
	})
}

// NewSecureHeaders sets nosniff, frame denial, HSTS and the CSP
func NewSecureHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            cfg.HSTSMaxAge,
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
	})
}

// NewBodyLimit rejects request bodies above limit, e.g. "1M"
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}

// NewGzip compresses responses of 2 KiB and more. /metrics negotiates its
// own encoding and is skipped.
func NewGzip() echo.MiddlewareFunc {
	return middleware.GzipWithConfig(middleware.GzipConfig{
		Level:     6,
		MinLength: 2048,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Path(), "/metrics")
		},
	})
}
