// Package api implements the version 1 JSON endpoints of the retrieval
// server.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/retrieval"
)

// Retriever answers ingredient queries
type Retriever interface {
	Retrieve(ctx context.Context, text string, k int) ([]retrieval.Match, error)
	RetrieveMany(ctx context.Context, queries []string, k int) (map[string][]retrieval.Match, error)
	ClampK(k int) int
}

// Controller holds the v1 route handlers
type Controller struct {
	Echo      *echo.Echo
	Group     *echo.Group
	retriever Retriever
	logger    logger.Logger
}

// New registers the v1 routes on e under /api/v1
func New(e *echo.Echo, retriever Retriever, log logger.Logger) (*Controller, error) {
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if log == nil {
		log = logger.Global().Module("api")
	}

	c := &Controller{
		Echo:      e,
		Group:     e.Group("/api/v1"),
		retriever: retriever,
		logger:    log,
	}
	c.initRoutes()
	return c, nil
}

func (c *Controller) initRoutes() {
	c.Group.POST("/retrieve", c.Retrieve)
	c.Group.POST("/ingredients/retrieve", c.RetrieveIngredients)
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // matches the X-Request-ID header when one was assigned
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int, correlationID string) *ErrorResponse {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}

	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// HandleError logs err and writes it as an ErrorResponse
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	requestID := ctx.Response().Header().Get(echo.HeaderXRequestID)
	resp := NewErrorResponse(err, message, code, requestID)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.String("path", ctx.Request().URL.Path),
		logger.Int("code", code),
		logger.String("ip", ctx.RealIP()),
	}
	if code >= http.StatusInternalServerError {
		c.logger.Error("API error", fields...)
	} else {
		c.logger.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// handleRetrievalError maps a retrieval failure to its status code
func (c *Controller) handleRetrievalError(ctx echo.Context, err error) error {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return c.HandleError(ctx, err, "Invalid query", http.StatusBadRequest)
	case errors.IsIndexUnavailable(err):
		return c.HandleError(ctx, err, "Vector index unavailable", http.StatusServiceUnavailable)
	case errors.IsEmbeddingFailure(err):
		return c.HandleError(ctx, err, "Embedding service unavailable", http.StatusServiceUnavailable)
	case errors.IsCategory(err, errors.CategoryCancellation):
		return c.HandleError(ctx, err, "Request cancelled", http.StatusServiceUnavailable)
	default:
		return c.HandleError(ctx, err, "Retrieval failed", http.StatusInternalServerError)
	}
}
