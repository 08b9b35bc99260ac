package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/latzu/latzu-edge/pkg/events"
	"github.com/latzu/latzu-edge/pkg/services"
)

// HTTPError is an error response with its status code.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return &HTTPError{Code: http.StatusBadRequest, Message: validErr.Error()}
	}
	if errors.Is(err, services.ErrNotFound) {
		return &HTTPError{Code: http.StatusNotFound, Message: "resource not found"}
	}
	if errors.Is(err, events.ErrUnknownPushType) {
		return &HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	if errors.Is(err, events.ErrPayloadTooLarge) {
		return &HTTPError{Code: http.StatusRequestEntityTooLarge, Message: "push payload too large"}
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return &HTTPError{Code: http.StatusInternalServerError, Message: "internal server error"}
}

// abortWithError writes the error body {"error": message} and stops the chain.
func abortWithError(c *gin.Context, err *HTTPError) {
	c.AbortWithStatusJSON(err.Code, ErrorResponse{Error: err.Message})
}
