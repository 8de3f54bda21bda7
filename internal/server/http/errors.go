package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/errs"
)

// Client-facing messages. Internal details are logged, never returned.
const (
	msgUnauthorized = "Unauthorized"
	msgForbidden    = "Forbidden"
	msgInternal     = "An error has occurred."
)

// errorBody is the uniform error payload.
type errorBody struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Message:   msg,
	})
}

// classify maps domain errors to a status and a message safe to show.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrNotUnique):
		return http.StatusBadRequest, "Username or email address already in use"
	case errors.Is(err, errs.ErrInvalidResetToken):
		return http.StatusBadRequest, "Invalid or expired token"
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, msgForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many attempts, try again later"
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// fail writes the error response. Unclassified errors go to the tracker.
func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
		h.tracker.Report(c.Request.Context(), err, map[string]string{
			"route":  c.FullPath(),
			"method": c.Request.Method,
		})
	}
	abort(c, status, msg)
}
