package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"devconnect/logger"
	"devconnect/middleware"
	"devconnect/monitoring"
	"devconnect/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	fallbackAvatar = "https://upload.wikimedia.org/wikipedia/commons/8/89/Portrait_Placeholder.png"
)

// 5xx bodies never carry the wrapped error; driver and upstream text stays in the logs.
var serverErrorText = map[int]string{
	http.StatusInternalServerError: "Internal server error",
	http.StatusServiceUnavailable:  "Service temporarily unavailable",
	http.StatusGatewayTimeout:      "Request timed out",
}

// requestContext bounds driver calls by the request lifetime and the handler timeout.
func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// respondError translates service errors into the JSON error shape. Server-side failures are
// logged and reported with a fixed message.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidID), errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, services.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.Error(err),
		)
		monitoring.CaptureError(err, map[string]string{"path": c.FullPath()})
		c.JSON(status, gin.H{"error": serverErrorText[status]})
		return
	}
	c.JSON(status, gin.H{"error": message(err)})
}

// message strips the sentinel prefix so clients see "poll has ended", not "validation failed: poll has ended".
func message(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{services.ErrValidation, services.ErrForbidden, services.ErrRateLimited, services.ErrConflict} {
		if prefix := sentinel.Error() + ": "; strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string, fallback int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
