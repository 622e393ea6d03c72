package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"conversation-service/internal/errs"
)

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindAuthentication:
		return http.StatusUnauthorized
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimit:
		return http.StatusTooManyRequests
	case errs.KindStore:
		if errs.IsTransient(err) {
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": msg}. Store and internal failures are
// logged and their details kept out of the response.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("request_id", requestIDFromContext(c)),
			zap.Error(err))
		msg = "internal error"
		if status == http.StatusServiceUnavailable {
			msg = "temporarily unavailable"
		}
	} else {
		var e *errs.Error
		if errors.As(err, &e) && e.Msg != "" {
			msg = e.Msg
		}
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
