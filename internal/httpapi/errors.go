package httpapi

import (
	"errors"
	"net/http"

	"consult-platform/internal/audit"
	"consult-platform/internal/calls"
	"consult-platform/internal/reporting"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to HTTP responses. Unknown errors are logged
// and reported as 500 without detail.
func writeError(c *gin.Context, err error) {
	var (
		conflict   *calls.ConflictError
		transition *calls.TransitionError
		validation *calls.ValidationError
	)
	switch {
	case errors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":           "scheduling_conflict",
			"message":         conflict.Error(),
			"provider_id":     conflict.ProviderID,
			"conflicting_ids": conflict.ConflictingIDs,
		})
	case errors.As(err, &transition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": transition.Error(),
			"from":    transition.From,
			"to":      transition.To,
		})
	case errors.As(err, &validation):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation", "message": validation.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, calls.ErrRetryable):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "busy", "message": "please retry"})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, audit.ErrPurgeReasonRequired), errors.Is(err, audit.ErrInvalidEntry):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "validation", "message": err.Error()})
	default:
		logger.From(c.Request.Context()).ErrorContext(c.Request.Context(), "request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": msg})
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
}
