package httpapi

import (
	"context"
	"errors"
	"net/http"

	"rental-platform/internal/lifecycle"
	"rental-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// abortWithError maps lifecycle errors to status codes.
func abortWithError(c *gin.Context, err error) {
	var ve *lifecycle.ValidationError
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &te):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": te.Error(), "from": te.From})
	case errors.Is(err, lifecycle.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "listing not found"})
	case errors.Is(err, lifecycle.ErrPersistenceUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "change applied locally but not persisted", "pending_sync": true})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{"error": "request cancelled"})
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
