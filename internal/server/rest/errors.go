package rest

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/server/objectstore"
	"github.com/gin-gonic/gin"
)

// writeError is the one place service errors become HTTP responses.
func (s *Server) writeError(c *gin.Context, err error) {
	var statusErr *objectstore.StatusError

	switch {
	case errors.Is(err, common.ErrorValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation"})
	case errors.Is(err, common.ErrorDuplicate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "duplicate"})
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, common.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "forbidden"})
	case errors.Is(err, common.ErrorStorageUnavailable):
		s.logger.Error(c.Request.Context(), "storage unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable", "code": "storage_unavailable"})
	case errors.Is(err, common.ErrorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"msg": "File not found"})
	case errors.As(err, &statusErr):
		s.logger.Error(c.Request.Context(), "object store error", "error", err)
		status := statusErr.Status
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{"error": http.StatusText(status)})
	default:
		s.logger.Error(c.Request.Context(), "internal error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
