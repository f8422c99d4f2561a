package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/ishlearn/internal/common"
	"github.com/dmitrijs2005/ishlearn/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// accessTokenMiddleware accepts the token as a bearer header, as the
// access_token header, or as the token query parameter. The last form is
// for browser websockets, which cannot set headers.
func (s *Server) accessTokenMiddleware(c *gin.Context) {
	accessToken := bearerToken(c.GetHeader("Authorization"))
	if accessToken == "" {
		accessToken = c.GetHeader(common.AccessTokenHeaderName)
	}
	if accessToken == "" {
		accessToken = c.Query(common.AccessTokenQueryName)
	}
	if accessToken == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		s.logger.Debug(c.Request.Context(), "token rejected", "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

func bearerToken(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func principal(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func (s *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	status := c.Writer.Status()
	args := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", status,
		"latency", time.Since(start).String(),
		"client_ip", c.ClientIP(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request", args...)
		return
	}
	s.logger.Info(c.Request.Context(), "request", args...)
}
