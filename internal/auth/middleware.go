package auth

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

var bearerPattern = regexp.MustCompile(`(?i)^Bearer\s+(.+)$`)

// Middleware rejects requests that do not carry a valid admin token.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" || !s.VerifyToken(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized or token expired"})
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the request carries a valid admin token,
// without rejecting it. Used to widen response fields for admins on
// otherwise public routes.
func (s *Service) IsAdmin(c *gin.Context) bool {
	token := extractToken(c)
	return token != "" && s.VerifyToken(token)
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	if m := bearerPattern.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
