package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"scribeserver/internal/models"
)

const userContextKey = "auth_user"

// Middleware resolves the bearer token and stores the user in the context.
// Rejections happen before any handler runs.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.Resolve(c.Request.Context(), s.extractToken(c))
		if err != nil {
			switch {
			case errors.Is(err, ErrMissingCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No token provided"})
			case errors.Is(err, ErrInvalidCredential):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			case errors.Is(err, ErrUserNotFound):
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User not found"})
			default:
				s.logger.Error().Err(err).Msg("authentication failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
			}
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user from the gin context.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := val.(*models.User)
	return user, ok && user != nil
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
