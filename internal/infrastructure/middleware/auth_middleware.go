package middleware

import (
	"context"
	"net/http"
	"strings"

	"localmedia/internal/core/services"
	"localmedia/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the authenticated token subject.
const SubjectKey = "subject"

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setSubject(c *gin.Context, subject string) {
	c.Set(SubjectKey, subject)
	ctx := context.WithValue(c.Request.Context(), logger.SubjectKey, subject)
	c.Request = c.Request.WithContext(ctx)
}

func AuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		setSubject(c, claims.Subject)
		c.Next()
	}
}

// OptionalAuthMiddleware records the subject of a valid token but never rejects.
func OptionalAuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := tokens.ValidateToken(token); err == nil {
				setSubject(c, claims.Subject)
			}
		}
		c.Next()
	}
}
