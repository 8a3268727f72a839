package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/EternisAI/wg-provisioner/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader = "X-API-Key"
	OperatorKey  = "operator"
)

// OperatorAuth accepts either the admin API key in X-API-Key or a bearer JWT.
// The configured key may be a bcrypt hash, in which case the header is checked against it.
func OperatorAuth(apiKey string, jwtConfig auth.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" && jwtConfig.Secret == "" {
			slog.Warn("Operator authentication not configured, rejecting request",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Admin API is not configured",
			})
			return
		}

		if providedKey := c.GetHeader(apiKeyHeader); providedKey != "" {
			if apiKey == "" || !matchAPIKey(providedKey, apiKey) {
				slog.Warn("Invalid API key attempt",
					"path", c.Request.URL.Path,
					"client_ip", c.ClientIP())
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid API key",
				})
				return
			}
			c.Set(OperatorKey, "api-key")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		if jwtConfig.Secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer tokens are not accepted"})
			return
		}

		claims, err := auth.ValidateToken(jwtConfig, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			slog.Warn("Invalid bearer token",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != auth.RoleOperator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

func matchAPIKey(provided, configured string) bool {
	if auth.IsBcryptHash(configured) {
		return auth.CheckSecret(provided, configured)
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}
