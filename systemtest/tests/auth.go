package tests

import (
	"net/http"
	"testing"

	"github.com/EternisAI/wg-provisioner/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestOperatorAuth(t *testing.T, router *gin.Engine, apiKey string, jwtConfig auth.Config) {
	t.Run("401 without credentials", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/clients", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("401 with wrong key", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "GET", "/api/v1/clients", nil, apiKey+"x")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("api key", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "GET", "/api/v1/plans", nil, apiKey)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		token, err := auth.GenerateToken(jwtConfig, "ops", auth.RoleOperator)
		require.NoError(t, err)

		rr := doJSONWithAuth(router, "GET", "/api/v1/stats", nil, token)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}
