package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/EternisAI/wg-provisioner/internal/api/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientLifecycle drives provision, listing, retrieval, sweep and decommission through
// the API against whatever registry backend the router was built with.
func TestClientLifecycle(t *testing.T, router *gin.Engine, apiKey string) {
	var provisioned []dto.ClientResponse

	t.Run("provision", func(t *testing.T) {
		for i, plan := range []string{"free", "15d", "30d"} {
			body := dto.ProvisionRequest{Identity: fmt.Sprintf("client%d", i), Plan: plan}
			rr := doJSONWithAPIKey(router, "POST", "/api/v1/clients", body, apiKey)
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

			var resp dto.ProvisionResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, fmt.Sprintf("10.9.0.%d", 2+i), resp.Client.Address)
			assert.True(t, strings.Contains(resp.Config, "Address = "+resp.Client.Address+"/32"))
			assert.NotEmpty(t, resp.QRPNG)
			provisioned = append(provisioned, resp.Client)
		}
	})

	t.Run("duplicate identity", func(t *testing.T) {
		body := dto.ProvisionRequest{Identity: "client0", Plan: "30d"}
		rr := doJSONWithAPIKey(router, "POST", "/api/v1/clients", body, apiKey)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("list", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "GET", "/api/v1/clients", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListClientsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, len(provisioned), resp.Count)

		seenAddr := map[string]bool{}
		seenKey := map[string]bool{}
		for _, c := range resp.Clients {
			assert.False(t, seenAddr[c.Address], "address %s shared", c.Address)
			assert.False(t, seenKey[c.PublicKey], "public key shared")
			seenAddr[c.Address] = true
			seenKey[c.PublicKey] = true
		}
	})

	t.Run("sweep warns once", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "POST", "/api/v1/sweep", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)
		var first dto.SweepResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
		// only the 5 hour free plan is inside a threshold
		assert.Equal(t, 2, first.Warnings)

		rr = doJSONWithAPIKey(router, "POST", "/api/v1/sweep", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)
		var second dto.SweepResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
		assert.Zero(t, second.Warnings)

		rr = doJSONWithAPIKey(router, "GET", "/api/v1/clients/client0", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)
		var c dto.ClientResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
		assert.Equal(t, []int{72, 24}, c.WarningFlags)
	})

	t.Run("decommission", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "DELETE", "/api/v1/clients/client1", nil, apiKey)
		require.Equal(t, http.StatusNoContent, rr.Code)

		rr = doJSONWithAPIKey(router, "GET", "/api/v1/clients/client1/config", nil, apiKey)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		rr = doJSONWithAPIKey(router, "DELETE", "/api/v1/clients/client1", nil, apiKey)
		assert.Equal(t, http.StatusNotFound, rr.Code)

		// the freed address is handed out again
		body := dto.ProvisionRequest{Identity: "client9", Plan: "free"}
		rr = doJSONWithAPIKey(router, "POST", "/api/v1/clients", body, apiKey)
		require.Equal(t, http.StatusCreated, rr.Code)
		var resp dto.ProvisionResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, provisioned[1].Address, resp.Client.Address)
	})

	t.Run("stats", func(t *testing.T) {
		rr := doJSONWithAPIKey(router, "GET", "/api/v1/stats", nil, apiKey)
		require.Equal(t, http.StatusOK, rr.Code)
		var st dto.StatsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
		assert.Equal(t, 3, st.Count)
		assert.Equal(t, map[string]int{"free": 2, "30d": 1}, st.PerPlan)
	})
}
