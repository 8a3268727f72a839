package tests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
)

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return doJSONWithHeaders(router, method, path, body, nil)
}

func doJSONWithAPIKey(router *gin.Engine, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	return doJSONWithHeaders(router, method, path, body, map[string]string{"X-API-Key": apiKey})
}

func doJSONWithAuth(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	return doJSONWithHeaders(router, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

func doJSONWithHeaders(router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
