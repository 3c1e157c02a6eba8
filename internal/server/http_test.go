package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"formbase/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer() *HTTPServer {
	gin.SetMode(gin.TestMode)

	log := zap.NewNop()
	base := handler.NewHandler(log)
	return NewHTTPServer(
		viper.New(),
		log,
		handler.NewSyncHandler(base, nil, nil),
		handler.NewSubmissionHandler(base, nil),
		handler.NewInstanceHandler(base, nil, nil),
	)
}

func TestRouting(t *testing.T) {
	t.Run("Should answer the health check", func(t *testing.T) {
		srv := newTestServer()

		rec := httptest.NewRecorder()
		srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Should answer unknown routes with the error envelope", func(t *testing.T) {
		srv := newTestServer()

		rec := httptest.NewRecorder()
		srv.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
		require.Equal(t, http.StatusNotFound, rec.Code)

		var resp struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 404, resp.Code)
		assert.Equal(t, "not found", resp.Message)
	})
}
