package validator

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"talenttrade/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRejectsSchemaViolations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewOpenAPIValidator("../../api/openapi.yaml")
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler(), v.Middleware())
	r.GET("/api/exchanges/:id/messages", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := map[string]int{
		"/api/exchanges/ex1/messages":                 http.StatusOK,
		"/api/exchanges/ex1/messages?page=2&limit=20": http.StatusOK,
		"/api/exchanges/ex1/messages?limit=500":       http.StatusBadRequest,
		"/api/exchanges/ex1/messages?page=first":      http.StatusBadRequest,
		"/metrics":                                    http.StatusOK,
	}
	for path, want := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, path)
	}
}

func TestReloadSchema(t *testing.T) {
	v, err := NewOpenAPIValidator("../../api/openapi.yaml")
	require.NoError(t, err)
	assert.NoError(t, v.ReloadSchema())

	_, err = NewOpenAPIValidator("does-not-exist.yaml")
	assert.Error(t, err)
}
