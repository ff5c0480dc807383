package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/annel0/fog-engine/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestPrometheusMiddleware_BasicMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	promMw, err := NewPrometheusMiddleware("test", registry)
	require.NoError(t, err)
	r.Use(promMw.Handler())
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/error", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "test"}) })

	assert.Equal(t, http.StatusOK, serve(r, "/ok").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/error").Code)

	families, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Len(t, mf.Metric, 2, "по серии на маршрут")
		case "test_http_request_errors_total":
			errorsFound = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, 1.0, mf.Metric[0].GetCounter().GetValue())
		case "test_http_requests_inflight":
			assert.Equal(t, 0.0, mf.Metric[0].GetGauge().GetValue())
		}
	}
	assert.True(t, durationFound)
	assert.True(t, errorsFound)
}

func TestPrometheusMiddleware_DuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusMiddleware("dup", registry)
	require.NoError(t, err)
	_, err = NewPrometheusMiddleware("dup", registry)
	assert.Error(t, err)
}

func TestPrometheusMiddleware_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	gin.SetMode(gin.TestMode)
	r := gin.New()

	promMw, err := NewPrometheusMiddleware("svc", registry)
	require.NoError(t, err)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r, registry)

	_ = serve(r, "/missing")
	w := serve(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `svc_http_request_errors_total{method="GET",path="unmatched",status="404"} 1`)
}

func TestRequestLogger_SetsTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWriterLogger("api", &buf, logging.DEBUG)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRequestLogger(log).Handler())

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = c.GetString(TraceIDKey)
		c.String(http.StatusOK, "pong")
	})

	w := serve(r, "/ping")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Trace-Id"))
	assert.Contains(t, buf.String(), "[HTTP] ◀ GET /ping 200")
	assert.Contains(t, buf.String(), "trace="+seen)
}
