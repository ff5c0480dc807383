package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/annel0/fog-engine/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUnit struct {
	pos    vec.Vec2Float
	radius int
}

func (u staticUnit) Position() vec.Vec2Float { return u.pos }
func (u staticUnit) VisionRadius() int      { return u.radius }

type maskFunc func(bounds int) ([]bool, error)

func (f maskFunc) BlockedMask(bounds int) ([]bool, error) { return f(bounds) }

func newTestServer(t *testing.T, runCycle bool) (*RestServer, *fog.System) {
	t.Helper()
	cfg := config.FogConfig{WorldSize: 64, GridSize: 4, MaxUnitsPerCycle: 16, Workers: 2, StrictInvariants: true}
	mask := maskFunc(func(bounds int) ([]bool, error) {
		m := make([]bool, bounds*bounds)
		m[8*bounds+9] = true // (9, 8)
		return m, nil
	})
	sys, err := fog.NewSystem(cfg, mask, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	if runCycle {
		g := sys.Geometry()
		_, err = sys.Register(staticUnit{pos: g.CellCenter(fog.GridCell{X: 8, Y: 8}), radius: 2})
		require.NoError(t, err)
		require.NoError(t, sys.Update(context.Background()))
	}

	reg := prometheus.NewRegistry()
	rs, err := NewRestServer(Config{
		View:       sys,
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logging.NewWriterLogger("api", io.Discard, logging.ERROR),
	})
	require.NoError(t, err)
	return rs, sys
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) GenericResponse {
	t.Helper()
	var resp GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	rs, _ := newTestServer(t, true)
	w := get(t, rs.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
}

func TestStats(t *testing.T) {
	rs, _ := newTestServer(t, true)
	w := get(t, rs.Handler(), "/api/fog/stats")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 1.0, data["cycles"])
	assert.Equal(t, 1.0, data["registered"])
	assert.Equal(t, 16.0, data["bounds"])
	last := data["last"].(map[string]interface{})
	assert.Equal(t, 13.0, last["visible_cells"])
}

func TestCell(t *testing.T) {
	rs, _ := newTestServer(t, true)

	w := get(t, rs.Handler(), "/api/fog/cell/9/8")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data CellResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CellResponse{X: 9, Y: 8, Count: 1, Visible: true, Blocked: true, Cycle: 1}, body.Data)

	w = get(t, rs.Handler(), "/api/fog/cell/0/0")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Data.Visible)

	assert.Equal(t, http.StatusBadRequest, get(t, rs.Handler(), "/api/fog/cell/a/1").Code)
	assert.Equal(t, http.StatusNotFound, get(t, rs.Handler(), "/api/fog/cell/16/0").Code)
	assert.Equal(t, http.StatusNotFound, get(t, rs.Handler(), "/api/fog/cell/-1/0").Code)
}

func TestCellBeforeFirstCycle(t *testing.T) {
	rs, _ := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rs.Handler(), "/api/fog/cell/1/1").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, rs.Handler(), "/api/fog/texture.png").Code)
}

func TestTexturePNG(t *testing.T) {
	rs, _ := newTestServer(t, true)

	w := get(t, rs.Handler(), "/api/fog/texture.png?raw=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Fog-Cycle"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	r, g, _, _ := img.At(9, 8).RGBA()
	assert.Equal(t, uint32(0xFFFF), r, "заблокирована")
	assert.Equal(t, uint32(0xFFFF), g, "видима")

	w = get(t, rs.Handler(), "/api/fog/texture.png?scale=4")
	require.Equal(t, http.StatusOK, w.Code)
	img, err = png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	assert.Equal(t, http.StatusBadRequest, get(t, rs.Handler(), "/api/fog/texture.png?scale=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, rs.Handler(), "/api/fog/texture.png?scale=abc").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rs, _ := newTestServer(t, true)
	_ = get(t, rs.Handler(), "/health")
	_ = get(t, rs.Handler(), "/nope")

	w := get(t, rs.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "fog_api_http_request_duration_seconds")
	assert.True(t, strings.Contains(body, `fog_api_http_request_errors_total{method="GET",path="unmatched",status="404"} 1`))
}

func TestServerInfo(t *testing.T) {
	rs, _ := newTestServer(t, true)
	w := get(t, rs.Handler(), "/api/fog/server")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Contains(t, data, "uptime")
	assert.Contains(t, data, "runtime")
}

func TestNewRestServer_RequiresView(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5с", formatUptime(5*time.Second))
	assert.Equal(t, "2м 5с", formatUptime(2*time.Minute+5*time.Second))
	assert.Equal(t, "1ч 0м 0с", formatUptime(time.Hour))
	assert.Equal(t, "1д 1ч 0м 1с", formatUptime(25*time.Hour+time.Second))
}

func TestStartShutdown(t *testing.T) {
	rs, _ := newTestServer(t, true)
	rs.srv.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- rs.Start() }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rs.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start не вернулся после Shutdown")
	}
}
