package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/fog-engine/internal/display"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/annel0/fog-engine/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// FogView описывает то, что REST читает у fog.System. Все методы безопасны
// для вызова из обработчиков параллельно с циклами.
type FogView interface {
	Geometry() fog.Geometry
	Registered() int
	Stats() fog.Stats
	Snapshot() fog.Snapshot
}

// RestServer обслуживает REST API fogd: состояние тумана, PNG кадра, health и /metrics
type RestServer struct {
	router  *gin.Engine
	view    FogView
	addr    string
	metrics *ServerMetrics
	log     *logging.Logger
	srv     *http.Server
}

// Config содержит конфигурацию REST сервера
type Config struct {
	Addr        string // адрес, по умолчанию ":8088"
	View        FogView
	ServiceName string
	// Registerer/Gatherer для HTTP-метрик и /metrics; nil означает глобальный реестр
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *logging.Logger
}

// GenericResponse описывает общий формат ответа API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CellResponse описывает состояние одной ячейки
type CellResponse struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Count   uint32 `json:"count"`
	Visible bool   `json:"visible"`
	Blocked bool   `json:"blocked"`
	Cycle   uint64 `json:"cycle"`
}

// NewRestServer собирает роутер с observability middleware
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.View == nil {
		return nil, errors.New("api: nil fog view")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fog_api"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetAPILogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.NewRequestLogger(cfg.Logger).Handler())

	promMw, err := middleware.NewPrometheusMiddleware(cfg.ServiceName, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	rs := &RestServer{
		router:  router,
		view:    cfg.View,
		addr:    cfg.Addr,
		metrics: NewServerMetrics(),
		log:     cfg.Logger,
	}
	rs.setupRoutes()
	rs.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return rs, nil
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

func (rs *RestServer) setupRoutes() {
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api/fog")
	{
		api.GET("/stats", rs.handleStats)
		api.GET("/cell/:x/:y", rs.handleCell)
		api.GET("/texture.png", rs.handleTexture)
		api.GET("/server", rs.handleServerInfo)
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cycle":  rs.view.Stats().Cycles,
		"time":   time.Now().Unix(),
	})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	st := rs.view.Stats()
	g := rs.view.Geometry()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: gin.H{
			"cycles":          st.Cycles,
			"records_applied": st.RecordsApplied,
			"deferred_total":  st.DeferredTotal,
			"registered":      rs.view.Registered(),
			"bounds":          g.Bounds,
			"grid_size":       g.GridSize,
			"world_size":      g.WorldSize,
			"last": gin.H{
				"cycle":            st.Last.Cycle,
				"records_applied":  st.Last.RecordsApplied,
				"deferred":         st.Last.Deferred,
				"visible_cells":    st.Last.VisibleCells,
				"underflows":       st.Last.Underflows,
				"visibility_ms":    durationMillis(st.Last.VisibilityDuration),
				"texture_ms":       durationMillis(st.Last.TextureDuration),
				"cycle_ms":         durationMillis(st.Last.CycleDuration),
				"visible_fraction": visibleFraction(st.Last.VisibleCells, g.CellCount()),
			},
		},
	})
}

func (rs *RestServer) handleCell(c *gin.Context) {
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Координаты должны быть целыми"})
		return
	}
	cell := fog.GridCell{X: x, Y: y}
	if !rs.view.Geometry().InBounds(cell) {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Ячейка вне сетки"})
		return
	}

	snap := rs.view.Snapshot()
	if snap.Counts == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Ещё не завершён ни один цикл"})
		return
	}
	blocked, _ := fog.DecodeCell(snap.Image.RGBAAt(x, y))
	count := snap.Value(cell)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "OK",
		Data: CellResponse{
			X: x, Y: y,
			Count:   count,
			Visible: count > 0,
			Blocked: blocked,
			Cycle:   snap.Cycle,
		},
	})
}

// handleTexture отдаёт последний кадр PNG: ?scale=N (1..16), ?raw=1 отдаёт каналы RG как есть
func (rs *RestServer) handleTexture(c *gin.Context) {
	scale, err := strconv.Atoi(c.DefaultQuery("scale", "1"))
	if err != nil || scale < 1 || scale > 16 {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "scale должен быть от 1 до 16"})
		return
	}
	raw := c.Query("raw") == "1" || c.Query("raw") == "true"

	snap := rs.view.Snapshot()
	if snap.Image == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Ещё не завершён ни один цикл"})
		return
	}

	var buf bytes.Buffer
	if err := display.WritePNG(&buf, snap.Image, scale, raw); err != nil {
		rs.log.Error("❌ Ошибка кодирования PNG: %v", err)
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: "Ошибка кодирования PNG"})
		return
	}
	c.Header("X-Fog-Cycle", strconv.FormatUint(snap.Cycle, 10))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (rs *RestServer) handleServerInfo(c *gin.Context) {
	info := gin.H{
		"uptime":  rs.metrics.Uptime(),
		"runtime": rs.metrics.RuntimeStats(),
	}
	if v, err := rs.metrics.CPUPercent(); err == nil {
		info["cpu_percent"] = v
	}
	if v, err := rs.metrics.RSSMegabytes(); err == nil {
		info["rss_mb"] = v
	}
	if v, err := rs.metrics.SystemMemoryPercent(); err == nil {
		info["system_memory_percent"] = v
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сведения о сервере", Data: info})
}

// Start запускает HTTP сервер и блокируется до Shutdown
func (rs *RestServer) Start() error {
	rs.log.Info("🌐 REST API слушает %s", rs.addr)
	if err := rs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно останавливает сервер
func (rs *RestServer) Shutdown(ctx context.Context) error {
	return rs.srv.Shutdown(ctx)
}

func durationMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func visibleFraction(visible, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(visible) / float64(total)
}
