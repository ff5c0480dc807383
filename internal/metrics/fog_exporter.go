// Package metrics публикует метрики тумана войны и шины событий в Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fog"

// FogExporter реализует fog.Recorder: каждый завершённый цикл обновляет
// счётчики и гистограммы длительностей задач.
type FogExporter struct {
	cycles     prometheus.Counter
	records    prometheus.Counter
	deferred   prometheus.Counter
	registered prometheus.Gauge
	visible    prometheus.Gauge
	underflows prometheus.Gauge
	jobSeconds *prometheus.HistogramVec
	cycleTime  prometheus.Histogram
}

// NewFogExporter создаёт метрики и регистрирует их в reg
// (nil означает prometheus.DefaultRegisterer).
func NewFogExporter(reg prometheus.Registerer) (*FogExporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e := &FogExporter{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Число завершённых циклов видимости.",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Записей перемещения, применённых к аккумулятору.",
		}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_deferred_total",
			Help:      "Юнитов, отложенных из-за переполнения пачки.",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_registered",
			Help:      "Зарегистрированных юнитов на конец цикла.",
		}),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_cells",
			Help:      "Видимых ячеек на конец цикла.",
		}),
		underflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "counter_underflows",
			Help:      "Зажатых уменьшений нулевого счётчика (нестрогий режим).",
		}),
		jobSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Длительность фоновых задач цикла.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"job"}),
		cycleTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Длительность цикла от BeginCycle до присоединения задач.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}

	for _, c := range []prometheus.Collector{
		e.cycles, e.records, e.deferred, e.registered, e.visible, e.underflows, e.jobSeconds, e.cycleTime,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// ObserveCycle обновляет метрики по итогам цикла
func (e *FogExporter) ObserveCycle(s fog.CycleStats) {
	e.cycles.Inc()
	e.records.Add(float64(s.RecordsApplied))
	e.deferred.Add(float64(s.Deferred))
	e.registered.Set(float64(s.Registered))
	e.visible.Set(float64(s.VisibleCells))
	e.underflows.Set(float64(s.Underflows))
	e.jobSeconds.WithLabelValues("visibility").Observe(s.VisibilityDuration.Seconds())
	e.jobSeconds.WithLabelValues("texture").Observe(s.TextureDuration.Seconds())
	e.cycleTime.Observe(s.CycleDuration.Seconds())
}

// StartHTTP поднимает /metrics на addr в отдельной горутине и возвращает
// сервер для Shutdown. При gatherer == nil используется глобальный реестр.
func StartHTTP(addr string, gatherer prometheus.Gatherer) *http.Server {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	return srv
}
