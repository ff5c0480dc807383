package metrics

import (
	"context"
	"time"

	"github.com/annel0/fog-engine/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
)

// BusExporter периодически переносит eventbus.Stats в Prometheus.
// Шина отдаёт накопленные значения, поэтому в Counter добавляется дельта.
type BusExporter struct {
	bus  eventbus.EventBus
	prev eventbus.Stats

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewBusExporter создаёт экспортер и регистрирует метрики в reg (nil означает глобальный реестр)
func NewBusExporter(bus eventbus.EventBus, reg prometheus.Registerer) (*BusExporter, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	be := &BusExporter{
		bus: bus,
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Сообщений в очереди, ещё не доставленных.",
		}),
	}
	for _, c := range []prometheus.Collector{be.published, be.consumed, be.dropped, be.inflight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return be, nil
}

// Sync переносит текущее состояние шины в метрики
func (be *BusExporter) Sync() {
	stats := be.bus.Metrics()
	if d := stats.Published - be.prev.Published; stats.Published > be.prev.Published {
		be.published.Add(float64(d))
	}
	if d := stats.Consumed - be.prev.Consumed; stats.Consumed > be.prev.Consumed {
		be.consumed.Add(float64(d))
	}
	if d := stats.Dropped - be.prev.Dropped; stats.Dropped > be.prev.Dropped {
		be.dropped.Add(float64(d))
	}
	be.inflight.Set(float64(stats.InFlight))
	be.prev = stats
}

// Run вызывает Sync раз в interval до отмены ctx
func (be *BusExporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			be.Sync()
		case <-ctx.Done():
			be.Sync()
			return
		}
	}
}
