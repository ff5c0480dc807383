package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/fog-engine/internal/api"
	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/display"
	"github.com/annel0/fog-engine/internal/eventbus"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/annel0/fog-engine/internal/metrics"
	"github.com/annel0/fog-engine/internal/observability"
	"github.com/annel0/fog-engine/internal/sim"
	"github.com/annel0/fog-engine/internal/storage"
	"github.com/annel0/fog-engine/internal/terrain"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или FOG_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.SetLogDir(cfg.Logging.Dir)
	if err := logging.InitDefaultLogger("fogd"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	level := logging.ParseLevel(cfg.Logging.Level)
	logging.SetDefaultLevel(level, logging.DEBUG)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ fogd завершился с ошибкой: %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
	logging.Info("👋 fogd остановлен")
}

func run(ctx context.Context, cfg *config.Config) error {
	logging.Info("🌫️ Запуск fogd: мир %.0f, ячейка %.2f, юнитов %d", cfg.Fog.WorldSize, cfg.Fog.GridSize, cfg.Simulation.Units)

	// === ТРАССИРОВКА ===
	if cfg.Server.TracingEnabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Server.ServiceName)
		if err != nil {
			logging.Warn("Трассировка отключена: %v", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	// === РЕЛЬЕФ ===
	gen, err := terrain.NewGenerator(cfg.Terrain)
	if err != nil {
		return err
	}
	var mask fog.MaskSource = gen
	var store *storage.MaskStore
	if cfg.Storage.DataPath != "" {
		store, err = storage.OpenMaskStore(cfg.Storage.DataPath)
		if err != nil {
			return err
		}
		defer store.Close()
		mask = storage.PersistentMask{Store: store, Key: cfg.Storage.MaskKey, Fallback: gen}
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		js, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, time.Duration(cfg.EventBus.Retention)*time.Hour)
		if err != nil {
			return err
		}
		bus = js
		logging.Info("📨 JetStream шина подключена: %s (stream=%s)", cfg.EventBus.URL, cfg.EventBus.Stream)
	} else {
		bus = eventbus.NewMemoryBus(cfg.EventBus.Buffer)
		logging.Info("📨 Используется in-memory шина (буфер %d)", cfg.EventBus.Buffer)
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus, logging.GetBusLogger()); err != nil {
		return err
	}

	// === ОТОБРАЖЕНИЕ ===
	codec, err := display.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	sinks := display.Multi{display.NewBusPublisher(bus, codec, cfg.Server.ServiceName)}
	if cfg.Redis.Addr != "" {
		client, err := display.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		sinks = append(sinks, display.NewRedisSink(client, codec, cfg.Redis))
		logging.Info("🟥 Кадры дублируются в Redis %s", cfg.Redis.Addr)
	}

	// === МЕТРИКИ ===
	fogExporter, err := metrics.NewFogExporter(nil)
	if err != nil {
		return err
	}
	busExporter, err := metrics.NewBusExporter(bus, nil)
	if err != nil {
		return err
	}
	go busExporter.Run(ctx, time.Second)
	metricsSrv := metrics.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()), nil)

	// === ТУМАН ===
	sys, err := fog.NewSystem(cfg.Fog, mask, sinks, fog.WithRecorder(fogExporter))
	if err != nil {
		return err
	}

	pop := sim.NewPopulation(cfg.Simulation, cfg.Fog.WorldSize, sys)
	if err := pop.Spawn(cfg.Simulation.Units); err != nil {
		_ = sys.Close()
		return err
	}

	// === REST API ===
	rest, err := api.NewRestServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		View:        sys,
		ServiceName: "fog_api",
	})
	if err != nil {
		_ = sys.Close()
		return err
	}
	go func() {
		if err := rest.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
		}
	}()

	loopErr := tickLoop(ctx, cfg.Fog, sys, pop)

	// === ОСТАНОВКА ===
	logging.Info("🛑 Остановка fogd...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rest.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Ошибка остановки REST API: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Ошибка остановки /metrics: %v", err)
	}

	closeErr := sys.Close()
	if store != nil {
		if snap := sys.Snapshot(); snap.Counts != nil {
			if err := store.SaveSnapshot(cfg.Storage.MaskKey, snap); err != nil {
				logging.Warn("Снимок тумана не сохранён: %v", err)
			} else {
				logging.Info("💾 Снимок цикла %d сохранён", snap.Cycle)
			}
		}
	}
	return errors.Join(loopErr, closeErr)
}

// tickLoop двигает популяцию и прогоняет цикл тумана каждые TickMillis
func tickLoop(ctx context.Context, cfg config.FogConfig, sys *fog.System, pop *sim.Population) error {
	tick := time.Duration(cfg.TickMillis) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	tracer := observability.NewCycleTracer()
	var cycle uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := pop.Step(tick.Seconds()); err != nil {
			return err
		}
		cycle++
		err := tracer.Trace(ctx, cycle, sys.Update)
		switch {
		case err == nil:
		case errors.Is(err, fog.ErrCounterUnderflow):
			// Нарушен инвариант счётчиков: дальнейшие кадры недостоверны
			return err
		default:
			logging.Warn("Цикл %d: %v", cycle, err)
		}

		if cycle%100 == 0 {
			st := sys.Stats().Last
			logging.Debug("📊 Цикл %d: записей %d, отложено %d, видимо %d ячеек, %s",
				st.Cycle, st.RecordsApplied, st.Deferred, st.VisibleCells, st.CycleDuration)
		}
	}
}
