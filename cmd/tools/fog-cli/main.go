package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/display"
	"github.com/annel0/fog-engine/internal/eventbus"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/annel0/fog-engine/internal/sim"
	"github.com/annel0/fog-engine/internal/storage"
	"github.com/annel0/fog-engine/internal/terrain"
)

func main() {
	var (
		command    = flag.String("cmd", "render", "Команда: render, snapshot, tail")
		configPath = flag.String("config", "", "YAML конфигурация (или FOG_CONFIG)")
		out        = flag.String("out", "fog.png", "Файл PNG для render/snapshot")
		cycles     = flag.Int("cycles", 50, "Число циклов для render")
		scale      = flag.Int("scale", 4, "Пикселей на ячейку")
		raw        = flag.Bool("raw", false, "Писать каналы RG без перекраски")
		natsURL    = flag.String("nats", "nats://127.0.0.1:4222", "NATS для tail")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	logging.SetLogDir("")
	logging.SetDefaultLevel(logging.WARN, logging.WARN)

	switch *command {
	case "render":
		err = render(cfg, *cycles, *out, *scale, *raw)
	case "snapshot":
		err = renderSnapshot(cfg, *out, *scale, *raw)
	case "tail":
		err = tail(cfg, *natsURL)
	default:
		err = fmt.Errorf("неизвестная команда %q", *command)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// render прогоняет симуляцию без сети и сохраняет последний кадр
func render(cfg *config.Config, cycles int, out string, scale int, raw bool) error {
	gen, err := terrain.NewGenerator(cfg.Terrain)
	if err != nil {
		return err
	}
	sys, err := fog.NewSystem(cfg.Fog, gen, nil)
	if err != nil {
		return err
	}
	defer sys.Close()

	pop := sim.NewPopulation(cfg.Simulation, cfg.Fog.WorldSize, sys)
	if err := pop.Spawn(cfg.Simulation.Units); err != nil {
		return err
	}

	dt := float64(cfg.Fog.TickMillis) / 1000
	start := time.Now()
	for i := 0; i < cycles; i++ {
		if err := pop.Step(dt); err != nil {
			return err
		}
		if err := sys.Update(context.Background()); err != nil {
			return err
		}
	}
	st := sys.Stats()
	fmt.Printf("🌫️ %d циклов за %s: видимо %d ячеек из %d, отложено всего %d\n",
		st.Cycles, time.Since(start).Round(time.Millisecond), st.Last.VisibleCells, sys.Geometry().CellCount(), st.DeferredTotal)

	return writePNG(out, sys.Snapshot().Image, scale, raw)
}

// renderSnapshot рисует снимок, сохранённый fogd при остановке
func renderSnapshot(cfg *config.Config, out string, scale int, raw bool) error {
	if cfg.Storage.DataPath == "" {
		return fmt.Errorf("storage.data_path не задан")
	}
	store, err := storage.OpenMaskStore(cfg.Storage.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(cfg.Storage.MaskKey)
	if err != nil {
		return err
	}
	mask, err := store.LoadMask(cfg.Storage.MaskKey, snap.Bounds)
	if err != nil {
		mask = nil // без маски рисуем только видимость
	}

	g, err := fog.NewGeometry(float64(snap.Bounds), 1)
	if err != nil {
		return err
	}
	tex := fog.NewTexture(g)
	visible := fog.EncodeRows(snap.Counts, mask, tex, snap.Bounds, 0, snap.Bounds)
	fmt.Printf("💾 Снимок цикла %d: %dx%d, видимо %d ячеек\n", snap.Cycle, snap.Bounds, snap.Bounds, visible)

	return writePNG(out, tex, scale, raw)
}

// tail печатает кадры, приходящие из JetStream
func tail(cfg *config.Config, url string) error {
	bus, err := eventbus.NewJetStreamBus(url, cfg.EventBus.Stream, time.Duration(cfg.EventBus.Retention)*time.Hour)
	if err != nil {
		return err
	}
	defer bus.Close()

	codec, err := display.NewCodec()
	if err != nil {
		return err
	}
	defer codec.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{display.EventTypeFrame}}, func(_ context.Context, ev *eventbus.Envelope) {
		frame, err := codec.Decode(ev.Payload)
		if err != nil {
			fmt.Printf("⚠️ %s: %v\n", ev.ID, err)
			return
		}
		fmt.Printf("%s cycle=%d bounds=%d visible=%d size=%dB src=%s\n",
			frame.Timestamp.Format(time.RFC3339), frame.Cycle, frame.Bounds, frame.VisibleCells, len(ev.Payload), ev.Source)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}

func writePNG(path string, tex *image.RGBA, scale int, raw bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := display.WritePNG(f, tex, scale, raw); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("🖼️ %s записан\n", path)
	return nil
}
