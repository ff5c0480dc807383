package fog

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/jobs"
	"github.com/annel0/fog-engine/internal/logging"
)

var (
	// ErrClosed возвращается после Close
	ErrClosed = errors.New("fog: system closed")
	// ErrCycleInFlight возвращается при BeginCycle до завершения предыдущего цикла
	ErrCycleInFlight = errors.New("fog: cycle already in flight")
	// ErrNoCycle возвращается при EndCycle без BeginCycle
	ErrNoCycle = errors.New("fog: no cycle in flight")
)

// MaskSource поставляет маску заблокированных ячеек (рельеф/постройки),
// индексированную так же, как аккумулятор.
type MaskSource interface {
	BlockedMask(bounds int) ([]bool, error)
}

// Frame содержит закодированный кадр тумана. Image переиспользуется в следующем
// цикле: Display не должен хранить его после возврата из Present.
type Frame struct {
	Cycle        uint64
	Bounds       int
	Image        *image.RGBA
	VisibleCells int
	Timestamp    time.Time
}

// Display получает кадр после присоединения задачи кодирования
type Display interface {
	Present(ctx context.Context, frame Frame) error
}

// CycleStats итоги одного цикла
type CycleStats struct {
	Cycle              uint64
	Registered         int
	RecordsApplied     int
	Deferred           int
	VisibleCells       int
	Underflows         uint64
	VisibilityDuration time.Duration
	TextureDuration    time.Duration
	CycleDuration      time.Duration
}

// Recorder принимает статистику циклов (метрики)
type Recorder interface {
	ObserveCycle(s CycleStats)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(CycleStats) {}

// Stats накопленная статистика системы
type Stats struct {
	Cycles         uint64
	RecordsApplied uint64
	DeferredTotal  uint64
	Last           CycleStats
}

// Snapshot хранит копию состояния на конец последнего цикла для читателей из других горутин
type Snapshot struct {
	Cycle  uint64
	Bounds int
	Counts []uint32
	Image  *image.RGBA
}

// Value возвращает счётчик ячейки из снимка
func (s Snapshot) Value(c GridCell) uint32 {
	if c.X < 0 || c.Y < 0 || c.X >= s.Bounds || c.Y >= s.Bounds || s.Counts == nil {
		return 0
	}
	return s.Counts[c.Y*s.Bounds+c.X]
}

// Option настраивает System
type Option func(*System)

// WithRecorder подключает приёмник метрик
func WithRecorder(r Recorder) Option {
	return func(s *System) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithScheduler подменяет планировщик (по умолчанию создаётся свой на cfg.Workers)
func WithScheduler(sched *jobs.Scheduler) Option {
	return func(s *System) {
		if sched != nil {
			s.sched = sched
			s.ownSched = false
		}
	}
}

// WithLogger задаёт логгер компонента
func WithLogger(l *logging.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.log = l
		}
	}
}

// System ведёт цикл: сбор перемещений -> задача видимости -> (позже) задача
// кодирования, зависящая от неё -> присоединение -> кадр в Display.
//
// BeginCycle/EndCycle/Close вызываются управляющим потоком. Register и
// Deregister допустимы из любых горутин в любой момент: трекер не
// разделяется с задачами, им передаются только копии записей.
type System struct {
	cycleMu sync.Mutex // управляющий поток: BeginCycle/EndCycle/Close

	trackerMu sync.Mutex
	tracker   *Tracker

	geom     Geometry
	cfg      config.FogConfig
	acc      *Accumulator
	mask     []bool
	batch    []VisibilityRecord
	texture  *image.RGBA
	sched    *jobs.Scheduler
	ownSched bool
	display  Display
	recorder Recorder
	log      *logging.Logger

	visJob     *visibilityJob
	texJob     *textureJob
	cycleStart time.Time
	deferred   int
	inFlight   bool
	closed     bool
	cycle      uint64

	statsMu  sync.RWMutex
	stats    Stats
	snapshot Snapshot
}

// NewSystem выделяет аккумулятор, буфер пачки и текстуру. mask может быть nil
// (ничего не заблокировано), display может быть nil (кадры никуда не отправляются).
func NewSystem(cfg config.FogConfig, mask MaskSource, display Display, opts ...Option) (*System, error) {
	geom, err := NewGeometry(cfg.WorldSize, cfg.GridSize)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUnitsPerCycle <= 0 {
		return nil, fmt.Errorf("fog: max units per cycle must be positive, got %d", cfg.MaxUnitsPerCycle)
	}
	rows := cfg.TextureRowsPerBatch
	if rows <= 0 {
		rows = geom.Bounds
	}
	cfg.TextureRowsPerBatch = rows

	var blocked []bool
	if mask != nil {
		blocked, err = mask.BlockedMask(geom.Bounds)
		if err != nil {
			return nil, fmt.Errorf("fog: load blocked mask: %w", err)
		}
		if len(blocked) != geom.CellCount() {
			return nil, fmt.Errorf("fog: blocked mask has %d cells, want %d", len(blocked), geom.CellCount())
		}
	}

	s := &System{
		tracker:  NewTracker(geom),
		geom:     geom,
		cfg:      cfg,
		acc:      NewAccumulator(geom, cfg.StrictInvariants),
		mask:     blocked,
		batch:    make([]VisibilityRecord, 0, cfg.MaxUnitsPerCycle),
		texture:  NewTexture(geom),
		sched:    jobs.NewScheduler(cfg.Workers),
		ownSched: true,
		display:  display,
		recorder: nopRecorder{},
		log:      logging.GetFogLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.log.Info("🌫️ Fog system: сетка %dx%d (world=%.0f, cell=%.2f), пачка=%d, воркеры=%d, strict=%v",
		geom.Bounds, geom.Bounds, geom.WorldSize, geom.GridSize, cfg.MaxUnitsPerCycle, s.sched.Workers(), cfg.StrictInvariants)
	return s, nil
}

// Geometry возвращает геометрию сетки
func (s *System) Geometry() Geometry { return s.geom }

// Register регистрирует юнит
func (s *System) Register(u Unit) (UnitID, error) {
	s.trackerMu.Lock()
	defer s.trackerMu.Unlock()
	return s.tracker.Register(u)
}

// Deregister снимает юнит
func (s *System) Deregister(id UnitID) error {
	s.trackerMu.Lock()
	defer s.trackerMu.Unlock()
	if err := s.tracker.Deregister(id); err != nil {
		return fmt.Errorf("deregister %d: %w", id, err)
	}
	return nil
}

// Registered возвращает число зарегистрированных юнитов
func (s *System) Registered() int {
	s.trackerMu.Lock()
	defer s.trackerMu.Unlock()
	return s.tracker.Len()
}

// BeginCycle собирает перемещения и ставит задачу видимости. Не блокируется
// на задаче: её присоединяет EndCycle.
func (s *System) BeginCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.inFlight {
		return ErrCycleInFlight
	}

	s.cycleStart = time.Now()

	s.trackerMu.Lock()
	s.batch = s.tracker.Collect(s.batch)
	ts := s.tracker.Stats()
	s.trackerMu.Unlock()

	s.deferred = ts.Deferred
	if ts.Deferred > 0 {
		s.log.Debug("Пачка заполнена: %d юнитов отложено до следующего цикла", ts.Deferred)
	}

	s.visJob = scheduleVisibility(s.sched, s.acc, s.batch)
	s.inFlight = true
	return nil
}

// EndCycle ставит кодирование текстуры с зависимостью от задачи видимости,
// присоединяет обе задачи и отдаёт кадр в Display.
func (s *System) EndCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.inFlight {
		return ErrNoCycle
	}

	s.texJob = scheduleTexture(s.sched, s.acc, s.mask, s.texture, s.cfg.TextureRowsPerBatch, s.visJob.handle)
	texErr := s.texJob.handle.Wait()
	visErr := s.visJob.handle.Wait()
	s.inFlight = false

	if visErr != nil {
		s.log.Error("❌ Задача видимости завершилась ошибкой: %v", visErr)
		return fmt.Errorf("visibility job: %w", visErr)
	}
	if texErr != nil {
		s.log.Error("❌ Задача текстуры завершилась ошибкой: %v", texErr)
		return fmt.Errorf("texture job: %w", texErr)
	}

	s.cycle++
	cs := CycleStats{
		Cycle:              s.cycle,
		Registered:         s.Registered(),
		RecordsApplied:     s.visJob.applied,
		Deferred:           s.deferred,
		VisibleCells:       int(s.texJob.visible.Load()),
		Underflows:         s.acc.Underflows(),
		VisibilityDuration: s.visJob.duration,
		TextureDuration:    s.texJob.duration(),
		CycleDuration:      time.Since(s.cycleStart),
	}
	s.publish(cs)
	s.recorder.ObserveCycle(cs)

	if s.display == nil {
		return nil
	}
	frame := Frame{
		Cycle:        cs.Cycle,
		Bounds:       s.geom.Bounds,
		Image:        s.texture,
		VisibleCells: cs.VisibleCells,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.display.Present(ctx, frame); err != nil {
		s.log.Warn("Ошибка отправки кадра %d: %v", cs.Cycle, err)
		return fmt.Errorf("present frame %d: %w", cs.Cycle, err)
	}
	return nil
}

// Update выполняет полный цикл
func (s *System) Update(ctx context.Context) error {
	if err := s.BeginCycle(ctx); err != nil {
		return err
	}
	return s.EndCycle(ctx)
}

// publish обновляет статистику и снимок для читателей из других горутин
func (s *System) publish(cs CycleStats) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.Cycles = cs.Cycle
	s.stats.RecordsApplied += uint64(cs.RecordsApplied)
	s.stats.DeferredTotal += uint64(cs.Deferred)
	s.stats.Last = cs

	if s.snapshot.Counts == nil {
		s.snapshot.Counts = make([]uint32, s.geom.CellCount())
		s.snapshot.Image = NewTexture(s.geom)
	}
	s.snapshot.Cycle = cs.Cycle
	s.snapshot.Bounds = s.geom.Bounds
	copy(s.snapshot.Counts, s.acc.Values())
	copy(s.snapshot.Image.Pix, s.texture.Pix)
}

// Stats возвращает накопленную статистику
func (s *System) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Snapshot возвращает независимую копию состояния на конец последнего цикла.
// До первого цикла Counts и Image равны nil.
func (s *System) Snapshot() Snapshot {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	out := Snapshot{Cycle: s.snapshot.Cycle, Bounds: s.geom.Bounds}
	if s.snapshot.Counts != nil {
		out.Counts = append([]uint32(nil), s.snapshot.Counts...)
		img := NewTexture(s.geom)
		copy(img.Pix, s.snapshot.Image.Pix)
		out.Image = img
	}
	return out
}

// Close безусловно присоединяет все задачи в полёте и только затем
// освобождает буферы. Повторный вызов ничего не делает.
func (s *System) Close() error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	// Ошибки задач, присоединённых в EndCycle, уже вернул сам EndCycle.
	// Здесь сообщается только ошибка незавершённого цикла.
	var errs []error
	if s.visJob != nil {
		if err := s.visJob.handle.Wait(); err != nil && s.inFlight {
			errs = append(errs, fmt.Errorf("visibility job: %w", err))
		}
	}
	if s.texJob != nil {
		// Задача текстуры ставится и присоединяется внутри EndCycle под cycleMu,
		// так что здесь она всегда от прошлого, уже отчитавшегося цикла.
		_ = s.texJob.handle.Wait()
	}
	if s.ownSched {
		s.sched.Close()
	}
	s.inFlight = false

	s.acc.Release()
	s.batch = nil
	s.texture = nil
	s.mask = nil

	s.log.Info("🌫️ Fog system остановлена после %d циклов", s.cycle)
	return errors.Join(errs...)
}
