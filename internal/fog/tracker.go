package fog

import (
	"errors"

	"github.com/annel0/fog-engine/internal/vec"
)

var (
	// ErrNilUnit возвращается при регистрации nil
	ErrNilUnit = errors.New("fog: nil unit")
	// ErrUnknownUnit возвращается при снятии незарегистрированного юнита
	ErrUnknownUnit = errors.New("fog: unknown unit")
)

// Unit описывает юнит внешней игровой системы. Движок только читает позицию и радиус.
type Unit interface {
	Position() vec.Vec2Float
	// VisionRadius радиус обзора в ячейках сетки
	VisionRadius() int
}

// UnitID идентификатор регистрации
type UnitID uint64

// VisibilityRecord описывает изменение видимости одного юнита за цикл.
// HasPrev=false у нового юнита (снимать нечего), HasCur=false у снятого (добавлять нечего).
type VisibilityRecord struct {
	Prev       GridCell
	PrevRadius int
	Cur        GridCell
	Radius     int
	HasPrev    bool
	HasCur     bool
}

// trackedUnit хранит последнее применённое к аккумулятору состояние юнита
type trackedUnit struct {
	id      UnitID
	unit    Unit
	cell    GridCell
	radius  int
	applied bool
}

// TrackerStats итоги последнего Collect
type TrackerStats struct {
	Registered int
	Emitted    int
	Deferred   int
}

// Tracker определяет, какие юниты сменили ячейку (или радиус) с прошлого цикла,
// и формирует минимальный список работы для аккумулятора.
// Не потокобезопасен; синхронизацию обеспечивает System.
type Tracker struct {
	geom     Geometry
	units    []*trackedUnit
	index    map[UnitID]int
	removals []VisibilityRecord
	cursor   int
	nextID   UnitID
	last     TrackerStats
}

// NewTracker создаёт пустой трекер
func NewTracker(g Geometry) *Tracker {
	return &Tracker{
		geom:   g,
		index:  make(map[UnitID]int),
		nextID: 1,
	}
}

// Register добавляет юнит. Его диск будет добавлен в ближайшем цикле без снятия.
func (t *Tracker) Register(u Unit) (UnitID, error) {
	if u == nil {
		return 0, ErrNilUnit
	}
	id := t.nextID
	t.nextID++
	t.index[id] = len(t.units)
	t.units = append(t.units, &trackedUnit{id: id, unit: u})
	return id, nil
}

// Deregister снимает юнит. Если его диск уже применён, в ближайшем цикле он
// будет снят без добавления, иначе юнит просто исчезает.
func (t *Tracker) Deregister(id UnitID) error {
	i, ok := t.index[id]
	if !ok {
		return ErrUnknownUnit
	}
	tu := t.units[i]
	if tu.applied {
		t.removals = append(t.removals, VisibilityRecord{
			Prev:       tu.cell,
			PrevRadius: tu.radius,
			HasPrev:    true,
		})
	}

	last := len(t.units) - 1
	if i != last {
		t.units[i] = t.units[last]
		t.index[t.units[i].id] = i
	}
	t.units[last] = nil
	t.units = t.units[:last]
	delete(t.index, id)
	return nil
}

// Len возвращает число зарегистрированных юнитов
func (t *Tracker) Len() int { return len(t.units) }

// PendingRemovals возвращает число снятий, ещё не применённых к аккумулятору
func (t *Tracker) PendingRemovals() int { return len(t.removals) }

// Stats возвращает итоги последнего Collect
func (t *Tracker) Stats() TrackerStats { return t.last }

// Collect дописывает в buf[:0] не более cap(buf) записей. Сначала идут снятия,
// затем юниты, сменившие ячейку или радиус. Юниты сверх ёмкости откладываются
// до следующего цикла: их применённое состояние не меняется, а следующий
// обход начинается с первого отложенного.
func (t *Tracker) Collect(buf []VisibilityRecord) []VisibilityRecord {
	buf = buf[:0]
	limit := cap(buf)

	n := len(t.removals)
	if n > limit {
		n = limit
	}
	buf = append(buf, t.removals[:n]...)
	rest := copy(t.removals, t.removals[n:])
	clear(t.removals[rest:])
	t.removals = t.removals[:rest]
	deferred := rest

	count := len(t.units)
	if count == 0 {
		t.cursor = 0
		t.last = TrackerStats{Registered: 0, Emitted: len(buf), Deferred: deferred}
		return buf
	}

	start := t.cursor % count
	firstDeferred := -1
	for i := 0; i < count; i++ {
		pos := (start + i) % count
		tu := t.units[pos]

		cell := t.geom.WorldToGrid(tu.unit.Position())
		radius := tu.unit.VisionRadius()
		if radius < 0 {
			radius = 0
		}
		if tu.applied && cell == tu.cell && radius == tu.radius {
			continue
		}

		if len(buf) == limit {
			if firstDeferred < 0 {
				firstDeferred = pos
			}
			deferred++
			continue
		}

		rec := VisibilityRecord{Cur: cell, Radius: radius, HasCur: true}
		if tu.applied {
			rec.Prev = tu.cell
			rec.PrevRadius = tu.radius
			rec.HasPrev = true
		}
		tu.cell, tu.radius, tu.applied = cell, radius, true
		buf = append(buf, rec)
	}

	if firstDeferred >= 0 {
		t.cursor = firstDeferred
	}
	t.last = TrackerStats{Registered: count, Emitted: len(buf), Deferred: deferred}
	return buf
}
