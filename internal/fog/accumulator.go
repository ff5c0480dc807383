package fog

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Sign направление изменения счётчиков
type Sign int

const (
	Decrement Sign = -1
	Increment Sign = 1
)

func (s Sign) String() string {
	switch s {
	case Increment:
		return "increment"
	case Decrement:
		return "decrement"
	default:
		return fmt.Sprintf("sign(%d)", int(s))
	}
}

var (
	// ErrCounterUnderflow означает попытку уменьшить нулевой счётчик, то есть ошибку
	// учёта регистрации: снимается диск, который никогда не добавлялся.
	ErrCounterUnderflow = errors.New("fog: visibility counter underflow")
	// ErrCounterOverflow означает, что счётчик упёрся в максимум uint32.
	ErrCounterOverflow = errors.New("fog: visibility counter overflow")
)

// Accumulator хранит плотный массив счётчиков Bounds x Bounds: сколько юнитов видят ячейку.
//
// Не потокобезопасен: между циклами им владеет управляющий поток,
// во время цикла только одна задача видимости.
type Accumulator struct {
	geom       Geometry
	counts     []uint32
	strict     bool
	underflows atomic.Uint64
}

// NewAccumulator выделяет Bounds² счётчиков. strict=true делает underflow фатальным (panic).
func NewAccumulator(g Geometry, strict bool) *Accumulator {
	return &Accumulator{
		geom:   g,
		counts: make([]uint32, g.CellCount()),
		strict: strict,
	}
}

// Geometry возвращает геометрию сетки
func (a *Accumulator) Geometry() Geometry { return a.geom }

// Strict сообщает режим обработки underflow
func (a *Accumulator) Strict() bool { return a.strict }

// Apply добавляет sign ко всем ячейкам диска (center, radius), отсекая ячейки вне сетки.
func (a *Accumulator) Apply(center GridCell, radius int, sign Sign) {
	bounds := a.geom.Bounds
	counts := a.counts
	switch sign {
	case Increment:
		forEachDiscColumn(center, radius, bounds, func(x, y0, y1 int) {
			for idx := y0*bounds + x; idx <= y1*bounds+x; idx += bounds {
				if counts[idx] == math.MaxUint32 {
					panic(fmt.Errorf("%w at cell (%d,%d)", ErrCounterOverflow, x, idx/bounds))
				}
				counts[idx]++
			}
		})
	case Decrement:
		forEachDiscColumn(center, radius, bounds, func(x, y0, y1 int) {
			for idx := y0*bounds + x; idx <= y1*bounds+x; idx += bounds {
				if counts[idx] == 0 {
					a.underflow(x, idx/bounds)
					continue
				}
				counts[idx]--
			}
		})
	default:
		panic(fmt.Sprintf("fog: invalid sign %d", int(sign)))
	}
}

func (a *Accumulator) underflow(x, y int) {
	if a.strict {
		panic(fmt.Errorf("%w at cell (%d,%d)", ErrCounterUnderflow, x, y))
	}
	a.underflows.Add(1)
}

// Value возвращает счётчик ячейки; вне сетки возвращает 0
func (a *Accumulator) Value(c GridCell) uint32 {
	if !a.geom.InBounds(c) || a.counts == nil {
		return 0
	}
	return a.counts[a.geom.Index(c)]
}

// Visible сообщает, видит ли ячейку хотя бы один юнит
func (a *Accumulator) Visible(c GridCell) bool {
	return a.Value(c) > 0
}

// Values возвращает внутренний массив счётчиков. Только для чтения и только
// когда ни одна задача не держит аккумулятор.
func (a *Accumulator) Values() []uint32 { return a.counts }

// Underflows возвращает число зажатых в ноль уменьшений (нестрогий режим)
func (a *Accumulator) Underflows() uint64 { return a.underflows.Load() }

// VisibleCount считает ячейки с ненулевым счётчиком
func (a *Accumulator) VisibleCount() int {
	n := 0
	for _, v := range a.counts {
		if v > 0 {
			n++
		}
	}
	return n
}

// Reset обнуляет все счётчики
func (a *Accumulator) Reset() {
	clear(a.counts)
}

// Release освобождает память. После Release аккумулятор пуст.
func (a *Accumulator) Release() {
	a.counts = nil
}
