// Package fog считает туман войны: какие ячейки сетки видит хотя бы один юнит.
//
// Каждая ячейка хранит счётчик юнитов, которые её видят. Юнит, сменивший
// ячейку, снимает свой диск видимости со старой позиции и добавляет на новой.
// Применение выполняется задачей на воркере, а кодирование в текстуру
// зависимой от неё параллельной задачей.
package fog

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/fog-engine/internal/vec"
)

// GridCell ячейка сетки видимости
type GridCell = vec.Vec2

// ErrInvalidGeometry возвращается при некорректных размерах мира или ячейки
var ErrInvalidGeometry = errors.New("fog: invalid geometry")

// Geometry описывает квадратную сетку Bounds x Bounds поверх мира WorldSize x WorldSize
type Geometry struct {
	WorldSize float64
	GridSize  float64
	Bounds    int
}

// NewGeometry вычисляет Bounds = WorldSize / GridSize
func NewGeometry(worldSize, gridSize float64) (Geometry, error) {
	if gridSize <= 0 || math.IsNaN(gridSize) {
		return Geometry{}, fmt.Errorf("%w: grid size %v", ErrInvalidGeometry, gridSize)
	}
	bounds := int(worldSize / gridSize)
	if bounds <= 0 {
		return Geometry{}, fmt.Errorf("%w: world size %v smaller than grid size %v", ErrInvalidGeometry, worldSize, gridSize)
	}
	return Geometry{WorldSize: worldSize, GridSize: gridSize, Bounds: bounds}, nil
}

// FarCell ограничивает координаты ячеек, которые возвращает WorldToGrid:
// дальше ±FarCell позиция прижимается к границе полосы.
const FarCell = 1 << 30

// WorldToGrid переводит мировую позицию в ячейку делением с округлением вниз.
// Позиции вне мира дают ячейки вне сетки; они отсекаются при накоплении.
// Бесконечности и огромные значения прижимаются к ±FarCell, NaN даёт -FarCell.
func (g Geometry) WorldToGrid(p vec.Vec2Float) GridCell {
	return vec.Vec2Float{X: clampCell(p.X / g.GridSize), Y: clampCell(p.Y / g.GridSize)}.ToVec2()
}

func clampCell(v float64) float64 {
	switch {
	case math.IsNaN(v), v < -FarCell:
		return -FarCell
	case v > FarCell:
		return FarCell
	}
	return v
}

// CellCenter возвращает мировую позицию центра ячейки
func (g Geometry) CellCenter(c GridCell) vec.Vec2Float {
	return vec.Vec2Float{X: (float64(c.X) + 0.5) * g.GridSize, Y: (float64(c.Y) + 0.5) * g.GridSize}
}

// InBounds сообщает, лежит ли ячейка в [0, Bounds)
func (g Geometry) InBounds(c GridCell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Bounds && c.Y < g.Bounds
}

// Index возвращает индекс ячейки в плоском массиве (построчно)
func (g Geometry) Index(c GridCell) int {
	return c.Y*g.Bounds + c.X
}

// CellAt обратна Index
func (g Geometry) CellAt(idx int) GridCell {
	return GridCell{X: idx % g.Bounds, Y: idx / g.Bounds}
}

// CellCount возвращает Bounds²
func (g Geometry) CellCount() int {
	return g.Bounds * g.Bounds
}

// ScanlineHeight возвращает floor(sqrt(r² - x²)), то есть половину высоты диска
// в столбце со смещением xOffset от центра. Вызов с |xOffset| > radius является ошибкой вызывающего.
func ScanlineHeight(xOffset, radius int) int {
	if xOffset < 0 {
		xOffset = -xOffset
	}
	if xOffset > radius {
		panic(fmt.Sprintf("fog: scanline offset %d outside radius %d", xOffset, radius))
	}
	rem := radius*radius - xOffset*xOffset
	h := int(math.Sqrt(float64(rem)))
	// Поправка на погрешность float для больших радиусов
	for h*h > rem {
		h--
	}
	for (h+1)*(h+1) <= rem {
		h++
	}
	return h
}

// forEachDiscColumn вызывает fn(x, y0, y1) для каждого столбца диска радиуса
// radius с центром center, обрезанного по [0, bounds). Строки y0..y1 включительно.
// Диск: dx ∈ [-r, r], |dy| <= ScanlineHeight(dx, r), то есть dx²+dy² <= r².
func forEachDiscColumn(center GridCell, radius, bounds int, fn func(x, y0, y1 int)) {
	if radius < 0 {
		return
	}
	// Диск целиком вне сетки. Сравнения без сложений, чтобы не переполниться
	// на далёких центрах.
	if center.X < -radius || center.Y < -radius {
		return
	}
	if (center.X > bounds-1 && center.X-(bounds-1) > radius) ||
		(center.Y > bounds-1 && center.Y-(bounds-1) > radius) {
		return
	}
	dxMin, dxMax := -radius, radius
	if center.X+dxMin < 0 {
		dxMin = -center.X
	}
	if center.X+dxMax > bounds-1 {
		dxMax = bounds - 1 - center.X
	}
	for dx := dxMin; dx <= dxMax; dx++ {
		h := ScanlineHeight(dx, radius)
		y0, y1 := center.Y-h, center.Y+h
		if y0 < 0 {
			y0 = 0
		}
		if y1 > bounds-1 {
			y1 = bounds - 1
		}
		if y0 > y1 {
			continue
		}
		fn(center.X+dx, y0, y1)
	}
}

// ForEachDiscCell вызывает fn для каждой ячейки диска внутри сетки
func (g Geometry) ForEachDiscCell(center GridCell, radius int, fn func(c GridCell)) {
	forEachDiscColumn(center, radius, g.Bounds, func(x, y0, y1 int) {
		for y := y0; y <= y1; y++ {
			fn(GridCell{X: x, Y: y})
		}
	})
}

// InDisc сообщает, покрывает ли диск (center, radius) ячейку c
func InDisc(center GridCell, radius int, c GridCell) bool {
	if radius < 0 {
		return false
	}
	return center.DistanceSq(c) <= radius*radius
}
