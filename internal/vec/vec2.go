package vec

// Vec2 представляет 2D координаты (ячейка сетки)
type Vec2 struct {
	X, Y int
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// DistanceSq возвращает квадрат расстояния до другой точки (без sqrt)
func (v Vec2) DistanceSq(other Vec2) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return dx*dx + dy*dy
}
