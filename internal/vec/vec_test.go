package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2Float_ToVec2_FloorsNegative(t *testing.T) {
	// Отрицательные координаты должны округляться вниз, а не к нулю
	assert.Equal(t, Vec2{X: -1, Y: 2}, Vec2Float{X: -0.5, Y: 2.9}.ToVec2())
	assert.Equal(t, Vec2{X: 3, Y: -4}, Vec2Float{X: 3.0, Y: -3.01}.ToVec2())
}

func TestVec2_AddAndDistance(t *testing.T) {
	a := Vec2{X: 1, Y: 1}
	b := Vec2{X: 4, Y: 5}

	assert.Equal(t, 25, a.DistanceSq(b))
	assert.Equal(t, Vec2{X: 5, Y: 6}, a.Add(b))
}

func TestVec2Float_Step(t *testing.T) {
	pos := Vec2Float{X: 1, Y: 2}
	vel := Vec2Float{X: 4, Y: -2}
	assert.Equal(t, Vec2Float{X: 3, Y: 1}, pos.Add(vel.Mul(0.5)))
}
