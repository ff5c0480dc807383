// Package terrain строит маску заблокированных ячеек (скалы, лес) из шума Перлина.
package terrain

import (
	"fmt"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/aquilax/go-perlin"
)

// Generator реализует детерминированный генератор рельефа: одинаковый сид даёт
// одинаковую маску.
type Generator struct {
	noise     *perlin.Perlin
	scale     float64
	threshold float64
}

// NewGenerator создаёт генератор по настройкам рельефа
func NewGenerator(cfg config.TerrainConfig) (*Generator, error) {
	if cfg.Octaves <= 0 {
		return nil, fmt.Errorf("terrain: octaves must be positive, got %d", cfg.Octaves)
	}
	if cfg.Scale <= 0 {
		return nil, fmt.Errorf("terrain: scale must be positive, got %f", cfg.Scale)
	}
	return &Generator{
		noise:     perlin.NewPerlin(cfg.Alpha, cfg.Beta, cfg.Octaves, cfg.Seed),
		scale:     cfg.Scale,
		threshold: cfg.Threshold,
	}, nil
}

// Height возвращает высоту ячейки в диапазоне от 0 до 1
func (g *Generator) Height(x, y int) float64 {
	n := g.noise.Noise2D(float64(x)*g.scale, float64(y)*g.scale)
	h := (n + 1.0) / 2.0
	switch {
	case h < 0:
		return 0
	case h > 1:
		return 1
	}
	return h
}

// Blocked сообщает, что ячейка выше порога непроходима
func (g *Generator) Blocked(x, y int) bool {
	return g.Height(x, y) > g.threshold
}

// BlockedMask реализует fog.MaskSource
func (g *Generator) BlockedMask(bounds int) ([]bool, error) {
	if bounds <= 0 {
		return nil, fmt.Errorf("terrain: bounds must be positive, got %d", bounds)
	}
	mask := make([]bool, bounds*bounds)
	for y := 0; y < bounds; y++ {
		row := y * bounds
		for x := 0; x < bounds; x++ {
			mask[row+x] = g.Blocked(x, y)
		}
	}
	return mask, nil
}
