package terrain

import (
	"testing"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	cfg := config.Default().Terrain
	cfg.Seed = 1234

	a, err := NewGenerator(cfg)
	require.NoError(t, err)
	b, err := NewGenerator(cfg)
	require.NoError(t, err)

	ma, err := a.BlockedMask(32)
	require.NoError(t, err)
	mb, err := b.BlockedMask(32)
	require.NoError(t, err)
	assert.Equal(t, ma, mb)
	assert.Len(t, ma, 32*32)
}

func TestGenerator_HeightInRange(t *testing.T) {
	g, err := NewGenerator(config.Default().Terrain)
	require.NoError(t, err)
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			h := g.Height(x, y)
			assert.GreaterOrEqual(t, h, 0.0)
			assert.LessOrEqual(t, h, 1.0)
		}
	}
}

func TestGenerator_Threshold(t *testing.T) {
	cfg := config.Default().Terrain
	cfg.Threshold = 1.0
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	mask, err := g.BlockedMask(16)
	require.NoError(t, err)
	for _, b := range mask {
		assert.False(t, b, "порог 1.0 ничего не блокирует")
	}

	cfg.Threshold = -0.1
	g, err = NewGenerator(cfg)
	require.NoError(t, err)
	mask, err = g.BlockedMask(16)
	require.NoError(t, err)
	for _, b := range mask {
		assert.True(t, b, "отрицательный порог блокирует всё")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	cfg := config.Default().Terrain
	cfg.Octaves = 0
	_, err := NewGenerator(cfg)
	assert.Error(t, err)

	cfg = config.Default().Terrain
	cfg.Scale = 0
	_, err = NewGenerator(cfg)
	assert.Error(t, err)

	g, err := NewGenerator(config.Default().Terrain)
	require.NoError(t, err)
	_, err = g.BlockedMask(0)
	assert.Error(t, err)
}
