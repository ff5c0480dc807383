package fog

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/vec"
	"github.com/stretchr/testify/require"
)

// testUnit описывает юнит с позицией, которую тест двигает вручную
type testUnit struct {
	pos    vec.Vec2Float
	radius int
}

func (u *testUnit) Position() vec.Vec2Float { return u.pos }
func (u *testUnit) VisionRadius() int      { return u.radius }

func newUnitAt(g Geometry, c GridCell, radius int) *testUnit {
	return &testUnit{pos: g.CellCenter(c), radius: radius}
}

func (u *testUnit) moveTo(g Geometry, c GridCell) {
	u.pos = g.CellCenter(c)
}

// testConfig задаёт сетку 16x16
func testConfig() config.FogConfig {
	return config.FogConfig{
		WorldSize:           64,
		GridSize:            4,
		MaxUnitsPerCycle:    64,
		Workers:             4,
		TextureRowsPerBatch: 3,
		StrictInvariants:    true,
	}
}

func testGeometry(t *testing.T) Geometry {
	t.Helper()
	g, err := NewGeometry(64, 4)
	require.NoError(t, err)
	return g
}

// expectedCounts строит эталон: для каждой ячейки число юнитов, чей диск её покрывает
func expectedCounts(g Geometry, units []*testUnit) []uint32 {
	out := make([]uint32, g.CellCount())
	for idx := range out {
		c := g.CellAt(idx)
		for _, u := range units {
			if InDisc(g.WorldToGrid(u.pos), u.radius, c) {
				out[idx]++
			}
		}
	}
	return out
}

// staticMask отдаёт MaskSource из готового среза
type staticMask []bool

func (m staticMask) BlockedMask(bounds int) ([]bool, error) {
	if len(m) != bounds*bounds {
		return nil, errors.New("mask size mismatch")
	}
	return append([]bool(nil), m...), nil
}

// recordingDisplay копирует кадры
type recordingDisplay struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (d *recordingDisplay) Present(_ context.Context, f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img := image.NewRGBA(f.Image.Rect)
	copy(img.Pix, f.Image.Pix)
	f.Image = img
	d.frames = append(d.frames, f)
	return d.err
}

func (d *recordingDisplay) last() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames[len(d.frames)-1]
}

// recordingRecorder копирует статистику циклов
type recordingRecorder struct {
	mu    sync.Mutex
	stats []CycleStats
}

func (r *recordingRecorder) ObserveCycle(s CycleStats) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

// catchPanic возвращает значение паники fn (или nil)
func catchPanic(fn func()) (v interface{}) {
	defer func() { v = recover() }()
	fn()
	return nil
}
