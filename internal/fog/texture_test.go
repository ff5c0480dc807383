package fog

import (
	"image/color"
	"testing"

	"github.com/annel0/fog-engine/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCell(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, EncodeCell(true, false))
	assert.Equal(t, color.RGBA{G: 0xFF, A: 0xFF}, EncodeCell(false, true))
	assert.Equal(t, color.RGBA{A: 0xFF}, EncodeCell(false, false))

	for _, blocked := range []bool{false, true} {
		for _, visible := range []bool{false, true} {
			b, v := DecodeCell(EncodeCell(blocked, visible))
			assert.Equal(t, blocked, b)
			assert.Equal(t, visible, v)
		}
	}
}

func TestEncodeTexture_BlockedAndVisibleChannels(t *testing.T) {
	g := testGeometry(t)
	acc := NewAccumulator(g, true)
	acc.Apply(GridCell{X: 4, Y: 4}, 1, Increment)

	mask := make([]bool, g.CellCount())
	mask[g.Index(GridCell{X: 0, Y: 0})] = true
	mask[g.Index(GridCell{X: 4, Y: 5})] = true

	dst := NewTexture(g)
	visible, err := EncodeTexture(acc, mask, dst)
	require.NoError(t, err)
	assert.Equal(t, 5, visible)

	b, v := DecodeCell(dst.RGBAAt(0, 0))
	assert.True(t, b, "заблокирована и не видна")
	assert.False(t, v)

	b, v = DecodeCell(dst.RGBAAt(4, 4))
	assert.False(t, b, "свободна и видна")
	assert.True(t, v)

	b, v = DecodeCell(dst.RGBAAt(4, 5))
	assert.True(t, b)
	assert.True(t, v)

	assert.Equal(t, uint8(0xFF), dst.RGBAAt(10, 10).A, "альфа всегда непрозрачна")
}

func TestEncodeTexture_NilMaskMeansUnblocked(t *testing.T) {
	g := testGeometry(t)
	acc := NewAccumulator(g, true)
	dst := NewTexture(g)
	_, err := EncodeTexture(acc, nil, dst)
	require.NoError(t, err)
	for y := 0; y < g.Bounds; y++ {
		for x := 0; x < g.Bounds; x++ {
			assert.Equal(t, EncodeCell(false, false), dst.RGBAAt(x, y))
		}
	}
}

func TestEncodeTexture_SizeMismatch(t *testing.T) {
	g := testGeometry(t)
	acc := NewAccumulator(g, true)

	other, err := NewGeometry(32, 4)
	require.NoError(t, err)
	_, err = EncodeTexture(acc, nil, NewTexture(other))
	assert.Error(t, err)

	_, err = EncodeTexture(acc, nil, nil)
	assert.Error(t, err)
}

func TestScheduleTexture_ParallelMatchesSequential(t *testing.T) {
	g := testGeometry(t)
	acc := NewAccumulator(g, true)
	acc.Apply(GridCell{X: 3, Y: 3}, 4, Increment)
	acc.Apply(GridCell{X: 12, Y: 10}, 5, Increment)

	mask := make([]bool, g.CellCount())
	for i := range mask {
		mask[i] = i%7 == 0
	}

	want := NewTexture(g)
	wantVisible, err := EncodeTexture(acc, mask, want)
	require.NoError(t, err)

	sched := jobs.NewScheduler(4)
	defer sched.Close()

	for _, rows := range []int{1, 3, 5, 16, 100} {
		got := NewTexture(g)
		job := scheduleTexture(sched, acc, mask, got, rows)
		require.NoError(t, job.handle.Wait())
		assert.Equal(t, want.Pix, got.Pix, "rows per batch %d", rows)
		assert.Equal(t, int64(wantVisible), job.visible.Load())
		assert.GreaterOrEqual(t, int64(job.duration()), int64(0))
	}
}
