package fog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_NewUnitSkipsDecrement(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	u := newUnitAt(g, GridCell{X: 3, Y: 4}, 5)

	_, err := tr.Register(u)
	require.NoError(t, err)

	recs := tr.Collect(make([]VisibilityRecord, 0, 8))
	require.Len(t, recs, 1)
	assert.False(t, recs[0].HasPrev)
	assert.True(t, recs[0].HasCur)
	assert.Equal(t, GridCell{X: 3, Y: 4}, recs[0].Cur)
	assert.Equal(t, 5, recs[0].Radius)
}

func TestTracker_UnmovedUnitEmitsNothing(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	u := newUnitAt(g, GridCell{X: 3, Y: 4}, 5)
	_, _ = tr.Register(u)

	buf := make([]VisibilityRecord, 0, 8)
	buf = tr.Collect(buf)
	require.Len(t, buf, 1)

	// Движение внутри той же ячейки не считается сменой
	u.pos.X += 1
	buf = tr.Collect(buf)
	assert.Empty(t, buf)
}

func TestTracker_MovedUnitEmitsPrevAndCur(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	u := newUnitAt(g, GridCell{X: 3, Y: 4}, 5)
	_, _ = tr.Register(u)
	buf := tr.Collect(make([]VisibilityRecord, 0, 8))

	u.moveTo(g, GridCell{X: 4, Y: 4})
	buf = tr.Collect(buf)
	require.Len(t, buf, 1)
	assert.Equal(t, VisibilityRecord{
		Prev: GridCell{X: 3, Y: 4}, PrevRadius: 5,
		Cur: GridCell{X: 4, Y: 4}, Radius: 5,
		HasPrev: true, HasCur: true,
	}, buf[0])
}

func TestTracker_RadiusChangeUsesOldRadiusForDecrement(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	u := newUnitAt(g, GridCell{X: 8, Y: 8}, 3)
	_, _ = tr.Register(u)
	buf := tr.Collect(make([]VisibilityRecord, 0, 8))

	u.radius = 6
	buf = tr.Collect(buf)
	require.Len(t, buf, 1, "смена радиуса без перемещения тоже требует работы")
	assert.Equal(t, 3, buf[0].PrevRadius)
	assert.Equal(t, 6, buf[0].Radius)
	assert.Equal(t, buf[0].Prev, buf[0].Cur)
}

func TestTracker_RegisterThenDeregisterBeforeApplyIsNoop(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	id, _ := tr.Register(newUnitAt(g, GridCell{X: 1, Y: 1}, 2))

	require.NoError(t, tr.Deregister(id))
	assert.Empty(t, tr.Collect(make([]VisibilityRecord, 0, 8)))
	assert.Equal(t, 0, tr.PendingRemovals())
}

func TestTracker_DeregisterAfterApplySkipsIncrement(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	u := newUnitAt(g, GridCell{X: 1, Y: 1}, 2)
	id, _ := tr.Register(u)
	buf := tr.Collect(make([]VisibilityRecord, 0, 8))

	// Снимается последнее применённое состояние, даже если юнит уже ушёл
	u.moveTo(g, GridCell{X: 9, Y: 9})
	require.NoError(t, tr.Deregister(id))
	assert.Equal(t, 0, tr.Len())

	buf = tr.Collect(buf)
	require.Len(t, buf, 1)
	assert.Equal(t, VisibilityRecord{Prev: GridCell{X: 1, Y: 1}, PrevRadius: 2, HasPrev: true}, buf[0])
}

func TestTracker_Errors(t *testing.T) {
	tr := NewTracker(testGeometry(t))
	_, err := tr.Register(nil)
	assert.ErrorIs(t, err, ErrNilUnit)
	assert.ErrorIs(t, tr.Deregister(42), ErrUnknownUnit)
}

func TestTracker_CapacityDefersStragglers(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	units := make([]*testUnit, 5)
	for i := range units {
		units[i] = newUnitAt(g, GridCell{X: i, Y: i}, 1)
		_, _ = tr.Register(units[i])
	}

	buf := make([]VisibilityRecord, 0, 2)
	emitted := map[GridCell]int{}
	wantDeferred := []int{3, 1, 0}
	for cycle, want := range wantDeferred {
		buf = tr.Collect(buf)
		assert.LessOrEqual(t, len(buf), 2)
		assert.Equal(t, want, tr.Stats().Deferred, "цикл %d", cycle)
		for _, r := range buf {
			assert.False(t, r.HasPrev)
			emitted[r.Cur]++
		}
	}

	require.Len(t, emitted, 5, "каждый отложенный юнит должен быть обработан")
	for c, n := range emitted {
		assert.Equal(t, 1, n, "юнит в %v обработан больше одного раза", c)
	}
	assert.Empty(t, tr.Collect(buf))
}

func TestTracker_RemovalsTakePriorityAndPersist(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	var ids []UnitID
	for i := 0; i < 3; i++ {
		id, _ := tr.Register(newUnitAt(g, GridCell{X: i, Y: 0}, 1))
		ids = append(ids, id)
	}
	buf := tr.Collect(make([]VisibilityRecord, 0, 3))
	require.Len(t, buf, 3)

	buf = make([]VisibilityRecord, 0, 2)
	for _, id := range ids {
		require.NoError(t, tr.Deregister(id))
	}
	buf = tr.Collect(buf)
	assert.Len(t, buf, 2)
	assert.Equal(t, 1, tr.Stats().Deferred)
	assert.Equal(t, 1, tr.PendingRemovals())

	buf = tr.Collect(buf)
	require.Len(t, buf, 1)
	assert.False(t, buf[0].HasCur)
	assert.Equal(t, 0, tr.PendingRemovals())
}

func TestTracker_NegativeRadiusTreatedAsZero(t *testing.T) {
	g := testGeometry(t)
	tr := NewTracker(g)
	_, _ = tr.Register(newUnitAt(g, GridCell{X: 2, Y: 2}, -4))
	buf := tr.Collect(make([]VisibilityRecord, 0, 1))
	require.Len(t, buf, 1)
	assert.Equal(t, 0, buf[0].Radius)
}
