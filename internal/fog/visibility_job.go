package fog

import (
	"time"

	"github.com/annel0/fog-engine/internal/jobs"
)

// ApplyRecords применяет пачку записей: снятие на старой позиции со старым
// радиусом, затем добавление на новой с новым. Порядок между записями не важен:
// сложение счётчиков коммутативно.
func ApplyRecords(acc *Accumulator, records []VisibilityRecord) {
	for i := range records {
		r := &records[i]
		if r.HasPrev {
			acc.Apply(r.Prev, r.PrevRadius, Decrement)
		}
		if r.HasCur {
			acc.Apply(r.Cur, r.Radius, Increment)
		}
	}
}

// visibilityJob хранит результат задачи видимости, читается только после Wait
type visibilityJob struct {
	handle   *jobs.Handle
	applied  int
	duration time.Duration
}

// scheduleVisibility ставит применение записей на воркер. До Wait вызывающий
// не должен трогать ни acc, ни records.
func scheduleVisibility(s *jobs.Scheduler, acc *Accumulator, records []VisibilityRecord, deps ...*jobs.Handle) *visibilityJob {
	job := &visibilityJob{}
	job.handle = s.Schedule("visibility", func() error {
		start := time.Now()
		ApplyRecords(acc, records)
		job.applied = len(records)
		job.duration = time.Since(start)
		return nil
	}, deps...)
	return job
}
