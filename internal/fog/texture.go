package fog

import (
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/annel0/fog-engine/internal/jobs"
)

// Каналы текстуры тумана
const (
	channelOn  = 0xFF
	channelOff = 0x00
)

// EncodeCell кодирует ячейку: R=255 если заблокирована, G=255 если видима, B зарезервирован, A=255
func EncodeCell(blocked, visible bool) color.RGBA {
	c := color.RGBA{R: channelOff, G: channelOff, B: channelOff, A: 0xFF}
	if blocked {
		c.R = channelOn
	}
	if visible {
		c.G = channelOn
	}
	return c
}

// DecodeCell обратна EncodeCell
func DecodeCell(c color.RGBA) (blocked, visible bool) {
	return c.R >= 0x80, c.G >= 0x80
}

// NewTexture выделяет текстуру Bounds x Bounds
func NewTexture(g Geometry) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, g.Bounds, g.Bounds))
}

// EncodeRows пишет строки [y0, y1) текстуры dst по счётчикам counts и маске mask.
// Возвращает число видимых ячеек в этих строках. Маска короче сетки
// (или nil) трактуется как «ничего не заблокировано».
func EncodeRows(counts []uint32, mask []bool, dst *image.RGBA, bounds, y0, y1 int) int {
	visible := 0
	for y := y0; y < y1; y++ {
		row := y * bounds
		pix := dst.Pix[y*dst.Stride : y*dst.Stride+bounds*4]
		for x := 0; x < bounds; x++ {
			idx := row + x
			blocked := idx < len(mask) && mask[idx]
			seen := counts[idx] > 0
			if seen {
				visible++
			}
			c := EncodeCell(blocked, seen)
			p := pix[x*4 : x*4+4 : x*4+4]
			p[0], p[1], p[2], p[3] = c.R, c.G, c.B, c.A
		}
	}
	return visible
}

// EncodeTexture кодирует всю текстуру синхронно
func EncodeTexture(acc *Accumulator, mask []bool, dst *image.RGBA) (int, error) {
	bounds := acc.Geometry().Bounds
	if err := checkTexture(dst, bounds); err != nil {
		return 0, err
	}
	return EncodeRows(acc.Values(), mask, dst, bounds, 0, bounds), nil
}

func checkTexture(dst *image.RGBA, bounds int) error {
	if dst == nil {
		return fmt.Errorf("fog: nil texture")
	}
	r := dst.Bounds()
	if r.Min != (image.Point{}) || r.Dx() != bounds || r.Dy() != bounds {
		return fmt.Errorf("fog: texture %v does not match grid %dx%d", r, bounds, bounds)
	}
	return nil
}

// textureJob хранит результат задачи кодирования, читается только после Wait
type textureJob struct {
	handle  *jobs.Handle
	visible atomic.Int64
	startNs atomic.Int64
	endNs   atomic.Int64
}

// duration считается от начала первого батча до конца последнего
func (j *textureJob) duration() time.Duration {
	start, end := j.startNs.Load(), j.endNs.Load()
	if start == 0 || end < start {
		return 0
	}
	return time.Duration(end - start)
}

// scheduleTexture ставит параллельное кодирование по строкам; стартует
// только после завершения deps (задачи видимости).
func scheduleTexture(s *jobs.Scheduler, acc *Accumulator, mask []bool, dst *image.RGBA, rowsPerBatch int, deps ...*jobs.Handle) *textureJob {
	job := &textureJob{}
	bounds := acc.Geometry().Bounds
	job.handle = s.ScheduleParallel("texture", bounds, rowsPerBatch, func(y0, y1 int) error {
		job.startNs.CompareAndSwap(0, time.Now().UnixNano())
		job.visible.Add(int64(EncodeRows(acc.Values(), mask, dst, bounds, y0, y1)))
		now := time.Now().UnixNano()
		for {
			end := job.endNs.Load()
			if now <= end || job.endNs.CompareAndSwap(end, now) {
				break
			}
		}
		return nil
	}, deps...)
	return job
}
