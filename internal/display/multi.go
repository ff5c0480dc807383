package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/fog-engine/internal/fog"
)

// Multi раздаёт кадр нескольким получателям по очереди.
// Ошибка одного не мешает остальным.
type Multi []fog.Display

// Present вызывает Present каждого получателя и объединяет ошибки
func (m Multi) Present(ctx context.Context, f fog.Frame) error {
	var errs []error
	for i, d := range m {
		if d == nil {
			continue
		}
		if err := d.Present(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("display %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Func превращает функцию в fog.Display
type Func func(ctx context.Context, f fog.Frame) error

func (fn Func) Present(ctx context.Context, f fog.Frame) error { return fn(ctx, f) }
