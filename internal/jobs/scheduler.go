// Package jobs выполняет работу на отдельных горутинах с явной точкой
// присоединения (Handle.Wait) и явными зависимостями между задачами.
package jobs

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDependencyFailed возвращается задачей, чья зависимость завершилась с ошибкой.
	ErrDependencyFailed = errors.New("jobs: dependency failed")
	// ErrSchedulerClosed возвращается задачей, поставленной после Close.
	ErrSchedulerClosed = errors.New("jobs: scheduler closed")
)

// PanicError оборачивает панику внутри задачи. Если значение паники является error,
// оно доступно через errors.Is/As.
type PanicError struct {
	Job   string
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("jobs: panic in %q: %v", p.Job, p.Value)
}

func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Handle служит точкой присоединения к задаче
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Completed возвращает уже завершённый handle
func Completed(name string) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	close(h.done)
	return h
}

// Name возвращает имя задачи
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Wait блокирует до завершения задачи. nil handle считается завершённым.
func (h *Handle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// Done сообщает, завершена ли задача, без блокировки
func (h *Handle) Done() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Scheduler запускает задачи и параллельные циклы по диапазону индексов.
// Количество одновременно работающих горутин параллельного цикла ограничено workers.
//
// Schedule, Wait и Close можно вызывать из разных горутин: счётчик задач в
// полёте и флаг закрытия меняются под одним mutex.
type Scheduler struct {
	workers int
	started atomic.Uint64

	mu       sync.Mutex
	idle     *sync.Cond // сигнал при inFlight == 0
	inFlight int
	closed   bool
}

// NewScheduler создаёт планировщик с указанным числом воркеров
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{workers: workers}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Workers возвращает предел параллелизма
func (s *Scheduler) Workers() int { return s.workers }

// Started возвращает число задач, поставленных за всё время
func (s *Scheduler) Started() uint64 { return s.started.Load() }

// Schedule ставит задачу fn; она начнётся после завершения всех deps.
// Возврат управления немедленный.
func (s *Scheduler) Schedule(name string, fn func() error, deps ...*Handle) *Handle {
	h := &Handle{name: name, done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.err = ErrSchedulerClosed
		close(h.done)
		return h
	}
	s.inFlight++
	s.mu.Unlock()

	s.started.Add(1)
	go func() {
		defer s.finish()
		defer close(h.done)

		if err := waitAll(deps); err != nil {
			h.err = fmt.Errorf("%w: %s: %v", ErrDependencyFailed, name, err)
			return
		}
		h.err = run(name, fn)
	}()
	return h
}

// ScheduleParallel делит диапазон [0, n) на батчи размером batch и выполняет
// fn(start, end) для каждого батча параллельно (не более workers одновременно).
// Первая ошибка отменяет запуск оставшихся батчей.
func (s *Scheduler) ScheduleParallel(name string, n, batch int, fn func(start, end int) error, deps ...*Handle) *Handle {
	if batch < 1 {
		batch = 1
	}
	return s.Schedule(name, func() error {
		var g errgroup.Group
		g.SetLimit(s.workers)
		for start := 0; start < n; start += batch {
			start, end := start, start+batch
			if end > n {
				end = n
			}
			g.Go(func() error {
				return run(name, func() error { return fn(start, end) })
			})
		}
		return g.Wait()
	}, deps...)
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.inFlight--
	if s.inFlight == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

// Wait блокирует, пока в полёте есть задачи, включая поставленные во время ожидания
func (s *Scheduler) Wait() {
	s.mu.Lock()
	for s.inFlight > 0 {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Close запрещает новые задачи и дожидается уже запущенных
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Wait()
}

func waitAll(deps []*Handle) error {
	var errs []error
	for _, d := range deps {
		if err := d.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// run вызывает fn, превращая панику в *PanicError
func run(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Job: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
