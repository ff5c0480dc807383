// Package sim содержит нагрузочную популяцию юнитов для fogd: случайное блуждание,
// периодические рождения и гибели.
package sim

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/annel0/fog-engine/internal/config"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/vec"
)

// Registrar описывает часть fog.System, нужную популяции
type Registrar interface {
	Register(u fog.Unit) (fog.UnitID, error)
	Deregister(id fog.UnitID) error
}

// Walker реализует юнит со случайным блужданием. Position читается трекером в
// BeginCycle, поэтому Step и циклы тумана идут из одного потока.
type Walker struct {
	id       fog.UnitID
	pos      vec.Vec2Float
	velocity vec.Vec2Float
	radius   int
}

func (w *Walker) Position() vec.Vec2Float { return w.pos }
func (w *Walker) VisionRadius() int      { return w.radius }

// ID возвращает идентификатор, выданный при регистрации
func (w *Walker) ID() fog.UnitID { return w.id }

// Population управляет набором Walker'ов
type Population struct {
	cfg       config.SimulationConfig
	worldSize float64
	target    Registrar
	rng       *rand.Rand
	walkers   []*Walker

	// ChurnRate задаёт долю юнитов, пересоздаваемых за шаг
	ChurnRate float64
}

// NewPopulation создаёт пустую популяцию
func NewPopulation(cfg config.SimulationConfig, worldSize float64, target Registrar) *Population {
	return &Population{
		cfg:       cfg,
		worldSize: worldSize,
		target:    target,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		ChurnRate: 0.01,
	}
}

// Len возвращает число живых юнитов
func (p *Population) Len() int { return len(p.walkers) }

// Walkers возвращает живых юнитов
func (p *Population) Walkers() []*Walker { return p.walkers }

// Spawn регистрирует n новых юнитов в случайных точках мира
func (p *Population) Spawn(n int) error {
	for i := 0; i < n; i++ {
		w := &Walker{
			pos:      vec.Vec2Float{X: p.rng.Float64() * p.worldSize, Y: p.rng.Float64() * p.worldSize},
			velocity: p.randomVelocity(),
			radius:   p.randomRadius(),
		}
		id, err := p.target.Register(w)
		if err != nil {
			return fmt.Errorf("spawn walker: %w", err)
		}
		w.id = id
		p.walkers = append(p.walkers, w)
	}
	return nil
}

// Despawn снимает случайных n юнитов
func (p *Population) Despawn(n int) error {
	for ; n > 0 && len(p.walkers) > 0; n-- {
		i := p.rng.Intn(len(p.walkers))
		w := p.walkers[i]
		if err := p.target.Deregister(w.id); err != nil {
			return fmt.Errorf("despawn walker %d: %w", w.id, err)
		}
		last := len(p.walkers) - 1
		p.walkers[i] = p.walkers[last]
		p.walkers[last] = nil
		p.walkers = p.walkers[:last]
	}
	return nil
}

// Step сдвигает всех юнитов на dt секунд и пересоздаёт часть популяции
func (p *Population) Step(dt float64) error {
	for _, w := range p.walkers {
		if p.rng.Float64() < 0.05 {
			w.velocity = p.randomVelocity()
		}
		w.pos = w.pos.Add(w.velocity.Mul(dt))
		w.pos.X, w.velocity.X = bounce(w.pos.X, w.velocity.X, p.worldSize)
		w.pos.Y, w.velocity.Y = bounce(w.pos.Y, w.velocity.Y, p.worldSize)
	}

	churn := int(math.Round(float64(len(p.walkers)) * p.ChurnRate))
	if churn == 0 {
		return nil
	}
	if err := p.Despawn(churn); err != nil {
		return err
	}
	return p.Spawn(churn)
}

// Clear снимает всех юнитов
func (p *Population) Clear() error {
	return p.Despawn(len(p.walkers))
}

func (p *Population) randomVelocity() vec.Vec2Float {
	angle := p.rng.Float64() * 2 * math.Pi
	return vec.Vec2Float{X: math.Cos(angle), Y: math.Sin(angle)}.Mul(p.cfg.Speed)
}

func (p *Population) randomRadius() int {
	lo, hi := p.cfg.MinRadius, p.cfg.MaxRadius
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Intn(hi-lo+1)
}

// bounce отражает координату от границ [0, size)
func bounce(x, v, size float64) (float64, float64) {
	edge := math.Nextafter(size, 0)
	switch {
	case x < 0:
		return math.Min(-x, edge), -v
	case x >= size:
		return math.Max(math.Min(2*size-x, edge), 0), -v
	}
	return x, v
}
