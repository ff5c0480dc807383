package display

import (
	"context"
	"strconv"

	"github.com/annel0/fog-engine/internal/eventbus"
	"github.com/annel0/fog-engine/internal/fog"
	"github.com/google/uuid"
)

// EventTypeFrame обозначает тип события с закодированным кадром
const EventTypeFrame = "FogFrame"

// BusPublisher публикует каждый кадр в шину событий
type BusPublisher struct {
	bus      eventbus.EventBus
	codec    *Codec
	source   string
	priority int
}

// NewBusPublisher создаёт публикатор. Кадры идут с низким приоритетом:
// при заполненном буфере шины устаревший кадр можно отбросить.
func NewBusPublisher(bus eventbus.EventBus, codec *Codec, source string) *BusPublisher {
	if source == "" {
		source = "fogd"
	}
	return &BusPublisher{bus: bus, codec: codec, source: source, priority: 1}
}

// Present кодирует кадр и отправляет его в шину
func (p *BusPublisher) Present(ctx context.Context, f fog.Frame) error {
	payload, err := p.codec.Encode(f)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: f.Timestamp,
		Source:    p.source,
		EventType: EventTypeFrame,
		Version:   frameVersion,
		Priority:  p.priority,
		Payload:   payload,
		Metadata: map[string]string{
			"cycle":   strconv.FormatUint(f.Cycle, 10),
			"bounds":  strconv.Itoa(f.Bounds),
			"visible": strconv.Itoa(f.VisibleCells),
		},
	})
}
