package eventbus

import (
	"context"

	"github.com/annel0/fog-engine/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог
// компонента на уровне Debug. Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus, log *logging.Logger) (Subscription, error) {
	if log == nil {
		log = logging.GetComponentLogger("EventBus")
	}
	sub, err := bus.Subscribe(ctx, Filter{}, func(_ context.Context, ev *Envelope) {
		log.Debug("[EventBus] %s %s src=%s cycle=%s size=%dB", ev.ID, ev.EventType, ev.Source, ev.Metadata["cycle"], len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	log.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
