// Package listener dispatches queued deliveries to per-action handlers on a
// fixed pool of goroutines.
package listener

import (
	"context"
	"errors"
	"sync"

	"messaging-service/event"

	"github.com/rs/zerolog"
)

// ErrRetry asks for the delivery to be requeued.
var ErrRetry = errors.New("retry delivery")

type Handler func(ctx context.Context, d event.Delivery) error

type Handlers map[string]Handler

// Run consumes deliveries with workers goroutines until the channel closes or
// ctx is done. Deliveries are acked after their handler returns; handlers
// returning ErrRetry are requeued, other failures are dropped.
func Run(ctx context.Context, deliveries <-chan event.Delivery, workers int, handlers Handlers, logger zerolog.Logger) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			log := logger.With().Int("worker", worker).Logger()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					dispatch(ctx, d, handlers, log)
				}
			}
		}(i)
	}
	wg.Wait()
}

func dispatch(ctx context.Context, d event.Delivery, handlers Handlers, log zerolog.Logger) {
	handler, ok := handlers[d.Action]
	if !ok {
		log.Warn().Str("queue", d.Queue).Str("action", d.Action).Msg("no handler for action")
		d.Nack(false)
		return
	}

	err := handle(ctx, handler, d)
	switch {
	case err == nil:
		if err := d.Ack(); err != nil {
			log.Error().Err(err).Str("action", d.Action).Msg("ack failed")
		}
	case errors.Is(err, ErrRetry):
		log.Warn().Err(err).Str("action", d.Action).Msg("requeueing delivery")
		d.Nack(true)
	default:
		log.Error().Err(err).Str("action", d.Action).Msg("delivery failed")
		d.Nack(false)
	}
}

func handle(ctx context.Context, handler Handler, d event.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("handler panicked")
		}
	}()
	return handler(ctx, d)
}
