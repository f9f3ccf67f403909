package listener

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"messaging-service/event"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunDispatchesByAction(t *testing.T) {
	q := event.NewLocal(10)
	var created, deleted atomic.Int32

	handlers := Handlers{
		event.ActionObjectCreated: func(ctx context.Context, d event.Delivery) error {
			created.Add(1)
			return nil
		},
		event.ActionAttachmentDelete: func(ctx context.Context, d event.Delivery) error {
			deleted.Add(1)
			return fmt.Errorf("boom")
		},
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.NoError(t, q.Enqueue(ctx, event.ActionObjectCreated, event.ObjectCreated{Path: fmt.Sprint(i)}))
	}
	assert.NoError(t, q.Enqueue(ctx, event.ActionAttachmentDelete, event.AttachmentDelete{MessageID: "m"}))
	assert.NoError(t, q.Enqueue(ctx, "unknown", nil))
	q.Close()

	Run(ctx, q.Deliveries(), 3, handlers, zerolog.Nop())

	assert.EqualValues(t, 3, created.Load())
	assert.EqualValues(t, 1, deleted.Load())
}

func TestHandlerPanicIsContained(t *testing.T) {
	q := event.NewLocal(2)
	var after atomic.Int32
	first := true
	handlers := Handlers{
		event.ActionObjectCreated: func(ctx context.Context, d event.Delivery) error {
			if first {
				first = false
				panic("bad payload")
			}
			after.Add(1)
			return nil
		},
	}
	ctx := context.Background()
	assert.NoError(t, q.Enqueue(ctx, event.ActionObjectCreated, nil))
	assert.NoError(t, q.Enqueue(ctx, event.ActionObjectCreated, nil))
	q.Close()

	Run(ctx, q.Deliveries(), 1, handlers, zerolog.Nop())
	assert.EqualValues(t, 1, after.Load())
}
