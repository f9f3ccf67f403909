package event

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Local is an in-process queue used when no broker is configured.
type Local struct {
	mu     sync.RWMutex
	ch     chan Delivery
	closed bool
}

func NewLocal(buffer int) *Local {
	return &Local{ch: make(chan Delivery, buffer)}
}

func (l *Local) Enqueue(ctx context.Context, action string, payload any) error {
	data, err := encode(action, payload)
	if err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.ch <- NewDelivery(QueueAttachments, action, data):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) Deliveries() <-chan Delivery {
	return l.ch
}

func (l *Local) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}
