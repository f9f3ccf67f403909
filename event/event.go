package event

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	QueueAttachments = "attachments"

	// ActionObjectCreated is published for every record of a storage webhook.
	ActionObjectCreated = "storage.object.created"
	// ActionAttachmentDelete removes the files and rows of a deleted message's attachments.
	ActionAttachmentDelete = "attachment.delete"
)

type ObjectCreated struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
}

type AttachmentDelete struct {
	MessageID string `json:"message_id"`
}

// Delivery is one queued job. Ack and Nack are no-ops for replayed or
// in-process deliveries.
type Delivery struct {
	Queue  string
	Action string
	Data   []byte

	ack  func() error
	nack func(requeue bool) error
}

func NewDelivery(queue, action string, data []byte) Delivery {
	return Delivery{Queue: queue, Action: action, Data: data}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

func (d Delivery) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", d.Action, err)
	}
	return nil
}

// Queue is the publishing side shared by the RabbitMQ bus and the local queue.
type Queue interface {
	Enqueue(ctx context.Context, action string, payload any) error
}

func encode(action string, payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action, err)
	}
	return data, nil
}
