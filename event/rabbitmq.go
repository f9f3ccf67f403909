package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"messaging-service/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const RabbitMQActionHeader string = "x-action"

const publishTimeout = 5 * time.Second

// Bus publishes jobs to durable RabbitMQ queues and fans consumed messages
// out to Go channels.
type Bus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logs    *Logs
	log     zerolog.Logger

	mu        sync.Mutex
	listeners map[string]chan Delivery
}

func RabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		config.Config("RABBITMQ_USER"),
		config.Config("RABBITMQ_PASSWORD"),
		config.Config("RABBITMQ_HOST"),
		config.Default("RABBITMQ_PORT", "5672"),
	)
}

// RabbitMQConnect dials the broker, opens a channel and declares queues.
// logs may be nil when event logging is disabled.
func RabbitMQConnect(url string, queues []string, logs *Logs, logger zerolog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	logger.Info().Msg("connection opened to RabbitMQ server")

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}

	for _, name := range queues {
		_, err := channel.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("declare RabbitMQ queue %s: %w", name, err)
		}
		logger.Info().Str("queue", name).Msg("declared RabbitMQ queue")
	}

	return &Bus{
		conn:      conn,
		channel:   channel,
		logs:      logs,
		log:       logger,
		listeners: make(map[string]chan Delivery),
	}, nil
}

// Subscribe starts consuming queue with manual acknowledgement. The returned
// channel is closed when the broker closes the consumer.
func (b *Bus) Subscribe(queue string, prefetch int) (<-chan Delivery, error) {
	if prefetch > 0 {
		if err := b.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("set RabbitMQ prefetch: %w", err)
		}
	}
	msgs, err := b.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("register consumer on %s: %w", queue, err)
	}
	b.log.Info().Str("queue", queue).Msg("subscribed to RabbitMQ queue")

	out := make(chan Delivery)
	b.mu.Lock()
	b.listeners[queue] = out
	b.mu.Unlock()

	go func() {
		defer close(out)
		for msg := range msgs {
			action, _ := msg.Headers[RabbitMQActionHeader].(string)
			if action == "" {
				b.log.Warn().Str("queue", queue).Msg("dropping message without action header")
				msg.Nack(false, false)
				continue
			}
			b.logs.In(queue, action, msg.Body)

			tag := msg.DeliveryTag
			out <- Delivery{
				Queue:  queue,
				Action: action,
				Data:   msg.Body,
				ack:    func() error { return b.channel.Ack(tag, false) },
				nack:   func(requeue bool) error { return b.channel.Nack(tag, false, requeue) },
			}
		}
	}()
	return out, nil
}

// Publish sends payload to queue with the action in the x-action header.
func (b *Bus) Publish(ctx context.Context, queue, action string, payload any) error {
	data, err := encode(action, payload)
	if err != nil {
		return err
	}
	if err := b.publish(ctx, queue, action, data); err != nil {
		return err
	}
	b.logs.Out(queue, action, data)
	return nil
}

func (b *Bus) publish(ctx context.Context, queue, action string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.channel.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader: action,
			},
			Body: data,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", action, queue, err)
	}
	return nil
}

// Enqueue publishes to the attachments queue.
func (b *Bus) Enqueue(ctx context.Context, action string, payload any) error {
	return b.Publish(ctx, QueueAttachments, action, payload)
}

// Replay re-injects logged traffic according to EVENT_MODE: IN feeds the
// inbound log to subscribed listeners, OUT re-publishes the outbound log.
func (b *Bus) Replay(ctx context.Context, mode string) error {
	switch mode {
	case ModeIn:
		return b.logs.ReplayIn(func(entry LogEntry) error {
			b.mu.Lock()
			listener, ok := b.listeners[entry.Service]
			b.mu.Unlock()
			if !ok {
				return nil
			}
			select {
			case listener <- NewDelivery(entry.Service, entry.Action, []byte(entry.Data)):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	case ModeOut:
		return b.logs.ReplayOut(func(entry LogEntry) error {
			return b.publish(ctx, entry.Service, entry.Action, []byte(entry.Data))
		})
	}
	return nil
}

func (b *Bus) Close() error {
	if err := b.channel.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
