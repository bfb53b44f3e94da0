package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Event names emitted on the state-change stream. Delivery fan-out
// (push, websockets) is handled by external consumers of the exchange.
const (
	ItemCreated     = "item_created"
	ItemDeleted     = "item_deleted"
	ItemPurged      = "item_purged"
	CaptureRecorded = "capture_recorded"
)

type Event struct {
	Name    string    `json:"name"`
	ItemID  string    `json:"item_id"`
	OwnerID int64     `json:"owner_id"`
	ActorID int64     `json:"actor_id,omitempty"`
	At      time.Time `json:"at"`
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

type Publisher struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

func NewPublisher(cfg Config, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if cfg.Queue != "" {
		q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind queue: %w", err)
		}
	}

	log.Info("connected to amqp broker",
		zap.String("exchange", cfg.Exchange),
		zap.String("routing_key", cfg.RoutingKey),
	)

	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     log,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.Name == "" {
		return fmt.Errorf("event name is required")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("name", event.Name),
		zap.String("item_id", event.ItemID),
	)

	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
