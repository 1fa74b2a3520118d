package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"coursehub_backend/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher 领域事件发布
type Publisher interface {
	Publish(ctx context.Context, queueName string, payload interface{}) error
	Close() error
}

type RabbitMQClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.MessagingConfig

	// amqp.Channel 不支持并发发布
	mu       sync.Mutex
	declared map[string]bool
}

func NewRabbitMQClient(cfg *config.MessagingConfig) (*RabbitMQClient, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.User, cfg.Password, cfg.Host, cfg.Port)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &RabbitMQClient{
		conn:     conn,
		channel:  channel,
		config:   cfg,
		declared: make(map[string]bool),
	}, nil
}

func (c *RabbitMQClient) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *RabbitMQClient) declareQueue(name string) error {
	if c.declared[name] {
		return nil
	}
	_, err := c.channel.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}
	c.declared[name] = true
	return nil
}

func (c *RabbitMQClient) Publish(ctx context.Context, queueName string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.declareQueue(queueName); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	return c.channel.PublishWithContext(
		ctx,
		"",        // exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// NoopPublisher 未启用消息队列时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, queueName string, payload interface{}) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
