package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskQueued MessageType = "task.queued"
	MessageTypeTaskCancel MessageType = "task.cancel"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskQueuedPayload — payload wake-события о новом task в очереди.
type TaskQueuedPayload struct {
	TaskID string `json:"task_id"`
}

// TaskCancelPayload — payload запроса отмены task.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTaskQueued публикует wake-событие о новом task.
// Потребитель: Worker. Событие — подсказка: авторитетное состояние в БД.
func (p *Publisher) PublishTaskQueued(ctx context.Context, taskID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskQueued,
		Payload:   TaskQueuedPayload{TaskID: taskID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyQueued, msg)
}

// PublishTaskCancel публикует запрос отмены task.
// Потребитель: Worker (останавливает процесс агента, если task у него).
func (p *Publisher) PublishTaskCancel(ctx context.Context, taskID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskCancel,
		Payload:   TaskCancelPayload{TaskID: taskID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyCancel, msg)
}
