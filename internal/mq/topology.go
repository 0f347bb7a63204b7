package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeTasks Exchange = "deepagent.tasks"
)

// Queues — имена очередей.
const (
	// QueueTasksQueued — wake-события: task поставлен в очередь,
	// воркер может забрать его немедленно, не дожидаясь poll.
	QueueTasksQueued Queue = "tasks.queued"

	// QueueTasksCancel — запросы отмены: воркер должен остановить
	// процесс агента, если task сейчас выполняется у него.
	QueueTasksCancel Queue = "tasks.cancel"
)

// Routing keys.
const (
	RoutingKeyQueued RoutingKey = "queued"
	RoutingKeyCancel RoutingKey = "cancel"
)

// SetupTopology декларирует обменники, очереди и привязки.
// Идемпотентна: безопасно вызывать на каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		string(ExchangeTasks), // name
		"direct",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeTasks, err)
	}
	return nil
}

// declareQueues создаёт очереди.
//
// Очереди не нуждаются в DLQ: события — подсказки поверх авторитетного
// состояния в БД, потерянное событие компенсируется polling.
func declareQueues(ch *amqp.Channel) error {
	for _, q := range []Queue{QueueTasksQueued, QueueTasksCancel} {
		_, err := ch.QueueDeclare(
			string(q), // name
			true,      // durable
			false,     // delete when unused
			false,     // exclusive
			false,     // no-wait
			nil,       // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
	}{
		{QueueTasksQueued, RoutingKeyQueued},
		{QueueTasksCancel, RoutingKeyCancel},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),       // queue name
			string(b.routingKey),  // routing key
			string(ExchangeTasks), // exchange
			false,                 // no-wait
			nil,                   // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, ExchangeTasks, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  DeepAgent RabbitMQ Topology:

    deepagent.tasks (direct)
    ├── tasks.queued [routing: queued]
    │       Consumer: Worker (wake-up, polling остаётся fallback)
    └── tasks.cancel [routing: cancel]
            Consumer: Worker (остановка процесса агента)
  `
}
