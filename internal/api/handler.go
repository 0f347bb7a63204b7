package api

import (
	"log/slog"

	"github.com/shaiso/deepagent/internal/mq"
	"github.com/shaiso/deepagent/internal/queue"
)

// Canceller останавливает процесс агента выполняющегося task.
// Реализация — runner.Runner, когда воркер живёт в том же процессе.
type Canceller interface {
	Cancel(taskID string) bool
}

// Waker будит цикл воркера после постановки task.
// Реализация — worker.Worker в single-process режиме.
type Waker interface {
	Wake()
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	queue     *queue.Queue
	runner    Canceller
	waker     Waker
	publisher *mq.Publisher
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
//
// Runner и Waker задаются, когда воркер в том же процессе; Publisher —
// когда доступен RabbitMQ. Все три опциональны: без них отмена живого
// процесса недоступна, а воркер узнаёт о новых tasks через polling.
type Config struct {
	Queue     *queue.Queue
	Runner    Canceller
	Waker     Waker
	Publisher *mq.Publisher
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		queue:     cfg.Queue,
		runner:    cfg.Runner,
		waker:     cfg.Waker,
		publisher: cfg.Publisher,
		logger:    logger,
	}
}
