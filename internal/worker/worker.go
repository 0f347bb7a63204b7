package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/deepagent/internal/domain"
	"github.com/shaiso/deepagent/internal/mq"
	"github.com/shaiso/deepagent/internal/processor"
	"github.com/shaiso/deepagent/internal/queue"
	"github.com/shaiso/deepagent/internal/runner"
	"github.com/shaiso/deepagent/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 5 * time.Second
	cancelPrefetch      = 1

	// finalizeTimeout ограничивает переходы статуса после Execute,
	// выполняемые вне контекста цикла.
	finalizeTimeout = 30 * time.Second
)

// AgentRunner запускает агента для task и умеет останавливать его процесс.
type AgentRunner interface {
	Execute(ctx context.Context, task *domain.Task) (*runner.Result, error)
	Cancel(taskID string) bool
}

// ResultProcessor выполняет пост-обработку результатов агента.
type ResultProcessor interface {
	Process(ctx context.Context, task *domain.Task, agentOutput string) *processor.Result
}

// Worker поочерёдно выполняет tasks из очереди.
//
// Одновременно выполняется не более одного task. Очередь опрашивается
// с интервалом PollInterval; wake-события из RabbitMQ сокращают паузу
// между постановкой task и началом выполнения.
type Worker struct {
	queue     *queue.Queue
	runner    AgentRunner
	processor ResultProcessor
	conn      *mq.Connection

	pollInterval time.Duration
	logger       *slog.Logger

	// wake будит цикл опроса, не дожидаясь таймера.
	wake chan struct{}

	mu            sync.Mutex
	currentTaskID string

	consumers  []*mq.Consumer
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Worker.
type Config struct {
	// Queue — очередь tasks (обязательно).
	Queue *queue.Queue

	// Runner — исполнитель агента (обязательно).
	Runner AgentRunner

	// Processor — пост-обработка результатов (обязательно).
	Processor ResultProcessor

	// Conn — соединение с RabbitMQ (опционально; nil — polling-only).
	Conn *mq.Connection

	// PollInterval — интервал опроса очереди (default: 5s).
	PollInterval time.Duration

	// Logger (опционально).
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		queue:        cfg.Queue,
		runner:       cfg.Runner,
		processor:    cfg.Processor,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		logger:       logger,
		wake:         make(chan struct{}, 1),
	}
}

// Start запускает Worker: цикл выполнения и, при наличии брокера,
// consumers wake- и cancel-событий.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "poll_interval", w.pollInterval)

	if w.conn != nil {
		w.startConsumer(ctx, string(mq.QueueTasksQueued), w.handleTaskQueued)
		w.startConsumer(ctx, string(mq.QueueTasksCancel), w.handleTaskCancel)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker: прерывает цикл, останавливает процесс
// текущего task и ждёт завершения горутин.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")

	// ID снимается до отмены контекста: цикл очистит его, как только
	// Execute вернётся.
	id := w.current()

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if id != "" {
		w.logger.Info("cancelling current task", "task_id", id)
		w.runner.Cancel(id)
	}

	for _, c := range w.consumers {
		c.Stop()
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// Wake будит цикл опроса. Идемпотентен: лишние сигналы схлопываются.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// CurrentTaskID возвращает ID выполняющегося task (пустая строка — простой).
func (w *Worker) CurrentTaskID() string {
	return w.current()
}

// loop — основной цикл: dequeue, выполнение, пауза при пустой очереди.
func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to dequeue task", "error", err)
			w.idle(ctx)
			continue
		}

		if task == nil {
			w.idle(ctx)
			continue
		}

		w.process(ctx, task)
	}
}

// idle ждёт poll-интервал, wake-событие или остановку.
func (w *Worker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.wake:
	}
}

// process выполняет один task от запуска агента до финального статуса.
func (w *Worker) process(ctx context.Context, task *domain.Task) {
	w.setCurrent(task.ID)
	defer w.setCurrent("")

	w.logger.Info("processing task",
		"task_id", task.ID,
		"task_type", task.Type,
		"title", task.Title,
		"attempt", task.Attempts,
	)

	result, err := w.runner.Execute(ctx, task)

	// Финальные переходы статуса переживают отмену контекста цикла:
	// Stop() отменяет ctx, но отменённый task обязан закончить в FAILED,
	// иначе он навсегда застрянет в RUNNING.
	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancelStore()

	if err != nil {
		// Инфраструктурный сбой: агент не стартовал, retry уместен.
		w.markFailed(storeCtx, task.ID, err.Error(), true)
		return
	}

	if !result.Success {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		// Partial-исходы (таймаут, отмена, нет бинаря) не ретраятся.
		w.markFailed(storeCtx, task.ID, errMsg, !result.Partial)
		return
	}

	if err := w.queue.MarkProcessing(storeCtx, task.ID); err != nil {
		if errors.Is(err, queue.ErrInvalidState) {
			// Гонка с отменой: task уже финализирован.
			w.logger.Info("task no longer running, skipping result processing", "task_id", task.ID)
			return
		}
		w.logger.Error("failed to mark task processing", "task_id", task.ID, "error", err)
		return
	}

	processing := w.processor.Process(ctx, task, result.Output)
	for _, uploadErr := range processing.UploadErrors {
		w.logger.Warn("result upload failed", "task_id", task.ID, "error", uploadErr)
	}

	if err := w.queue.MarkCompleted(storeCtx, task.ID, processing.Summary, processing.CloudLinks); err != nil {
		if errors.Is(err, queue.ErrInvalidState) {
			w.logger.Info("task no longer processing, completion skipped", "task_id", task.ID)
			return
		}
		w.logger.Error("failed to mark task completed", "task_id", task.ID, "error", err)
		return
	}

	telemetry.TaskCompleted()
	telemetry.TaskExecuted(result.Duration)

	w.logger.Info("task completed",
		"task_id", task.ID,
		"duration", result.Duration,
		"turns", result.TurnsUsed,
		"notification_sent", processing.NotificationSent,
	)
}

// markFailed фиксирует неудачную попытку. ErrInvalidState — не ошибка:
// task мог быть отменён, пока агент выполнялся.
func (w *Worker) markFailed(ctx context.Context, taskID, errMsg string, retry bool) {
	status, err := w.queue.MarkFailed(ctx, taskID, errMsg, retry)
	if err != nil {
		if errors.Is(err, queue.ErrInvalidState) {
			w.logger.Info("task already finalized", "task_id", taskID)
			return
		}
		w.logger.Error("failed to mark task failed", "task_id", taskID, "error", err)
		return
	}

	telemetry.TaskFailed(string(status))

	w.logger.Warn("task failed",
		"task_id", taskID,
		"new_status", status,
		"error", errMsg,
	)
}

func (w *Worker) startConsumer(ctx context.Context, queueName string, handler mq.Handler) {
	consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
		Queue:    queueName,
		Handler:  handler,
		Prefetch: cancelPrefetch,
	})
	w.consumers = append(w.consumers, consumer)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("consumer error", "queue", queueName, "error", err)
		}
	}()
}

// handleTaskQueued будит цикл опроса по wake-событию.
func (w *Worker) handleTaskQueued(_ context.Context, _ *mq.Delivery) error {
	w.Wake()
	return nil
}

// handleTaskCancel останавливает процесс агента по запросу отмены.
// Статус task к этому моменту уже сменил API.
func (w *Worker) handleTaskCancel(_ context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskCancelPayload](&d.Message)
	if err != nil {
		w.logger.Warn("malformed cancel message", "error", err)
		return nil
	}

	if w.runner.Cancel(payload.TaskID) {
		w.logger.Info("cancelled running agent", "task_id", payload.TaskID)
	}
	return nil
}

func (w *Worker) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTaskID
}

func (w *Worker) setCurrent(id string) {
	w.mu.Lock()
	w.currentTaskID = id
	w.mu.Unlock()
}
