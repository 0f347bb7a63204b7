// DeepAgent Worker — выполняет tasks из очереди.
//
// Worker:
//   - Забирает tasks из Postgres-очереди (polling + wake-события RabbitMQ)
//   - Запускает Claude CLI как подпроцесс
//   - Обрабатывает результаты: summary, загрузка в облако, email
//   - Реализует retry с exponential backoff
//
// Один worker выполняет один task за раз. RabbitMQ опционален:
// без него worker работает в polling-only режиме, а отмена живого
// процесса доступна только из процесса с воркером.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/deepagent/internal/config"
	"github.com/shaiso/deepagent/internal/domain"
	"github.com/shaiso/deepagent/internal/mq"
	"github.com/shaiso/deepagent/internal/processor"
	"github.com/shaiso/deepagent/internal/queue"
	"github.com/shaiso/deepagent/internal/repo"
	"github.com/shaiso/deepagent/internal/runner"
	"github.com/shaiso/deepagent/internal/telemetry"
	"github.com/shaiso/deepagent/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting deepagent-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	q := queue.New(queue.Config{
		Store:       repo.NewStore(pool),
		OutputsRoot: cfg.OutputsPath,
		MaxAttempts: cfg.MaxTaskAttempts,
		Retry:       queue.NewRetryScheduler(cfg.RetryBaseDelaySeconds, cfg.RetryMaxDelaySeconds),
		Logger:      logger,
	})

	// RabbitMQ
	var mqConn *mq.Connection
	if cfg.RabbitMQURL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
		}
	}

	timeouts := make(map[domain.TaskType]time.Duration)
	for _, t := range []domain.TaskType{domain.TaskTypeResearch, domain.TaskTypeAnalysis, domain.TaskTypeDocument} {
		timeouts[t] = cfg.TaskTimeout(t)
	}

	agentRunner := runner.New(runner.Config{
		ClaudeBin:       cfg.ClaudeBin,
		PromptsPath:     cfg.PromptsPath,
		SkillsPath:      cfg.SkillsPath,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Timeouts:        timeouts,
		Logger:          logger,
	})

	// Создаём worker
	w := worker.New(worker.Config{
		Queue:        q,
		Runner:       agentRunner,
		Processor:    processor.New(logger),
		Conn:         mqConn,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.WorkerPort)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем worker
	w.Stop()
	logger.Info("deepagent-worker stopped")
}
