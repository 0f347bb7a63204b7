// DeepAgent Server — API и воркер в одном процессе.
//
// Поднимает HTTP API, подключается к Postgres, запускает воркер
// выполнения tasks. RabbitMQ опционален: без него постановка task
// будит воркер напрямую, а кросс-процессная отмена недоступна.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/deepagent/internal/api"
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

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepagent_api_http_requests_total",
		Help: "Total HTTP requests handled by deepagent-server",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting deepagent-server")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
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
	logger.Info("connected to database")

	// Очередь поверх Postgres
	q := queue.New(queue.Config{
		Store:       repo.NewStore(pool),
		OutputsRoot: cfg.OutputsPath,
		MaxAttempts: cfg.MaxTaskAttempts,
		Retry:       queue.NewRetryScheduler(cfg.RetryBaseDelaySeconds, cfg.RetryMaxDelaySeconds),
		Logger:      logger,
	})

	// RabbitMQ опционален
	var mqConn *mq.Connection
	var publisher *mq.Publisher
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
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	// Агент и пост-обработка
	timeouts := make(map[domain.TaskType]time.Duration)
	for _, t := range []domain.TaskType{domain.TaskTypeResearch, domain.TaskTypeAnalysis, domain.TaskTypeDocument} {
		timeouts[t] = cfg.TaskTimeout(t)
		logger.Info("agent limits",
			"task_type", t,
			"timeout", cfg.TaskTimeout(t),
			"max_turns", cfg.TaskMaxTurns(t),
		)
	}

	agentRunner := runner.New(runner.Config{
		ClaudeBin:       cfg.ClaudeBin,
		PromptsPath:     cfg.PromptsPath,
		SkillsPath:      cfg.SkillsPath,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		Timeouts:        timeouts,
		Logger:          logger,
	})
	resultProcessor := processor.New(logger)

	// Воркер в том же процессе
	w := worker.New(worker.Config{
		Queue:        q,
		Runner:       agentRunner,
		Processor:    resultProcessor,
		Conn:         mqConn,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	})
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// API handler: воркер рядом, поэтому wake и cancel идут напрямую
	handler := api.NewHandler(api.Config{
		Queue:     q,
		Runner:    agentRunner,
		Waker:     w,
		Publisher: publisher,
		Logger:    logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	w.Stop()
	logger.Info("deepagent-server stopped")
}
