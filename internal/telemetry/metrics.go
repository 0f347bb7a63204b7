package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики жизненного цикла tasks. Инкрементируются воркером.
var (
	tasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deepagent_tasks_completed_total",
		Help: "Tasks that reached COMPLETED",
	})

	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepagent_tasks_failed_total",
		Help: "Tasks that reached a non-completed outcome, by resulting status",
	}, []string{"status"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deepagent_task_duration_seconds",
		Help:    "Agent execution duration per attempt",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~1.1h
	})
)

// TaskCompleted фиксирует успешное завершение task.
func TaskCompleted() {
	tasksCompleted.Inc()
}

// TaskFailed фиксирует неуспешный исход с результирующим статусом.
func TaskFailed(status string) {
	tasksFailed.WithLabelValues(status).Inc()
}

// TaskExecuted фиксирует длительность одной попытки выполнения.
func TaskExecuted(d time.Duration) {
	taskDuration.Observe(d.Seconds())
}
