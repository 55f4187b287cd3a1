package metrics

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvsync",
			Subsystem: "worker",
			Name:      "tasks_processed_total",
			Help:      "后台任务处理总数，按结果区分。",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvsync",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "后台任务处理耗时（秒）。",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"task_type"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cvsync",
			Subsystem: "worker",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的任务数量。",
		},
		[]string{"task_type"},
	)

	tasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvsync",
			Subsystem: "worker",
			Name:      "tasks_enqueued_total",
			Help:      "API 入队的后台任务数，按结果区分。",
		},
		[]string{"task_type", "outcome"},
	)
)

// AsynqMetricsMiddleware 记录任务处理次数、耗时与在途数量。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			taskInProgress.WithLabelValues(taskType).Inc()
			defer taskInProgress.WithLabelValues(taskType).Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())

			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			taskProcessedTotal.WithLabelValues(taskType, outcome).Inc()
			return err
		})
	}
}

// ObserveEnqueue 记录一次入队尝试。
func ObserveEnqueue(taskType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tasksEnqueuedTotal.WithLabelValues(taskType, outcome).Inc()
}
