package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvsync",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM 调用次数，按操作与结果区分。",
		},
		[]string{"operation", "outcome"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cvsync",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM 调用耗时分布（秒）。",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)

	llmCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvsync",
			Subsystem: "llm",
			Name:      "cache_lookups_total",
			Help:      "LLM 响应缓存查找次数。",
		},
		[]string{"result"},
	)
)

// ObserveLLMCall 记录一次 LLM 调用的结果与耗时。
func ObserveLLMCall(operation, outcome string, seconds float64) {
	llmCallsTotal.WithLabelValues(operation, outcome).Inc()
	llmCallDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveLLMCache 记录缓存命中或未命中。
func ObserveLLMCache(hit bool) {
	if hit {
		llmCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	llmCacheTotal.WithLabelValues("miss").Inc()
}
