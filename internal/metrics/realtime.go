package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RealtimeSessions 当前活跃的 WebSocket 会话数。
	RealtimeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cvsync",
		Subsystem: "realtime",
		Name:      "sessions",
		Help:      "当前活跃的实时会话数量。",
	})

	// RealtimeSubscriptions 当前总线上的订阅数。
	RealtimeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cvsync",
		Subsystem: "realtime",
		Name:      "subscriptions",
		Help:      "当前总线订阅数量。",
	})

	// RealtimePublished 发布到总线的事件数。
	RealtimePublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cvsync",
		Subsystem: "realtime",
		Name:      "events_published_total",
		Help:      "发布到实时总线的事件总数。",
	})

	// RealtimeDropped 因队列已满被丢弃的旧事件数。
	RealtimeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cvsync",
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "因会话发送队列溢出而丢弃的事件总数。",
	})
)
