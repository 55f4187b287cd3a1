// Package realtime 实现进程内按分组路由的发布订阅总线，以及每个观看者的 WebSocket 会话。
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"cvSync/internal/cv"
	"cvSync/internal/metrics"
)

// Event 是总线上传递的一条消息，三个字段中只有一个非空。
type Event struct {
	// Projection 是服务端产生的简历快照。
	Projection *cv.Projection
	// Raw 是客户端发来的合法 JSON，原样转发。
	Raw json.RawMessage
	// Text 是无法解析的客户端消息，以字符串形式转发。
	Text string
}

// Subscription 是一个会话在总线上的订阅句柄。
type Subscription struct {
	group string
	queue *Queue
	done  chan struct{}
	once  sync.Once
}

// Group 返回订阅的分组。
func (s *Subscription) Group() string { return s.group }

// Queue 返回订阅的发送队列。
func (s *Subscription) Queue() *Queue { return s.queue }

// Done 在总线关闭时被关闭。
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Bus 是按分组 ID 路由事件的总线。
type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// NewBus 创建空总线。
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		groups: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe 在 group 上注册一个容量为 capacity 的订阅。总线关闭后返回已结束的订阅。
func (b *Bus) Subscribe(group string, capacity int) *Subscription {
	sub := &Subscription{group: group, queue: NewQueue(capacity), done: make(chan struct{})}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.stop()
		sub.queue.Close()
		return sub
	}
	subs, ok := b.groups[group]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.groups[group] = subs
	}
	subs[sub] = struct{}{}
	metrics.RealtimeSubscriptions.Inc()
	return sub
}

// Unsubscribe 移除订阅并关闭其队列；可重复调用。
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if subs, ok := b.groups[sub.group]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			metrics.RealtimeSubscriptions.Dec()
		}
		if len(subs) == 0 {
			delete(b.groups, sub.group)
		}
	}
	b.mu.Unlock()
	sub.queue.Close()
}

// Publish 把事件非阻塞地投递给 group 的每个订阅，返回投递数量。
func (b *Bus) Publish(group string, ev Event) int {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.groups[group]))
	for sub := range b.groups[group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.queue.Offer(ev) {
			delivered++
		}
	}
	metrics.RealtimePublished.Inc()
	return delivered
}

// HasSubscribers 判断 group 当前是否有订阅者。
func (b *Bus) HasSubscribers(group string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group]) > 0
}

// Subscribers 返回 group 当前的订阅数。
func (b *Bus) Subscribers(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Close 通知所有订阅结束，之后的 Subscribe 立即返回已结束的订阅。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	total := 0
	for _, subs := range b.groups {
		for sub := range subs {
			sub.stop()
			total++
		}
	}
	b.logger.Info("realtime bus closed", slog.Int("subscriptions", total))
}
