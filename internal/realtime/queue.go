package realtime

import (
	"sync"
	"sync/atomic"

	"cvSync/internal/metrics"
)

// DefaultQueueCapacity 是会话发送队列的默认容量。
const DefaultQueueCapacity = 8

// Queue 是有界的发送队列；满时丢弃最旧的事件，保证最新事件总能入队。
type Queue struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewQueue 创建容量为 capacity 的队列。
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Offer 非阻塞地放入事件；队列关闭后返回 false。
func (q *Queue) Offer(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	default:
	}
	// 只有持锁的生产者会写入，腾出一个位置后写入必然成功。
	select {
	case <-q.ch:
		q.dropped.Add(1)
		metrics.RealtimeDropped.Inc()
	default:
	}
	q.ch <- ev
	return true
}

// C 返回消费端通道；队列关闭后通道被关闭。
func (q *Queue) C() <-chan Event {
	return q.ch
}

// Len 返回当前排队的事件数。
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped 返回因溢出被丢弃的事件数。
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close 关闭队列；重复调用无副作用。
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
