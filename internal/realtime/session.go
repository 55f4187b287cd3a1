package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cvSync/internal/cv"
	"cvSync/internal/metrics"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

var (
	// ErrTransportWrite 表示向客户端写入失败，会话随之关闭。
	ErrTransportWrite = errors.New("transport write failed")
	// ErrBusClosed 表示服务端关闭了总线。
	ErrBusClosed = errors.New("realtime bus closed")
)

// Conn 是会话使用的连接能力，*websocket.Conn 满足该接口。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// State 是会话的生命周期状态。
type State int32

const (
	StateOpening State = iota
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "opening"
	}
}

// SessionConfig 配置心跳、空闲超时与队列容量。
type SessionConfig struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	QueueCapacity     int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	return c
}

// Session 管理一个观看者连接：订阅、首帧、心跳、入站消息与出站编码。
type Session struct {
	bus    *Bus
	conn   Conn
	group  cv.GroupKey
	cfg    SessionConfig
	clock  *cv.Clock
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	sub     *Subscription
	initial *cv.Projection
	latest  *cv.Projection
}

// NewSession 构造处于 Opening 状态的会话。
func NewSession(bus *Bus, conn Conn, group cv.GroupKey, clock *cv.Clock, cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		bus:    bus,
		conn:   conn,
		group:  group,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger.With(slog.String("group", group.String())),
		state:  StateOpening,
	}
}

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open 先订阅分组再加载首帧，保证加载之后的更新不会丢失。加载失败时取消订阅并进入 Closed。
// 首帧时间戳在加载前取得，加载期间发布的更新一定排在首帧之后。
func (s *Session) Open(ctx context.Context, load func(ctx context.Context) (*cv.Projection, error)) error {
	sub := s.bus.Subscribe(s.group.String(), s.cfg.QueueCapacity)
	ts := s.clock.Next()
	initial, err := load(ctx)
	if err != nil {
		s.bus.Unsubscribe(sub)
		s.setState(StateClosed)
		return err
	}

	s.mu.Lock()
	s.sub = sub
	s.initial = initial.WithActionAt(cv.ActionInitial, ts, s.clock)
	s.latest = s.initial
	s.state = StateSubscribed
	s.mu.Unlock()
	metrics.RealtimeSessions.Inc()
	return nil
}

// Run 发送首帧并驱动读写循环，直到连接断开、空闲超时、写失败、总线关闭或 ctx 结束。
// 返回前先取消订阅再关闭连接。
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	sub, initial := s.sub, s.initial
	s.mu.Unlock()
	if sub == nil {
		return fmt.Errorf("session not opened")
	}
	defer func() {
		s.bus.Unsubscribe(sub)
		_ = s.conn.Close()
		s.setState(StateClosed)
		metrics.RealtimeSessions.Dec()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan []byte, 4)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, sub, replies, readErr, cancel)

	if err := s.writeProjection(initial); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case err := <-readErr:
				return err
			default:
				return ctx.Err()
			}
		case <-sub.Done():
			return ErrBusClosed
		case reply := <-replies:
			if err := s.write(reply); err != nil {
				return err
			}
		case ev, ok := <-sub.Queue().C():
			if !ok {
				return ErrBusClosed
			}
			if err := s.writeEvent(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.heartbeat(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, sub *Subscription, replies chan<- []byte, readErr chan<- error, cancel context.CancelFunc) {
	defer cancel()

	refresh := func() {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	s.conn.SetPongHandler(func(string) error {
		refresh()
		return nil
	})

	for {
		refresh()
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- fmt.Errorf("read message: %w", err)
			return
		}

		reply, ev, forward := s.handleInbound(message)
		if reply != nil {
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
		if forward {
			s.bus.Publish(sub.Group(), ev)
		}
	}
}

type inbound struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// handleInbound 解析一条入站消息，返回需要回复的帧与需要转发的事件。
func (s *Session) handleInbound(message []byte) ([]byte, Event, bool) {
	trimmed := bytes.TrimSpace(message)
	switch string(trimmed) {
	case "ping":
		return []byte("pong"), Event{}, false
	case "pong":
		return nil, Event{}, false
	}

	if !json.Valid(trimmed) {
		return nil, Event{Text: string(message)}, true
	}

	var msg inbound
	if err := json.Unmarshal(trimmed, &msg); err == nil {
		switch msg.Type {
		case "ping":
			ts := msg.Timestamp
			if len(ts) == 0 {
				ts = json.RawMessage("null")
			}
			reply, _ := json.Marshal(struct {
				Type      string          `json:"type"`
				Timestamp json.RawMessage `json:"timestamp"`
			}{Type: "pong", Timestamp: ts})
			return reply, Event{}, false
		case "pong", "heartbeat":
			return nil, Event{}, false
		}
	}
	return nil, Event{Raw: json.RawMessage(append([]byte(nil), trimmed...))}, true
}

func (s *Session) heartbeat() error {
	frame, _ := json.Marshal(map[string]any{
		"type":      "heartbeat",
		"timestamp": s.clock.Next(),
	})
	if err := s.write(frame); err != nil {
		return err
	}
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest == nil {
		return nil
	}
	return s.write(EncodeProjection(latest, s.logger))
}

func (s *Session) writeEvent(ev Event) error {
	switch {
	case ev.Projection != nil:
		return s.writeProjection(ev.Projection)
	case ev.Raw != nil:
		return s.write(ev.Raw)
	default:
		data, _ := json.Marshal(ev.Text)
		return s.write(data)
	}
}

func (s *Session) writeProjection(p *cv.Projection) error {
	s.mu.Lock()
	s.latest = p
	s.mu.Unlock()
	return s.write(EncodeProjection(p, s.logger))
}

func (s *Session) write(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportWrite, err)
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// EncodeProjection 编码投影。失败时先把时间转为 RFC 3339、非有限浮点数转为 null 后重试，
// 仍失败则发送只含 id、title 与 fallback_update 的最小载荷。
func EncodeProjection(p *cv.Projection, logger *slog.Logger) []byte {
	data, err := json.Marshal(p)
	if err == nil {
		return data
	}
	if logger != nil {
		logger.Warn("encode projection failed, coercing values", slog.Any("error", err))
	}

	data, err = json.Marshal(coerce(p.Fields()))
	if err == nil {
		return data
	}
	if logger != nil {
		logger.Warn("encode coerced projection failed, sending fallback", slog.Any("error", err))
	}

	data, _ = json.Marshal(map[string]any{
		"id":     p.ID,
		"title":  p.Title,
		"action": cv.ActionFallbackUpdate,
	})
	return data
}

func coerce(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return nil
		}
		return v.UTC().Format(time.RFC3339)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = coerce(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = coerce(item)
		}
		return out
	default:
		return v
	}
}
