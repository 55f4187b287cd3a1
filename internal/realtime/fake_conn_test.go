package realtime

import (
	"errors"
	"sync"
	"time"
)

var errFakeTimeout = errors.New("i/o timeout")

type fakeConn struct {
	inbound chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once

	mu           sync.Mutex
	readDeadline time.Time
	resume       chan struct{}
	pong         func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case msg := <-c.inbound:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case <-timeout:
		return 0, nil, errFakeTimeout
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	resume := c.resume
	c.mu.Unlock()
	if resume != nil {
		select {
		case <-resume:
		case <-c.closed:
			return errors.New("use of closed connection")
		}
	}
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.written <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pong = h
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// pause blocks every subsequent write until the returned func is called.
func (c *fakeConn) pause() func() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.resume = ch
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.resume = nil
		c.mu.Unlock()
		close(ch)
	}
}
