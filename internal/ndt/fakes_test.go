package ndt

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type frame struct {
	messageType int
	data        []byte
	advance     time.Duration
	err         error
}

// scriptedConn replays frames, then blocks until closed.
type scriptedConn struct {
	mu     sync.Mutex
	frames []frame
	clock  *fakeClock

	writeErr   error
	blockWrite bool
	writes     atomic.Int32
	controls   atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedConn(clock *fakeClock, frames ...frame) *scriptedConn {
	return &scriptedConn{frames: frames, clock: clock, closed: make(chan struct{})}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		next := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()

		if c.clock != nil {
			c.clock.Advance(next.advance)
		} else if next.advance > 0 {
			time.Sleep(next.advance)
		}
		if next.err != nil {
			return 0, nil, next.err
		}
		return next.messageType, next.data, nil
	}
	c.mu.Unlock()

	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *scriptedConn) WriteMessage(int, []byte) error {
	c.writes.Add(1)
	if c.blockWrite {
		<-c.closed
		return net.ErrClosed
	}
	return c.writeErr
}

func (c *scriptedConn) WriteControl(int, []byte, time.Time) error {
	c.controls.Add(1)
	return nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testEngine() *Engine {
	engine := NewEngine()
	engine.Window = 300 * time.Millisecond
	engine.HardCap = 2 * time.Second
	return engine
}
