package realtime

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory stand-in for a websocket connection.
type fakeConn struct {
	reads chan []byte

	mu     sync.Mutex
	writes [][]byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case payload := <-c.reads:
		return websocket.TextMessage, payload, nil
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(payload string) {
	c.reads <- []byte(payload)
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func TestSessionZeroPeriodDisablesProbing(t *testing.T) {
	s := NewSession(newFakeConn(), 0, nil, nil)
	assert.Equal(t, disabledLivenessPeriod, s.period)
}

func TestSessionBindUser(t *testing.T) {
	s := NewSession(newFakeConn(), time.Minute, nil, nil)
	assert.Empty(t, s.UserID())
	s.BindUser("u-1")
	assert.Equal(t, "u-1", s.UserID())
}

func TestSessionMonitorSendsProbe(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, 100*time.Millisecond, nil, nil)
	s.Start()
	defer s.Close()

	// The first check fires at half a period; the session has seen a
	// recent reply (its start time), so it probes instead of closing.
	require.Eventually(t, func() bool {
		for _, w := range conn.written() {
			if w == PingFrame {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.False(t, conn.isClosed())
}

func TestSessionMonitorClosesUnresponsiveConnection(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, 50*time.Millisecond, nil, nil)
	// Backdate the last reply so the very first check exceeds the period.
	s.mu.Lock()
	s.lastReply = time.Now().Add(-time.Second)
	s.mu.Unlock()
	s.Start()
	defer s.Stop()

	require.Eventually(t, conn.isClosed, time.Second, 5*time.Millisecond)
}

func TestSessionTouchKeepsConnectionAlive(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, 60*time.Millisecond, nil, nil)
	s.Start()
	defer s.Close()

	deadline := time.After(300 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			assert.False(t, conn.isClosed())
			return
		case <-tick.C:
			s.Touch()
		}
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	s := NewSession(newFakeConn(), time.Minute, nil, nil)
	s.Start()
	s.Stop()
	s.Stop()
}
