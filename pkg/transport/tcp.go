package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCP transport defaults.
const (
	// DefaultDialTimeout bounds the TCP dial when the context carries
	// no earlier deadline.
	DefaultDialTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds each send.
	DefaultWriteTimeout = 5 * time.Second

	// readChunkSize is the receive buffer size for stream reads.
	readChunkSize = 4096
)

// TCPConn is a TCP stream transport delivering received chunks to its
// handler as they arrive, with no framing of its own.
type TCPConn struct {
	addr         string
	handler      Handler
	writeTimeout time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    net.Conn
	state   atomic.Int32

	closeOnce sync.Once
	closeDone chan struct{}
}

// NewTCPConn creates a TCP transport for the given "host:port" address.
func NewTCPConn(addr string) *TCPConn {
	c := &TCPConn{
		addr:         addr,
		writeTimeout: DefaultWriteTimeout,
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// SetHandler installs the callback target. Must be called before Connect.
func (c *TCPConn) SetHandler(h Handler) {
	c.handler = h
}

// SetWriteTimeout overrides the per-send deadline. Zero disables it.
func (c *TCPConn) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// State returns the current connection state.
func (c *TCPConn) State() State {
	return State(c.state.Load())
}

// RemoteAddr returns the configured remote address.
func (c *TCPConn) RemoteAddr() string {
	return c.addr
}

// Connect dials the station and starts the receive loop. DCC-EX has no
// application-level handshake; requests may be sent as soon as Connect
// returns, tolerating early loss.
func (c *TCPConn) Connect(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	c.handler.OnStateChange(StateDisconnected, StateConnecting)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.handler.OnStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closeOnce = sync.Once{}
	c.closeDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	c.state.Store(int32(StateConnected))
	c.handler.OnStateChange(StateConnecting, StateConnected)

	return nil
}

// Send writes data to the stream. Sends from multiple goroutines are
// serialized.
func (c *TCPConn) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("tcp send: %w", err)
	}
	return nil
}

// Close tears the connection down and waits for the receive loop to exit.
func (c *TCPConn) Close() error {
	c.closeOnce.Do(func() {
		old := c.State()
		if old == StateDisconnected {
			return
		}
		c.state.Store(int32(StateClosing))
		c.handler.OnStateChange(old, StateClosing)

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		done := c.closeDone
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if done != nil {
			<-done
		}

		c.state.Store(int32(StateDisconnected))
		c.handler.OnStateChange(StateClosing, StateDisconnected)
	})
	return nil
}

// readLoop delivers stream chunks to the handler until the socket closes.
func (c *TCPConn) readLoop(conn net.Conn) {
	defer close(c.closeDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.handler.OnData(data)
		}
		if err != nil {
			if c.State() == StateClosing || errors.Is(err, net.ErrClosed) {
				return
			}
			c.handler.OnError(fmt.Errorf("tcp receive: %w", err))
			go c.Close()
			return
		}
	}
}

// Compile-time interface satisfaction check.
var _ Conn = (*TCPConn)(nil)
