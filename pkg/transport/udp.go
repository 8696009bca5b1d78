package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// MaxDatagramSize is the receive buffer size for UDP datagrams. Z21
// datagrams never exceed a few dozen bytes, but the station may pack
// several LAN packets into one datagram.
const MaxDatagramSize = 1472

// UDPConn is a connected UDP socket delivering whole datagrams to its
// handler. Sends are fire-and-forget; the socket reports no delivery
// feedback beyond ICMP-driven errors on subsequent operations.
type UDPConn struct {
	addr    string
	handler Handler

	mu    sync.RWMutex
	conn  *net.UDPConn
	state atomic.Int32

	closeOnce sync.Once
	closeDone chan struct{}
}

// NewUDPConn creates a UDP transport for the given "host:port" address.
func NewUDPConn(addr string) *UDPConn {
	c := &UDPConn{addr: addr}
	c.state.Store(int32(StateDisconnected))
	return c
}

// SetHandler installs the callback target. Must be called before Connect.
func (c *UDPConn) SetHandler(h Handler) {
	c.handler = h
}

// State returns the current connection state.
func (c *UDPConn) State() State {
	return State(c.state.Load())
}

// RemoteAddr returns the configured remote address.
func (c *UDPConn) RemoteAddr() string {
	return c.addr
}

// Connect resolves the address, binds the socket and starts the
// receive loop. UDP has no handshake; the transport is usable for
// sending as soon as Connect returns.
func (c *UDPConn) Connect(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	c.handler.OnStateChange(StateDisconnected, StateConnecting)

	raddr, err := net.ResolveUDPAddr("udp", c.addr)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.handler.OnStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("resolve %s: %w", c.addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
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

	_ = ctx // no blocking work after the dial
	return nil
}

// Send transmits one datagram.
func (c *UDPConn) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("udp send: %w", err)
	}
	return nil
}

// Close tears the socket down and waits for the receive loop to exit.
func (c *UDPConn) Close() error {
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

// readLoop delivers datagrams to the handler until the socket closes.
func (c *UDPConn) readLoop(conn *net.UDPConn) {
	defer close(c.closeDone)

	buf := make([]byte, MaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if c.State() == StateClosing || errors.Is(err, net.ErrClosed) {
				return
			}
			c.handler.OnError(fmt.Errorf("udp receive: %w", err))
			go c.Close()
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		c.handler.OnData(data)
	}
}

// Compile-time interface satisfaction check.
var _ Conn = (*UDPConn)(nil)
