package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate DCC-EX command stations run their USB
// console at.
const DefaultBaudRate = 115200

// SerialConn is a serial-port stream transport for command stations
// attached over USB. Same chunk semantics as TCPConn.
type SerialConn struct {
	device  string
	baud    int
	handler Handler

	mu      sync.RWMutex
	writeMu sync.Mutex
	port    serial.Port
	state   atomic.Int32

	closeOnce sync.Once
	closeDone chan struct{}
}

// NewSerialConn creates a serial transport for a device path such as
// /dev/ttyUSB0. A baud of 0 selects DefaultBaudRate.
func NewSerialConn(device string, baud int) *SerialConn {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	c := &SerialConn{device: device, baud: baud}
	c.state.Store(int32(StateDisconnected))
	return c
}

// SetHandler installs the callback target. Must be called before Connect.
func (c *SerialConn) SetHandler(h Handler) {
	c.handler = h
}

// State returns the current connection state.
func (c *SerialConn) State() State {
	return State(c.state.Load())
}

// RemoteAddr returns the device path.
func (c *SerialConn) RemoteAddr() string {
	return c.device
}

// Connect opens the port 8N1 at the configured baud rate and starts
// the receive loop.
func (c *SerialConn) Connect(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	c.handler.OnStateChange(StateDisconnected, StateConnecting)

	mode := &serial.Mode{
		BaudRate: c.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(c.device, mode)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		c.handler.OnStateChange(StateConnecting, StateDisconnected)
		return fmt.Errorf("open %s: %w", c.device, err)
	}

	c.mu.Lock()
	c.port = port
	c.closeOnce = sync.Once{}
	c.closeDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(port)

	c.state.Store(int32(StateConnected))
	c.handler.OnStateChange(StateConnecting, StateConnected)

	_ = ctx // serial open has no cancellation point
	return nil
}

// Send writes data to the port. Sends from multiple goroutines are
// serialized.
func (c *SerialConn) Send(data []byte) error {
	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()

	if port == nil || c.State() != StateConnected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("serial send: %w", err)
	}
	return nil
}

// Close closes the port and waits for the receive loop to exit.
func (c *SerialConn) Close() error {
	c.closeOnce.Do(func() {
		old := c.State()
		if old == StateDisconnected {
			return
		}
		c.state.Store(int32(StateClosing))
		c.handler.OnStateChange(old, StateClosing)

		c.mu.Lock()
		port := c.port
		c.port = nil
		done := c.closeDone
		c.mu.Unlock()

		if port != nil {
			port.Close()
		}
		if done != nil {
			<-done
		}

		c.state.Store(int32(StateDisconnected))
		c.handler.OnStateChange(StateClosing, StateDisconnected)
	})
	return nil
}

// readLoop delivers chunks to the handler until the port closes.
func (c *SerialConn) readLoop(port serial.Port) {
	defer close(c.closeDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.handler.OnData(data)
		}
		if err != nil {
			var pe *serial.PortError
			if c.State() == StateClosing || (errors.As(err, &pe) && pe.Code() == serial.PortClosed) {
				return
			}
			c.handler.OnError(fmt.Errorf("serial receive: %w", err))
			go c.Close()
			return
		}
	}
}

// Compile-time interface satisfaction check.
var _ Conn = (*SerialConn)(nil)
