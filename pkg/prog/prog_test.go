package prog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/transport"
)

// fakeConn is an in-memory transport for backend tests. Inbound data
// is injected with deliver, outbound frames are recorded.
type fakeConn struct {
	mu      sync.Mutex
	handler transport.Handler
	state   transport.State
	sent    [][]byte
	sendErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{state: transport.StateDisconnected}
}

func (c *fakeConn) SetHandler(h transport.Handler) {
	c.handler = h
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	old := c.state
	c.state = transport.StateConnected
	c.mu.Unlock()
	c.handler.OnStateChange(old, transport.StateConnected)
	return nil
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	old := c.state
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	if old != transport.StateDisconnected {
		c.handler.OnStateChange(old, transport.StateDisconnected)
	}
	return nil
}

func (c *fakeConn) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) RemoteAddr() string { return "test:0" }

// deliver injects inbound bytes as if they arrived from the station.
func (c *fakeConn) deliver(data []byte) {
	c.handler.OnData(data)
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) lastSent() []byte {
	frames := c.sentFrames()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// waitEvent pulls the next event or fails the test.
func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

// waitEventType pulls events until one of the wanted type arrives,
// skipping informational noise.
func waitEventType(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", want)
			return Event{}
		}
	}
}

func expectNoEvent(t *testing.T, ch <-chan Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(d):
	}
}
