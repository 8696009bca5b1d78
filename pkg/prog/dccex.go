package prog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cvlink-project/cvlink-go/pkg/dccex"
	"github.com/cvlink-project/cvlink-go/pkg/log"
	"github.com/cvlink-project/cvlink-go/pkg/transport"
)

// DCCEXOptions configures a DCC-EX backend.
type DCCEXOptions struct {
	// MaxCV bounds the accepted CV range (default DefaultMaxCV).
	MaxCV int

	// Timeout is the window for a service-mode operation to complete
	// (default DefaultPendingTimeout).
	Timeout time.Duration

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// DCCEXBackend programs CVs on the service-mode track of a DCC-EX
// command station. The programming track is a single shared resource:
// one outstanding operation at a time, correlated by an (id, sub)
// token and force-failed by a timeout.
//
// The backend owns its transport connection and receive buffer
// exclusively; all inbound processing runs on the transport's receive
// goroutine, in arrival order.
type DCCEXBackend struct {
	conn    transport.Conn
	maxCV   int
	framer  dccex.Framer
	pending *pendingTracker
	em      *emitter
}

// NewDCCEXBackend creates a backend on the given transport (TCP or
// serial). The backend installs itself as the transport's handler.
func NewDCCEXBackend(conn transport.Conn, opts DCCEXOptions) *DCCEXBackend {
	if opts.MaxCV <= 0 || opts.MaxCV > MaxMaxCV {
		opts.MaxCV = DefaultMaxCV
	}

	b := &DCCEXBackend{
		conn:  conn,
		maxCV: opts.MaxCV,
		em:    newEmitter(opts.Logger, uuid.NewString(), "dccex", conn.RemoteAddr()),
	}
	b.pending = newPendingTracker(opts.Timeout, b.onPendingTimeout)
	conn.SetHandler(b)
	return b
}

// Connect establishes the transport connection.
func (b *DCCEXBackend) Connect(ctx context.Context) error {
	return b.conn.Connect(ctx)
}

// Disconnect tears the connection down. A pending operation is
// discarded silently and the busy flag lowered.
func (b *DCCEXBackend) Disconnect() error {
	return b.conn.Close()
}

// Events returns the backend's notification stream.
func (b *DCCEXBackend) Events() <-chan Event {
	return b.em.ch
}

// Busy reports whether a service-mode operation is pending.
func (b *DCCEXBackend) Busy() bool {
	return b.pending.busy()
}

// State returns the transport connection state.
func (b *DCCEXBackend) State() transport.State {
	return b.conn.State()
}

// ReadCV requests the value of a 1-based CV from the programming
// track. It fails immediately with ErrBusy while another operation is
// pending.
func (b *DCCEXBackend) ReadCV(cv int) error {
	return b.issue(cv, opRead, 0)
}

// WriteCV writes value to a 1-based CV on the programming track. It
// fails immediately with ErrBusy while another operation is pending.
func (b *DCCEXBackend) WriteCV(cv int, value byte) error {
	return b.issue(cv, opWrite, value)
}

// issue claims the track, sends the tagged request and arms the
// timeout.
func (b *DCCEXBackend) issue(cv int, kind opKind, value byte) error {
	if !validCV(cv, b.maxCV) {
		err := fmt.Errorf("%w: %d (1..%d)", ErrInvalidCV, cv, b.maxCV)
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: err.Error()})
		return err
	}
	if b.conn.State() != transport.StateConnected {
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: "Not connected"})
		return ErrNotConnected
	}

	tok, ok := b.pending.begin(cv, kind, value)
	if !ok {
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: BusyMessage})
		return ErrBusy
	}

	var req string
	if kind == opWrite {
		req = dccex.FormatWriteTagged(cv, value, tok)
	} else {
		req = dccex.FormatReadTagged(cv, tok)
	}

	b.em.logIssue(kind == opWrite, cv)
	b.em.logFrame(log.DirectionOut, []byte(req))

	if err := b.conn.Send([]byte(req)); err != nil {
		b.pending.drop()
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: err.Error()})
		return err
	}
	return nil
}

// onPendingTimeout is the tracker's timer path: exactly one failure
// event per timed-out operation.
func (b *DCCEXBackend) onPendingTimeout(op pendingOp) {
	b.em.emit(Event{Type: EventFailure, CV: op.cv, Message: TimeoutMessage})
}

// OnData implements transport.Handler. It drains complete messages
// from the framer and interprets them.
func (b *DCCEXBackend) OnData(data []byte) {
	b.em.logFrame(log.DirectionIn, data)

	for _, raw := range b.framer.Push(data) {
		b.handleMessage(raw)
	}
}

// handleMessage interprets one framed message.
//
// Matching precedence: a tagged response completes the pending
// operation only when its id/sub pair matches; a bare response is a
// best-effort match by CV number alone. A response that matches
// nothing is still reported but leaves the pending state untouched.
func (b *DCCEXBackend) handleMessage(raw string) {
	msg, err := dccex.ParseMessage(raw)
	if err != nil {
		// Malformed frame content; ignore.
		return
	}

	resp, ok := dccex.ParseCVResponse(msg)
	if !ok {
		b.em.emit(Event{Type: EventInfo, Message: raw})
		return
	}

	op, matched := b.pending.complete(func(op pendingOp) bool {
		if resp.Tagged {
			return op.tok == resp.Token
		}
		return op.cv == resp.CV
	})

	cv := resp.CV
	if matched {
		cv = op.cv
	}

	switch {
	case resp.Failed() && matched:
		b.em.emit(Event{Type: EventNack, CV: cv})
	case resp.Failed():
		b.em.emit(Event{Type: EventFailure, CV: cv,
			Message: fmt.Sprintf("Programming failed for CV %d", cv)})
	case resp.Write:
		b.em.emit(Event{Type: EventWriteResult, CV: cv, Value: byte(resp.Value)})
	default:
		b.em.emit(Event{Type: EventReadResult, CV: cv, Value: byte(resp.Value)})
	}
}

// OnStateChange implements transport.Handler.
func (b *DCCEXBackend) OnStateChange(oldState, newState transport.State) {
	b.em.logState(oldState, newState)

	if newState == transport.StateDisconnected {
		// Teardown discards the pending operation without an event and
		// resets the receive buffer for a clean reconnect.
		b.pending.drop()
		b.framer.Reset()
	}
}

// OnError implements transport.Handler.
func (b *DCCEXBackend) OnError(err error) {
	b.em.emit(Event{Type: EventFailure, Message: err.Error()})
}

// Compile-time interface satisfaction checks.
var (
	_ Backend           = (*DCCEXBackend)(nil)
	_ transport.Handler = (*DCCEXBackend)(nil)
)
