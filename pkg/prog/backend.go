package prog

import (
	"context"
	"errors"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/log"
	"github.com/cvlink-project/cvlink-go/pkg/transport"
)

// Limits and defaults shared by both backends.
const (
	// DefaultMaxCV is the default upper bound of the CV range. DCC-EX
	// conceptually accepts up to 1024, but decoders expose 1..255 and
	// the Z21 POM option byte carries no more than 10 bits anyway.
	DefaultMaxCV = 255

	// MaxMaxCV is the hard ceiling for the configurable CV range.
	MaxMaxCV = 255

	// eventBuffer is the backend event channel capacity. Overflow
	// drops the newest event and logs the loss; consumers that poll
	// at all keep far below this.
	eventBuffer = 64
)

// Failure messages surfaced as events.
const (
	// BusyMessage is emitted when an operation is rejected because one
	// is already pending.
	BusyMessage = "Programming track busy"

	// TimeoutMessage is emitted when a pending operation times out.
	TimeoutMessage = "Programming operation timed out"
)

// Backend errors. Every one of them is also surfaced as an
// EventFailure on the event stream; none is fatal to the connection.
var (
	ErrInvalidCV    = errors.New("cv out of range")
	ErrNotConnected = errors.New("not connected")
	ErrBusy         = errors.New("programming track busy")
	ErrTimeout      = errors.New("programming operation timed out")
)

// Backend is the uniform operation surface over one command-station
// protocol. Callers depend only on this interface; the concrete
// backends own their transport connection exclusively.
type Backend interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. A pending operation is
	// discarded silently.
	Disconnect() error

	// ReadCV requests the value of a 1-based CV. The result arrives
	// as an event.
	ReadCV(cv int) error

	// WriteCV writes value to a 1-based CV. The confirmation arrives
	// as an event.
	WriteCV(cv int, value byte) error

	// Events returns the backend's notification stream. Events are
	// delivered in arrival order.
	Events() <-chan Event

	// Busy reports whether an operation is pending on a single-slot
	// resource. Always false for fire-and-forget backends.
	Busy() bool

	// State returns the transport connection state.
	State() transport.State
}

// emitter delivers events to the channel and mirrors them to the
// protocol log. Delivery never blocks the receive path: when the
// consumer has fallen eventBuffer events behind, the event is dropped
// and the loss is logged.
type emitter struct {
	ch       chan Event
	logger   log.Logger
	connID   string
	protocol string
	station  string
}

func newEmitter(logger log.Logger, connID, protocol, station string) *emitter {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &emitter{
		ch:       make(chan Event, eventBuffer),
		logger:   logger,
		connID:   connID,
		protocol: protocol,
		station:  station,
	}
}

func (e *emitter) emit(ev Event) {
	e.logOp(ev)
	select {
	case e.ch <- ev:
	default:
		e.logger.Log(e.event(log.DirectionIn, log.LayerProg, log.CategoryError, log.Event{
			Error: &log.ErrorEventData{Layer: log.LayerProg, Message: "event dropped: consumer too slow"},
		}))
	}
}

// event fills the common header fields of a log event.
func (e *emitter) event(dir log.Direction, layer log.Layer, cat log.Category, ev log.Event) log.Event {
	ev.Timestamp = time.Now()
	ev.ConnectionID = e.connID
	ev.Direction = dir
	ev.Layer = layer
	ev.Category = cat
	ev.Protocol = e.protocol
	ev.Station = e.station
	return ev
}

// logOp mirrors a backend event into the protocol log.
func (e *emitter) logOp(ev Event) {
	switch ev.Type {
	case EventReadResult, EventWriteResult:
		e.logger.Log(e.event(log.DirectionIn, log.LayerProg, log.CategoryOperation, log.Event{
			CVOp: &log.CVOpEvent{
				Write:   ev.Type == EventWriteResult,
				CV:      ev.CV,
				Value:   int(ev.Value),
				Outcome: "ok",
			},
		}))
	case EventNack:
		e.logger.Log(e.event(log.DirectionIn, log.LayerProg, log.CategoryOperation, log.Event{
			CVOp: &log.CVOpEvent{CV: ev.CV, Value: -1, Outcome: "nack"},
		}))
	case EventFailure:
		e.logger.Log(e.event(log.DirectionIn, log.LayerProg, log.CategoryError, log.Event{
			Error: &log.ErrorEventData{Layer: log.LayerProg, Message: ev.Message},
		}))
	case EventInfo:
		// Informational traffic is already captured at the wire layer.
	}
}

// logFrame records raw bytes at the transport layer.
func (e *emitter) logFrame(dir log.Direction, data []byte) {
	e.logger.Log(e.event(dir, log.LayerTransport, log.CategoryMessage, log.Event{
		Frame: log.NewFrameEvent(data),
	}))
}

// logState records a connection state change.
func (e *emitter) logState(oldState, newState transport.State) {
	e.logger.Log(e.event(log.DirectionIn, log.LayerTransport, log.CategoryState, log.Event{
		StateChange: &log.StateChangeEvent{
			OldState: oldState.String(),
			NewState: newState.String(),
		},
	}))
}

// logIssue records an issued request at the programming layer.
func (e *emitter) logIssue(write bool, cv int) {
	e.logger.Log(e.event(log.DirectionOut, log.LayerProg, log.CategoryOperation, log.Event{
		CVOp: &log.CVOpEvent{Write: write, CV: cv, Value: -1},
	}))
}

// validCV checks a 1-based CV number against the configured range.
func validCV(cv, maxCV int) bool {
	return cv >= 1 && cv <= maxCV
}
