package prog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cvlink-project/cvlink-go/pkg/log"
	"github.com/cvlink-project/cvlink-go/pkg/transport"
	"github.com/cvlink-project/cvlink-go/pkg/z21"
)

// Default synchronous wait windows. Reads take one POM round trip on
// the main track plus the decoder's RailCom answer; writes include the
// decoder's commit, so they get more headroom.
const (
	DefaultZ21ReadTimeout  = 800 * time.Millisecond
	DefaultZ21WriteTimeout = 1200 * time.Millisecond
)

// Z21Options configures a Z21 backend.
type Z21Options struct {
	// LocoAddress is the 14-bit decoder address POM operations are
	// directed at. Zero addresses the broadcast/service decoder 0,
	// which most stations reject, so callers normally set this.
	LocoAddress uint16

	// MaxCV bounds the accepted CV range (default DefaultMaxCV).
	MaxCV int

	// ReadTimeout and WriteTimeout bound the synchronous helpers
	// (defaults DefaultZ21ReadTimeout/DefaultZ21WriteTimeout).
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// StrictChecksum rejects CV results with a bad X-Bus checksum
	// instead of trusting the UDP checksum.
	StrictChecksum bool

	// KeepAlive configures the serial-number heartbeat that stops the
	// station from dropping an idle client. Zero values take the
	// transport defaults.
	KeepAlive transport.KeepAliveConfig

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// Z21Backend programs CVs over the Z21 LAN protocol using POM (program
// on main) frames. POM is fire-and-forget: requests are not
// correlated, the station answers reads with LAN_X_CV_RESULT and
// failures with LAN_X_CV_NACK whenever the decoder gets around to it.
// Writes produce no confirmation at all, so WriteCV synthesizes one as
// soon as the frame is on the wire.
//
// ReadCVSync and WriteCVSync layer a per-CV waiter on top for callers
// that want a blocking round trip.
type Z21Backend struct {
	conn  transport.Conn
	codec z21.Codec
	ka    *transport.KeepAlive
	em    *emitter

	locoAddress  uint16
	maxCV        int
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	waiters map[int]chan z21.Message
}

// NewZ21Backend creates a backend on the given transport (normally
// UDP). The backend installs itself as the transport's handler.
func NewZ21Backend(conn transport.Conn, opts Z21Options) *Z21Backend {
	if opts.MaxCV <= 0 || opts.MaxCV > MaxMaxCV {
		opts.MaxCV = DefaultMaxCV
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultZ21ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultZ21WriteTimeout
	}
	if opts.KeepAlive.PingInterval <= 0 {
		opts.KeepAlive = transport.DefaultKeepAliveConfig()
	}

	b := &Z21Backend{
		conn:         conn,
		codec:        z21.Codec{StrictChecksum: opts.StrictChecksum},
		em:           newEmitter(opts.Logger, uuid.NewString(), "z21", conn.RemoteAddr()),
		locoAddress:  opts.LocoAddress,
		maxCV:        opts.MaxCV,
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		waiters:      make(map[int]chan z21.Message),
	}
	b.ka = transport.NewKeepAlive(opts.KeepAlive, b.sendHeartbeat, b.onKeepAliveTimeout)
	conn.SetHandler(b)
	return b
}

// Connect establishes the transport connection and starts the
// heartbeat.
func (b *Z21Backend) Connect(ctx context.Context) error {
	if err := b.conn.Connect(ctx); err != nil {
		return err
	}
	b.ka.Start(context.Background())
	return nil
}

// Disconnect sends LAN_LOGOFF, stops the heartbeat and closes the
// connection. Outstanding waiters are failed.
func (b *Z21Backend) Disconnect() error {
	b.ka.Stop()
	if b.conn.State() == transport.StateConnected {
		// Best effort; the station drops us on silence anyway.
		_ = b.send(z21.BuildLogoff())
	}
	return b.conn.Close()
}

// Events returns the backend's notification stream.
func (b *Z21Backend) Events() <-chan Event {
	return b.em.ch
}

// Busy always reports false: POM operations are fire-and-forget and
// the Z21 does not serialize them for us.
func (b *Z21Backend) Busy() bool {
	return false
}

// State returns the transport connection state.
func (b *Z21Backend) State() transport.State {
	return b.conn.State()
}

// ReadCV requests the value of a 1-based CV via POM. The result, if
// the decoder answers, arrives as an event.
func (b *Z21Backend) ReadCV(cv int) error {
	if !validCV(cv, b.maxCV) {
		return b.rejectCV(cv)
	}
	pkt, err := z21.BuildPOMReadByte(b.locoAddress, uint16(cv-1))
	if err != nil {
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: err.Error()})
		return err
	}
	b.em.logIssue(false, cv)
	return b.send(pkt)
}

// WriteCV writes value to a 1-based CV via POM. The station never
// confirms POM writes, so a write-result event is synthesized once the
// frame is sent.
func (b *Z21Backend) WriteCV(cv int, value byte) error {
	if !validCV(cv, b.maxCV) {
		return b.rejectCV(cv)
	}
	pkt, err := z21.BuildPOMWriteByte(b.locoAddress, uint16(cv-1), value)
	if err != nil {
		b.em.emit(Event{Type: EventFailure, CV: cv, Message: err.Error()})
		return err
	}
	b.em.logIssue(true, cv)
	if err := b.send(pkt); err != nil {
		return err
	}
	b.em.emit(Event{Type: EventWriteResult, CV: cv, Value: value})
	return nil
}

// ReadCVSync reads a CV and blocks until the result, a nack, ctx
// cancellation or the read timeout. The bool result distinguishes a
// decoder nack (false, nil error) from a value.
func (b *Z21Backend) ReadCVSync(ctx context.Context, cv int) (byte, bool, error) {
	ch, err := b.addWaiter(cv)
	if err != nil {
		return 0, false, err
	}

	if err := b.ReadCV(cv); err != nil {
		b.removeWaiter(cv)
		return 0, false, err
	}

	msg, err := b.await(ctx, cv, ch, b.readTimeout)
	if err != nil {
		return 0, false, err
	}
	if msg.Kind == z21.MessageCVNack {
		return 0, false, nil
	}
	return msg.Value, true, nil
}

// WriteCVSync writes a CV and blocks until the synthesized
// confirmation, a nack, ctx cancellation or the write timeout.
func (b *Z21Backend) WriteCVSync(ctx context.Context, cv int, value byte) (bool, error) {
	ch, err := b.addWaiter(cv)
	if err != nil {
		return false, err
	}

	if err := b.WriteCV(cv, value); err != nil {
		b.removeWaiter(cv)
		return false, err
	}
	// WriteCV already synthesized the confirmation event; the waiter
	// only catches a nack the station sends for a rejected write.
	msg, err := b.await(ctx, cv, ch, b.writeTimeout)
	if errors.Is(err, ErrTimeout) {
		// Silence is the normal outcome of a POM write.
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return msg.Kind != z21.MessageCVNack, nil
}

// rejectCV reports an out-of-range CV.
func (b *Z21Backend) rejectCV(cv int) error {
	err := fmt.Errorf("%w: %d (1..%d)", ErrInvalidCV, cv, b.maxCV)
	b.em.emit(Event{Type: EventFailure, CV: cv, Message: err.Error()})
	return err
}

// send pushes one datagram, logging the frame.
func (b *Z21Backend) send(pkt []byte) error {
	if b.conn.State() != transport.StateConnected {
		b.em.emit(Event{Type: EventFailure, Message: "Not connected"})
		return ErrNotConnected
	}
	b.em.logFrame(log.DirectionOut, pkt)
	if err := b.conn.Send(pkt); err != nil {
		b.em.emit(Event{Type: EventFailure, Message: err.Error()})
		return err
	}
	return nil
}

// addWaiter registers a synchronous waiter for a CV. A second waiter
// for the same CV is rejected rather than queued: there is no way to
// tell two identical in-flight reads apart on this protocol.
func (b *Z21Backend) addWaiter(cv int) (chan z21.Message, error) {
	if !validCV(cv, b.maxCV) {
		return nil, b.rejectCV(cv)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.waiters[cv]; exists {
		return nil, ErrBusy
	}
	ch := make(chan z21.Message, 1)
	b.waiters[cv] = ch
	return ch, nil
}

// removeWaiter clears a waiter registration if it is still present.
func (b *Z21Backend) removeWaiter(cv int) {
	b.mu.Lock()
	delete(b.waiters, cv)
	b.mu.Unlock()
}

// resolveWaiter delivers a station message to the waiter for cv, if
// any. Removal and send happen under the lock; the channel is buffered
// so the send cannot block.
func (b *Z21Backend) resolveWaiter(cv int, msg z21.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.waiters[cv]
	if !ok {
		return false
	}
	delete(b.waiters, cv)
	ch <- msg
	return true
}

// await blocks on a waiter channel. On timeout or cancellation the
// registration is removed; if the resolver got there first, the
// buffered message is guaranteed to be readable and wins.
func (b *Z21Backend) await(ctx context.Context, cv int, ch chan z21.Message, timeout time.Duration) (z21.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return msg, nil

	case <-ctx.Done():
		if msg, ok := b.reclaim(cv, ch); ok {
			return msg, nil
		}
		return z21.Message{}, ctx.Err()

	case <-timer.C:
		if msg, ok := b.reclaim(cv, ch); ok {
			return msg, nil
		}
		return z21.Message{}, ErrTimeout
	}
}

// reclaim resolves the race between a late response and the waiter
// giving up: if the registration is gone the resolver has already
// buffered a message, which is returned instead of the failure.
func (b *Z21Backend) reclaim(cv int, ch chan z21.Message) (z21.Message, bool) {
	b.mu.Lock()
	_, present := b.waiters[cv]
	if present {
		delete(b.waiters, cv)
	}
	b.mu.Unlock()

	if present {
		return z21.Message{}, false
	}
	return <-ch, true
}

// soleWaiterCV returns the CV of the only registered waiter, if there
// is exactly one. A CV_NACK carries no CV number, so it can only be
// attributed when a single operation is in flight.
func (b *Z21Backend) soleWaiterCV() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.waiters) != 1 {
		return 0, false
	}
	for cv := range b.waiters {
		return cv, true
	}
	return 0, false
}

// sendHeartbeat is the keepalive ping: LAN_GET_SERIAL_NUMBER is the
// cheapest request the station always answers.
func (b *Z21Backend) sendHeartbeat() error {
	if b.conn.State() != transport.StateConnected {
		return ErrNotConnected
	}
	return b.conn.Send(z21.BuildSerialNumberRequest())
}

// onKeepAliveTimeout tears the connection down after sustained
// silence.
func (b *Z21Backend) onKeepAliveTimeout() {
	b.em.emit(Event{Type: EventFailure, Message: "Station stopped responding"})
	_ = b.conn.Close()
}

// OnData implements transport.Handler. A UDP datagram may pack several
// LAN packets back to back, each prefixed with its little-endian
// length; they are split here and decoded one by one. Any inbound
// traffic counts as proof of life for the keepalive.
func (b *Z21Backend) OnData(data []byte) {
	b.ka.MarkAlive()
	b.em.logFrame(log.DirectionIn, data)

	for len(data) >= 4 {
		n := int(binary.LittleEndian.Uint16(data[0:2]))
		if n < 4 || n > len(data) {
			return
		}
		b.handlePacket(data[:n])
		data = data[n:]
	}
}

// handlePacket interprets one LAN packet.
func (b *Z21Backend) handlePacket(pkt []byte) {
	msg, err := b.codec.DecodeInbound(pkt)
	if err != nil {
		b.em.emit(Event{Type: EventFailure, Message: err.Error()})
		return
	}

	switch msg.Kind {
	case z21.MessageCVResult:
		// The wire carries the 0-based CV address.
		cv := int(msg.CV) + 1
		b.resolveWaiter(cv, msg)
		b.em.emit(Event{Type: EventReadResult, CV: cv, Value: msg.Value})

	case z21.MessageCVNack:
		if cv, ok := b.soleWaiterCV(); ok {
			b.resolveWaiter(cv, msg)
			b.em.emit(Event{Type: EventNack, CV: cv})
			return
		}
		b.em.emit(Event{Type: EventNack})

	case z21.MessageSerialNumber:
		// Heartbeat answer; MarkAlive already counted it.

	default:
		// Broadcast traffic we did not subscribe to; ignore.
	}
}

// OnStateChange implements transport.Handler.
func (b *Z21Backend) OnStateChange(oldState, newState transport.State) {
	b.em.logState(oldState, newState)

	if newState == transport.StateDisconnected {
		b.ka.Stop()
		b.failWaiters()
	}
}

// OnError implements transport.Handler.
func (b *Z21Backend) OnError(err error) {
	b.em.emit(Event{Type: EventFailure, Message: err.Error()})
}

// failWaiters resolves every outstanding waiter with a nack so
// synchronous callers unblock immediately on disconnect.
func (b *Z21Backend) failWaiters() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for cv, ch := range b.waiters {
		delete(b.waiters, cv)
		ch <- z21.Message{Kind: z21.MessageCVNack}
	}
}

var (
	_ Backend           = (*Z21Backend)(nil)
	_ transport.Handler = (*Z21Backend)(nil)
)
