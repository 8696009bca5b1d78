package prog

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/dccex"
)

// DefaultPendingTimeout is the default window for a service-mode
// operation to complete before it is force-failed.
const DefaultPendingTimeout = 3 * time.Second

// opKind distinguishes pending reads from writes.
type opKind uint8

const (
	opRead opKind = iota
	opWrite
)

// pendingOp is the single outstanding service-mode operation. Its
// existence means the programming track is busy.
type pendingOp struct {
	tok       dccex.Token
	cv        int
	kind      opKind
	value     byte
	startedAt time.Time
}

// pendingTracker serializes access to the programming track: one
// operation at a time, force-failed by a one-shot timer. begin,
// complete, expiry and drop are mutually atomic, so an operation is
// cleared exactly once no matter how the response and the timeout
// race.
type pendingTracker struct {
	mu      sync.Mutex
	op      *pendingOp
	timer   *time.Timer
	timeout time.Duration

	// onTimeout is invoked outside the lock when the timer wins.
	onTimeout func(op pendingOp)
}

func newPendingTracker(timeout time.Duration, onTimeout func(op pendingOp)) *pendingTracker {
	if timeout <= 0 {
		timeout = DefaultPendingTimeout
	}
	return &pendingTracker{timeout: timeout, onTimeout: onTimeout}
}

// newToken picks a process-unique correlation pair. The ranges are
// large enough that rapid successive operations cannot collide.
func newToken() dccex.Token {
	return dccex.Token{
		ID:  10000 + rand.IntN(55000),
		Sub: 100 + rand.IntN(900),
	}
}

// begin claims the track for a new operation. It returns false while
// another operation is pending. On success the timeout timer is armed;
// an earlier timer can no longer exist because the slot was free.
func (t *pendingTracker) begin(cv int, kind opKind, value byte) (dccex.Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.op != nil {
		return dccex.Token{}, false
	}

	op := &pendingOp{
		tok:       newToken(),
		cv:        cv,
		kind:      kind,
		value:     value,
		startedAt: time.Now(),
	}
	t.op = op

	if t.timer != nil {
		t.timer.Stop()
	}
	tok := op.tok
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(tok) })

	return op.tok, true
}

// complete clears the pending operation if match accepts it, stopping
// the timer. It returns the cleared operation.
func (t *pendingTracker) complete(match func(op pendingOp) bool) (pendingOp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.op == nil || !match(*t.op) {
		return pendingOp{}, false
	}

	op := *t.op
	t.clearLocked()
	return op, true
}

// drop silently clears any pending operation. Used on disconnect and
// when a just-issued request could not be sent.
func (t *pendingTracker) drop() (pendingOp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.op == nil {
		return pendingOp{}, false
	}

	op := *t.op
	t.clearLocked()
	return op, true
}

// current returns a copy of the pending operation, if any.
func (t *pendingTracker) current() (pendingOp, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.op == nil {
		return pendingOp{}, false
	}
	return *t.op, true
}

// busy reports whether an operation is pending.
func (t *pendingTracker) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.op != nil
}

// expire is the timer path. The token guard makes a stale timer firing
// after a complete/begin cycle a no-op.
func (t *pendingTracker) expire(tok dccex.Token) {
	t.mu.Lock()
	if t.op == nil || t.op.tok != tok {
		t.mu.Unlock()
		return
	}
	op := *t.op
	t.clearLocked()
	t.mu.Unlock()

	if t.onTimeout != nil {
		t.onTimeout(op)
	}
}

// clearLocked resets the slot. Caller holds the lock.
func (t *pendingTracker) clearLocked() {
	t.op = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
