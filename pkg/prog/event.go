package prog

import (
	"fmt"
)

// EventType classifies backend events.
type EventType uint8

const (
	// EventReadResult reports a CV value read back from the decoder.
	EventReadResult EventType = iota

	// EventWriteResult confirms a CV write.
	EventWriteResult

	// EventNack reports an explicit negative acknowledgment from the
	// station (no decoder answered, or the decoder refused).
	EventNack

	// EventFailure reports a failed or impossible operation. The
	// connection stays usable.
	EventFailure

	// EventInfo reports an informational protocol message.
	EventInfo
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventReadResult:
		return "READ_RESULT"
	case EventWriteResult:
		return "WRITE_RESULT"
	case EventNack:
		return "NACK"
	case EventFailure:
		return "FAILURE"
	case EventInfo:
		return "INFO"
	default:
		return "UNKNOWN"
	}
}

// Event is a backend notification. CV and Value are meaningful for
// read/write results; Nack and Failure events carry the CV of the
// operation they refer to when it is known, zero otherwise. Message is
// set on Failure and Info events.
type Event struct {
	Type    EventType
	CV      int
	Value   byte
	Message string
}

// String renders the event for console output.
func (e Event) String() string {
	switch e.Type {
	case EventReadResult, EventWriteResult:
		return fmt.Sprintf("%s cv=%d value=%d", e.Type, e.CV, e.Value)
	case EventNack:
		if e.CV > 0 {
			return fmt.Sprintf("NACK cv=%d", e.CV)
		}
		return "NACK"
	default:
		return fmt.Sprintf("%s %s", e.Type, e.Message)
	}
}
