package prog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Scanner defaults.
const (
	// DefaultPacing is the delay between reads in paced mode. The Z21
	// handles POM reads back to back, but the decoder needs track time
	// to answer each one.
	DefaultPacing = 80 * time.Millisecond

	// DefaultGrace is how long a paced scan keeps draining late
	// results after the last read was issued.
	DefaultGrace = time.Second

	// DefaultStepTimeout bounds one gated-mode step. It sits above the
	// backend's own pending timeout so the scanner sees the timeout
	// failure event rather than racing it.
	DefaultStepTimeout = 5 * time.Second
)

// ScanMode selects how the scanner paces its reads.
type ScanMode uint8

const (
	// ModePaced issues reads on a fixed interval and collects whatever
	// results arrive. Fits fire-and-forget backends (Z21).
	ModePaced ScanMode = iota

	// ModeGated issues the next read only after the previous one
	// resolved, advancing past nacks and failures. Fits single-slot
	// backends (DCC-EX).
	ModeGated
)

// String returns the mode name.
func (m ScanMode) String() string {
	switch m {
	case ModePaced:
		return "paced"
	case ModeGated:
		return "gated"
	default:
		return "unknown"
	}
}

// ScanOptions configures a CV range scan.
type ScanOptions struct {
	// From and To bound the 1-based CV range, inclusive.
	From, To int

	// Mode selects the pacing strategy.
	Mode ScanMode

	// Pacing is the inter-read delay in paced mode (default
	// DefaultPacing).
	Pacing time.Duration

	// Grace is the post-scan drain window in paced mode (default
	// DefaultGrace).
	Grace time.Duration

	// StepTimeout bounds one read in gated mode (default
	// DefaultStepTimeout).
	StepTimeout time.Duration

	// Progress, if set, is called for every CV as it resolves. ok is
	// false when the CV produced no value (nack, failure, silence).
	Progress func(cv int, value byte, ok bool)
}

// ErrInvalidRange rejects a scan whose bounds are not an ascending
// 1-based range.
var ErrInvalidRange = errors.New("invalid cv range")

// Scan reads every CV in the configured range and returns the values
// that resolved, keyed by CV number. CVs that produced a nack, a
// failure or nothing at all are simply absent from the result.
//
// Cancellation is cooperative: ctx is checked before every read, and a
// canceled scan returns the partial results gathered so far together
// with ctx.Err().
func Scan(ctx context.Context, b Backend, opts ScanOptions) (map[int]byte, error) {
	if opts.From < 1 || opts.To < opts.From {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, opts.From, opts.To)
	}
	if opts.Pacing <= 0 {
		opts.Pacing = DefaultPacing
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}

	if opts.Mode == ModeGated {
		return scanGated(ctx, b, opts)
	}
	return scanPaced(ctx, b, opts)
}

// scanPaced issues one read per pacing interval and drains events as
// they trickle in, with a grace window at the end for stragglers.
func scanPaced(ctx context.Context, b Backend, opts ScanOptions) (map[int]byte, error) {
	results := make(map[int]byte)

	for cv := opts.From; cv <= opts.To; cv++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		// A rejected read (range, connection) skips this CV; the
		// backend already emitted the failure event.
		if err := b.ReadCV(cv); err != nil {
			notifyProgress(opts, cv, 0, false)
			continue
		}

		drainUntil(ctx, b, opts, results, time.After(opts.Pacing))
	}

	// Results for the last few reads may still be in flight.
	drainUntil(ctx, b, opts, results, time.After(opts.Grace))

	return results, ctx.Err()
}

// drainUntil collects read results from the event stream until the
// deadline fires or ctx is canceled.
func drainUntil(ctx context.Context, b Backend, opts ScanOptions, results map[int]byte, deadline <-chan time.Time) {
	for {
		select {
		case ev := <-b.Events():
			recordEvent(opts, results, ev)
		case <-deadline:
			return
		case <-ctx.Done():
			return
		}
	}
}

// recordEvent folds one backend event into the result set.
func recordEvent(opts ScanOptions, results map[int]byte, ev Event) {
	switch ev.Type {
	case EventReadResult:
		if ev.CV >= opts.From && ev.CV <= opts.To {
			results[ev.CV] = ev.Value
			notifyProgress(opts, ev.CV, ev.Value, true)
		}
	case EventNack, EventFailure:
		if ev.CV >= opts.From && ev.CV <= opts.To {
			notifyProgress(opts, ev.CV, 0, false)
		}
	}
}

// scanGated issues reads strictly one at a time, waiting for each to
// resolve before moving on. A nack or failure for the current CV
// advances the scan instead of aborting it.
func scanGated(ctx context.Context, b Backend, opts ScanOptions) (map[int]byte, error) {
	results := make(map[int]byte)

	for cv := opts.From; cv <= opts.To; cv++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if err := b.ReadCV(cv); err != nil {
			if errors.Is(err, ErrBusy) {
				// A stray pending operation blocks the track; wait for
				// it to clear and retry this CV once.
				if err := awaitIdle(ctx, b, opts); err != nil {
					return results, err
				}
				if err := b.ReadCV(cv); err != nil {
					notifyProgress(opts, cv, 0, false)
					continue
				}
			} else {
				notifyProgress(opts, cv, 0, false)
				continue
			}
		}

		if err := awaitResolution(ctx, b, opts, results, cv); err != nil {
			return results, err
		}
	}

	return results, nil
}

// awaitResolution blocks until the read for cv resolves one way or the
// other.
func awaitResolution(ctx context.Context, b Backend, opts ScanOptions, results map[int]byte, cv int) error {
	step := time.NewTimer(opts.StepTimeout)
	defer step.Stop()

	for {
		select {
		case ev := <-b.Events():
			switch ev.Type {
			case EventReadResult:
				if ev.CV == cv {
					results[cv] = ev.Value
					notifyProgress(opts, cv, ev.Value, true)
					return nil
				}
			case EventNack, EventFailure:
				// Nacks and timeout failures carry the CV they refer
				// to; an unattributed failure still ends this step,
				// since only one operation can be in flight.
				if ev.CV == cv || ev.CV == 0 {
					notifyProgress(opts, cv, 0, false)
					return nil
				}
			}

		case <-step.C:
			notifyProgress(opts, cv, 0, false)
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// awaitIdle waits for the backend's pending slot to clear.
func awaitIdle(ctx context.Context, b Backend, opts ScanOptions) error {
	step := time.NewTimer(opts.StepTimeout)
	defer step.Stop()

	for b.Busy() {
		select {
		case <-b.Events():
		case <-step.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func notifyProgress(opts ScanOptions, cv int, value byte, ok bool) {
	if opts.Progress != nil {
		opts.Progress(cv, value, ok)
	}
}
