package prog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/transport"
)

// scriptedBackend answers reads from a fixed value table, nacking CVs
// it has no entry for. It records the order reads were issued in.
type scriptedBackend struct {
	mu     sync.Mutex
	values map[int]byte
	reads  []int
	events chan Event

	// gated makes Busy report true between a read and its answer.
	gated   bool
	pending bool

	// silent CVs never answer at all.
	silent map[int]bool
}

func newScriptedBackend(values map[int]byte) *scriptedBackend {
	return &scriptedBackend{
		values: values,
		events: make(chan Event, 64),
		silent: make(map[int]bool),
	}
}

func (s *scriptedBackend) Connect(ctx context.Context) error { return nil }
func (s *scriptedBackend) Disconnect() error                 { return nil }
func (s *scriptedBackend) Events() <-chan Event              { return s.events }
func (s *scriptedBackend) WriteCV(cv int, value byte) error  { return nil }
func (s *scriptedBackend) State() transport.State            { return transport.StateConnected }

func (s *scriptedBackend) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gated && s.pending
}

func (s *scriptedBackend) ReadCV(cv int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gated && s.pending {
		return ErrBusy
	}
	s.reads = append(s.reads, cv)
	if s.silent[cv] {
		s.pending = true
		return nil
	}
	if v, ok := s.values[cv]; ok {
		s.events <- Event{Type: EventReadResult, CV: cv, Value: v}
	} else {
		s.events <- Event{Type: EventNack, CV: cv}
	}
	return nil
}

func (s *scriptedBackend) readOrder() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.reads...)
}

func TestScanPacedCollectsRange(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 3, 2: 0, 3: 145, 4: 29, 5: 1})

	got, err := Scan(context.Background(), b, ScanOptions{
		From:   1,
		To:     5,
		Mode:   ModePaced,
		Pacing: time.Millisecond,
		Grace:  50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	for cv, want := range map[int]byte{1: 3, 2: 0, 3: 145, 4: 29, 5: 1} {
		if got[cv] != want {
			t.Fatalf("cv %d = %d, want %d", cv, got[cv], want)
		}
	}

	order := b.readOrder()
	for i, cv := range order {
		if cv != i+1 {
			t.Fatalf("read order %v, want ascending from 1", order)
		}
	}
}

func TestScanPacedSkipsUnansweredCVs(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 10, 3: 30})

	got, err := Scan(context.Background(), b, ScanOptions{
		From:   1,
		To:     3,
		Pacing: time.Millisecond,
		Grace:  30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("results = %v, want cv 1 and 3 only", got)
	}
	if _, ok := got[2]; ok {
		t.Fatal("nacked cv 2 present in results")
	}
}

func TestScanPacedCancellation(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 1, 2: 2, 3: 3, 4: 4, 5: 5})

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	got, err := Scan(ctx, b, ScanOptions{
		From:   1,
		To:     5,
		Pacing: time.Millisecond,
		Progress: func(cv int, value byte, ok bool) {
			seen++
			if seen == 2 {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// Partial results up to the cancellation point are kept; the scan
	// never ran to the end of the range.
	if len(got) == 0 || len(got) == 5 {
		t.Fatalf("got %d results after cancel at 2", len(got))
	}
	if reads := b.readOrder(); len(reads) == 5 {
		t.Fatalf("all reads issued despite cancellation: %v", reads)
	}
}

func TestScanGatedCollectsInOrder(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 11, 2: 22, 3: 33, 4: 44, 5: 55})
	b.gated = true

	got, err := Scan(context.Background(), b, ScanOptions{
		From: 1,
		To:   5,
		Mode: ModeGated,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	order := b.readOrder()
	if len(order) != 5 {
		t.Fatalf("issued %d reads, want 5", len(order))
	}
	for i, cv := range order {
		if cv != i+1 {
			t.Fatalf("read order %v", order)
		}
	}
}

func TestScanGatedAdvancesPastNack(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 1, 3: 3})
	b.gated = true

	got, err := Scan(context.Background(), b, ScanOptions{
		From: 1,
		To:   3,
		Mode: ModeGated,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("results = %v", got)
	}
	if len(b.readOrder()) != 3 {
		t.Fatalf("reads = %v, want all three issued", b.readOrder())
	}
}

func TestScanGatedAdvancesPastSilence(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 1, 3: 3})
	b.gated = true
	b.silent[2] = true

	// Emulate the backend's own pending timeout for the silent CV.
	go func() {
		time.Sleep(30 * time.Millisecond)
		b.mu.Lock()
		b.pending = false
		b.mu.Unlock()
		b.events <- Event{Type: EventFailure, CV: 2, Message: TimeoutMessage}
	}()

	got, err := Scan(context.Background(), b, ScanOptions{
		From:        1,
		To:          3,
		Mode:        ModeGated,
		StepTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("results = %v", got)
	}
	if got[1] != 1 || got[3] != 3 {
		t.Fatalf("results = %v", got)
	}
}

func TestScanGatedCancellation(t *testing.T) {
	b := newScriptedBackend(map[int]byte{1: 1, 2: 2, 3: 3, 4: 4, 5: 5})
	b.gated = true

	ctx, cancel := context.WithCancel(context.Background())
	var seen int
	got, err := Scan(ctx, b, ScanOptions{
		From: 1,
		To:   5,
		Mode: ModeGated,
		Progress: func(cv int, value byte, ok bool) {
			seen++
			if seen == 2 {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results after cancel at 2", len(got))
	}
}

func TestScanInvalidRange(t *testing.T) {
	b := newScriptedBackend(nil)

	cases := []ScanOptions{
		{From: 0, To: 5},
		{From: 5, To: 4},
		{From: -1, To: -1},
	}
	for _, opts := range cases {
		if _, err := Scan(context.Background(), b, opts); !errors.Is(err, ErrInvalidRange) {
			t.Fatalf("Scan(%d..%d) err = %v", opts.From, opts.To, err)
		}
	}
}

// The gated scanner over a real DCC-EX backend, with a scripted
// station on the other side of the transport.
func TestScanGatedOverDCCEX(t *testing.T) {
	b, conn := newTestDCCEX(t, DCCEXOptions{})

	// Answer each outbound read as a station would, echoing the token.
	done := make(chan struct{})
	defer close(done)
	go func() {
		seen := 0
		for {
			select {
			case <-done:
				return
			case <-time.After(time.Millisecond):
			}
			frames := conn.sentFrames()
			for ; seen < len(frames); seen++ {
				raw := string(frames[seen])
				var cv, id, sub int
				if n, _ := fmt.Sscanf(raw, "<R %d %d %d>", &cv, &id, &sub); n != 3 {
					continue
				}
				value := cv * 2
				conn.deliver([]byte(fmt.Sprintf("<v %d|%d|%d %d>", id, sub, cv, value)))
			}
		}
	}()

	got, err := Scan(context.Background(), b, ScanOptions{
		From: 1,
		To:   4,
		Mode: ModeGated,
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for cv := 1; cv <= 4; cv++ {
		if got[cv] != byte(cv*2) {
			t.Fatalf("cv %d = %d, want %d", cv, got[cv], cv*2)
		}
	}
}
