package log

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvent(cv int) Event {
	return Event{
		Timestamp:    time.Now(),
		ConnectionID: "5f8a1f2e-0000-4000-8000-000000000001",
		Direction:    DirectionOut,
		Layer:        LayerProg,
		Category:     CategoryOperation,
		Protocol:     "dccex",
		Station:      "192.168.4.1:2560",
		CVOp:         &CVOpEvent{CV: cv, Value: -1},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	event := Event{
		Timestamp:    time.Now().Truncate(time.Millisecond),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Protocol:     "z21",
		Frame:        NewFrameEvent([]byte{0x0C, 0x00, 0x40, 0x00}),
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if got.ConnectionID != event.ConnectionID ||
		got.Direction != event.Direction ||
		got.Layer != event.Layer ||
		got.Category != event.Category ||
		got.Protocol != event.Protocol {
		t.Errorf("decoded event header mismatch: %+v", got)
	}
	if got.Frame == nil || got.Frame.Size != 4 {
		t.Errorf("decoded frame = %+v, want size 4", got.Frame)
	}
}

func TestFrameEventTruncation(t *testing.T) {
	long := make([]byte, MaxFrameDataSize+100)
	fe := NewFrameEvent(long)

	if !fe.Truncated {
		t.Error("expected truncation for oversized frame")
	}
	if len(fe.Data) != MaxFrameDataSize {
		t.Errorf("data length = %d, want %d", len(fe.Data), MaxFrameDataSize)
	}
	if fe.Size != len(long) {
		t.Errorf("size = %d, want %d", fe.Size, len(long))
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cvlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for cv := 1; cv <= 3; cv++ {
		logger.Log(sampleEvent(cv))
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Logging after close is a no-op, not a panic.
	logger.Log(sampleEvent(99))

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	var cvs []int
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if event.CVOp == nil {
			t.Fatal("event missing CVOp payload")
		}
		cvs = append(cvs, event.CVOp.CV)
	}

	if len(cvs) != 3 || cvs[0] != 1 || cvs[1] != 2 || cvs[2] != 3 {
		t.Errorf("cvs = %v, want [1 2 3]", cvs)
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.cvlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	in := sampleEvent(1)
	in.Direction = DirectionIn
	logger.Log(in)
	logger.Log(sampleEvent(2))
	logger.Log(sampleEvent(3))
	logger.Close()

	dir := DirectionOut
	reader, err := NewFilteredReader(path, Filter{Direction: &dir, Protocol: "dccex"})
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		if _, err := reader.Next(); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
	}
	if count != 2 {
		t.Errorf("filtered count = %d, want 2", count)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger

	multi := NewMultiLogger(&a, &b)
	multi.Log(sampleEvent(1))
	multi.Log(sampleEvent(2))

	if a.count != 2 || b.count != 2 {
		t.Errorf("counts = %d/%d, want 2/2", a.count, b.count)
	}
}

type countingLogger struct {
	count int
}

func (c *countingLogger) Log(Event) { c.count++ }

func TestSlogAdapterDoesNotPanic(t *testing.T) {
	adapter := NewSlogAdapter(slog.New(slog.DiscardHandler))

	adapter.Log(sampleEvent(29))
	adapter.Log(Event{
		Direction:   DirectionIn,
		Layer:       LayerTransport,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{OldState: "CONNECTING", NewState: "CONNECTED"},
	})
	adapter.Log(Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerWire, Message: "short datagram"},
	})
}

func TestFormatBytes(t *testing.T) {
	if got := formatBytes([]byte{0x0C, 0x00, 0xE6}); got != "0C 00 E6" {
		t.Errorf("formatBytes = %q", got)
	}
	if got := formatBytes(nil); got != "" {
		t.Errorf("formatBytes(nil) = %q", got)
	}
}
