package commands

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/log"
)

// writeTestCapture creates a capture file with a representative mix of
// events from two connections and returns its path.
func writeTestCapture(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "capture.cvlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	events := []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			Protocol:     "z21",
			Station:      "192.168.0.111:21105",
			Frame:        log.NewFrameEvent([]byte{0x0c, 0x00, 0x40, 0x00}),
		},
		{
			Timestamp:    base.Add(50 * time.Millisecond),
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionOut,
			Layer:        log.LayerProg,
			Category:     log.CategoryOperation,
			Protocol:     "z21",
			CVOp:         &log.CVOpEvent{Write: false, CV: 29, Value: -1},
		},
		{
			Timestamp:    base.Add(200 * time.Millisecond),
			ConnectionID: "conn-aaaa-1111",
			Direction:    log.DirectionIn,
			Layer:        log.LayerProg,
			Category:     log.CategoryOperation,
			Protocol:     "z21",
			CVOp:         &log.CVOpEvent{Write: false, CV: 29, Value: 38, Outcome: "ok"},
		},
		{
			Timestamp:    base.Add(300 * time.Millisecond),
			ConnectionID: "conn-bbbb-2222",
			Direction:    log.DirectionOut,
			Layer:        log.LayerProg,
			Category:     log.CategoryOperation,
			Protocol:     "dccex",
			Station:      "10.0.0.5:2560",
			CVOp:         &log.CVOpEvent{Write: true, CV: 8, Value: 8},
		},
		{
			Timestamp:    base.Add(400 * time.Millisecond),
			ConnectionID: "conn-bbbb-2222",
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryError,
			Protocol:     "dccex",
			Error:        &log.ErrorEventData{Layer: log.LayerWire, Message: "malformed response"},
		},
	}
	for _, ev := range events {
		logger.Log(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func TestRunViewAll(t *testing.T) {
	path := writeTestCapture(t)

	var buf bytes.Buffer
	if err := RunView(path, log.Filter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{"Frame", "ReadCV", "WriteCV", "Error", "CV: 29", "Value: 38"} {
		if !strings.Contains(output, want) {
			t.Errorf("view output missing %q:\n%s", want, output)
		}
	}
}

func TestRunViewFiltered(t *testing.T) {
	path := writeTestCapture(t)

	filter, err := BuildFilter(FilterFlags{Protocol: "dccex"})
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "WriteCV") {
		t.Errorf("expected dccex write event, got:\n%s", output)
	}
	if strings.Contains(output, "ReadCV") {
		t.Errorf("z21 read should be filtered out, got:\n%s", output)
	}
}

func TestBuildFilterTimeRange(t *testing.T) {
	filter, err := BuildFilter(FilterFlags{
		TimeStart: "2026-03-14T12:00:00Z",
		TimeEnd:   "2026-03-14T12:00:00.250Z",
	})
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if filter.TimeStart == nil || filter.TimeEnd == nil {
		t.Fatal("expected time bounds to be set")
	}

	path := writeTestCapture(t)
	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if strings.Contains(buf.String(), "WriteCV") {
		t.Errorf("write at +300ms should be outside range:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "ReadCV") {
		t.Errorf("reads inside range missing:\n%s", buf.String())
	}
}

func TestBuildFilterInvalid(t *testing.T) {
	if _, err := BuildFilter(FilterFlags{TimeStart: "yesterday"}); err == nil {
		t.Error("expected error for invalid time-start")
	}
	if _, err := BuildFilter(FilterFlags{Layer: "kernel"}); err == nil {
		t.Error("expected error for invalid layer")
	}
	if _, err := BuildFilter(FilterFlags{Direction: "up"}); err == nil {
		t.Error("expected error for invalid direction")
	}
	if _, err := BuildFilter(FilterFlags{Category: "snapshot"}); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestRunFilter(t *testing.T) {
	path := writeTestCapture(t)
	output := filepath.Join(t.TempDir(), "filtered.cvlog")

	if err := RunFilter(path, FilterFlags{ConnID: "conn-bbbb-2222"}, output); err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}

	reader, err := log.NewReader(output)
	if err != nil {
		t.Fatalf("failed to open filtered capture: %v", err)
	}
	defer reader.Close()

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		if event.ConnectionID != "conn-bbbb-2222" {
			t.Errorf("unexpected connection ID %q", event.ConnectionID)
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 filtered events, got %d", count)
	}
}

func TestRunExportCSV(t *testing.T) {
	path := writeTestCapture(t)
	output := filepath.Join(t.TempDir(), "export.csv")

	if err := RunExport(path, "csv", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("failed to open export: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 6 { // header + 5 events
		t.Fatalf("expected 6 rows, got %d", len(records))
	}
	if records[0][0] != "timestamp" || records[0][5] != "protocol" {
		t.Errorf("unexpected header: %v", records[0])
	}

	// Third event is the completed read of CV 29.
	row := records[3]
	if row[7] != "ReadCV" || row[8] != "29" || row[9] != "38" || row[10] != "ok" {
		t.Errorf("unexpected CV row: %v", row)
	}
}

func TestRunExportJSONL(t *testing.T) {
	path := writeTestCapture(t)
	output := filepath.Join(t.TempDir(), "export.jsonl")

	if err := RunExport(path, "jsonl", output); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Errorf("expected 5 JSONL lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "conn-aaaa-1111") {
		t.Errorf("first line missing connection ID: %s", lines[0])
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := writeTestCapture(t)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunStats(t *testing.T) {
	path := writeTestCapture(t)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"Connections: 2",
		"2 reads, 1 writes",
		"Errors: 1",
		"Protocol: z21",
		"Protocol: dccex",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("stats output missing %q:\n%s", want, output)
		}
	}
}

func TestRunStatsMissingFile(t *testing.T) {
	if err := RunStats(filepath.Join(t.TempDir(), "nope.cvlog"), io.Discard); err == nil {
		t.Error("expected error for missing capture")
	}
}
