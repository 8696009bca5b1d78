package cvlink_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cvlink-project/cvlink-go/pkg/prog"
	"github.com/cvlink-project/cvlink-go/pkg/transport"
	"github.com/cvlink-project/cvlink-go/pkg/z21"
)

// fakeDCCEXServer is a minimal DCC-EX command station: it answers
// <R cv id sub> and <W cv value id sub> frames from a CV table.
type fakeDCCEXServer struct {
	listener net.Listener
	values   map[int]byte
}

func newFakeDCCEXServer(t *testing.T, values map[int]byte) *fakeDCCEXServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	s := &fakeDCCEXServer{listener: listener, values: values}
	t.Cleanup(func() { listener.Close() })

	go s.serve()
	return s
}

func (s *fakeDCCEXServer) addr() string {
	return s.listener.Addr().String()
}

func (s *fakeDCCEXServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeDCCEXServer) handle(conn net.Conn) {
	defer conn.Close()

	var pending []byte
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)

		for {
			start := bytes.IndexByte(pending, '<')
			if start < 0 {
				pending = nil
				break
			}
			end := bytes.IndexByte(pending[start:], '>')
			if end < 0 {
				pending = pending[start:]
				break
			}
			frame := string(pending[start : start+end+1])
			pending = pending[start+end+1:]
			s.respond(conn, frame)
		}
	}
}

func (s *fakeDCCEXServer) respond(conn net.Conn, frame string) {
	var cv, id, sub, value int
	if _, err := fmt.Sscanf(frame, "<R %d %d %d>", &cv, &id, &sub); err == nil {
		if v, ok := s.values[cv]; ok {
			fmt.Fprintf(conn, "<v %d|%d|%d %d>\n", id, sub, cv, v)
		} else {
			fmt.Fprintf(conn, "<v %d|%d|%d -1>\n", id, sub, cv)
		}
		return
	}
	if _, err := fmt.Sscanf(frame, "<W %d %d %d %d>", &cv, &value, &id, &sub); err == nil {
		s.values[cv] = byte(value)
		fmt.Fprintf(conn, "<r %d|%d|%d %d>\n", id, sub, cv, value)
	}
}

// TestE2E_DCCEXGatedScan runs a gated range scan against a fake DCC-EX
// station over real TCP.
func TestE2E_DCCEXGatedScan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newFakeDCCEXServer(t, map[int]byte{
		1: 3, 3: 5, 4: 5, 29: 38,
	})

	conn := transport.NewTCPConn(server.addr())
	backend := prog.NewDCCEXBackend(conn, prog.DCCEXOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer backend.Disconnect()

	results, err := prog.Scan(ctx, backend, prog.ScanOptions{
		From:        1,
		To:          5,
		Mode:        prog.ModeGated,
		StepTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := map[int]byte{1: 3, 3: 5, 4: 5}
	if len(results) != len(want) {
		t.Fatalf("results = %v, want %v", results, want)
	}
	for cv, v := range want {
		if results[cv] != v {
			t.Errorf("CV %d = %d, want %d", cv, results[cv], v)
		}
	}
}

// TestE2E_DCCEXWrite writes a CV over real TCP and reads it back.
func TestE2E_DCCEXWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	server := newFakeDCCEXServer(t, map[int]byte{})

	conn := transport.NewTCPConn(server.addr())
	backend := prog.NewDCCEXBackend(conn, prog.DCCEXOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer backend.Disconnect()

	if err := backend.WriteCV(8, 8); err != nil {
		t.Fatalf("WriteCV failed: %v", err)
	}
	ev := awaitEvent(t, backend, prog.EventWriteResult)
	if ev.CV != 8 || ev.Value != 8 {
		t.Fatalf("write result = %+v", ev)
	}

	if err := backend.ReadCV(8); err != nil {
		t.Fatalf("ReadCV failed: %v", err)
	}
	ev = awaitEvent(t, backend, prog.EventReadResult)
	if ev.CV != 8 || ev.Value != 8 {
		t.Fatalf("read result = %+v", ev)
	}
}

// fakeZ21Station answers POM reads from a CV table over real UDP.
// Writes are acknowledged by silence, like the real station.
type fakeZ21Station struct {
	conn   net.PacketConn
	values map[uint16]byte // keyed by 0-based wire CV
}

func newFakeZ21Station(t *testing.T, values map[uint16]byte) *fakeZ21Station {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	s := &fakeZ21Station{conn: conn, values: values}
	t.Cleanup(func() { conn.Close() })

	go s.serve()
	return s
}

func (s *fakeZ21Station) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *fakeZ21Station) serve() {
	buf := make([]byte, 1472)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if reply := s.respond(buf[:n]); reply != nil {
			s.conn.WriteTo(reply, from)
		}
	}
}

func (s *fakeZ21Station) respond(pkt []byte) []byte {
	if len(pkt) < 4 {
		return nil
	}
	switch pkt[2] {
	case z21.HeaderSerialNumber:
		return []byte{0x08, 0x00, z21.HeaderSerialNumber, 0x00, 0x15, 0xCD, 0x5B, 0x07}

	case z21.HeaderXBus:
		// POM read: option bits 111001MM in the first CV byte.
		if len(pkt) == z21.POMPacketLen && pkt[4] == 0xE6 && pkt[8]&0xFC == 0xE4 {
			cv := uint16(pkt[8]&0x03)<<8 | uint16(pkt[9])
			if v, ok := s.values[cv]; ok {
				return z21.BuildCVResult(cv, v)
			}
			return z21.BuildCVNack()
		}
	}
	return nil
}

// TestE2E_Z21ReadCV reads a CV from a fake Z21 station over real UDP.
func TestE2E_Z21ReadCV(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	station := newFakeZ21Station(t, map[uint16]byte{28: 38}) // wire CV 28 = CV 29

	conn := transport.NewUDPConn(station.addr())
	backend := prog.NewZ21Backend(conn, prog.Z21Options{LocoAddress: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer backend.Disconnect()

	value, ok, err := backend.ReadCVSync(ctx, 29)
	if err != nil {
		t.Fatalf("ReadCVSync failed: %v", err)
	}
	if !ok || value != 38 {
		t.Fatalf("ReadCVSync = %d, %v", value, ok)
	}

	// A CV the station nacks.
	_, ok, err = backend.ReadCVSync(ctx, 100)
	if err != nil {
		t.Fatalf("ReadCVSync failed: %v", err)
	}
	if ok {
		t.Fatal("expected nack for unknown CV")
	}
}

// TestE2E_Z21WriteSilence verifies that an unanswered POM write counts
// as success.
func TestE2E_Z21WriteSilence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	station := newFakeZ21Station(t, map[uint16]byte{})

	conn := transport.NewUDPConn(station.addr())
	backend := prog.NewZ21Backend(conn, prog.Z21Options{
		LocoAddress:  3,
		WriteTimeout: 300 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := backend.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer backend.Disconnect()

	ok, err := backend.WriteCVSync(ctx, 3, 10)
	if err != nil {
		t.Fatalf("WriteCVSync failed: %v", err)
	}
	if !ok {
		t.Fatal("silent write should count as success")
	}
}

// awaitEvent drains the backend event stream until an event of the
// wanted type arrives.
func awaitEvent(t *testing.T, backend prog.Backend, want prog.EventType) prog.Event {
	t.Helper()

	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	for {
		select {
		case ev := <-backend.Events():
			if ev.Type == want {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s event", want)
			return prog.Event{}
		}
	}
}
