package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jfreymuth/pulse/proto"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []StateChange
}

func (r *stateRecorder) record(sc StateChange) {
	r.mu.Lock()
	r.states = append(r.states, sc)
	r.mu.Unlock()
}

func (r *stateRecorder) last() (StateChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateChange{}, false
	}
	return r.states[len(r.states)-1], true
}

func TestPulseConn_NotConnected(t *testing.T) {
	p := newPulseConn(testConfig(), testLogger())

	if err := p.Drain(func() {}); !errors.Is(err, errNotConnected) {
		t.Fatalf("expected errNotConnected from drain, got %v", err)
	}

	got := make(chan error, 1)
	p.SuspendSink(indexAll, true, func(err error) { got <- err })
	select {
	case err := <-got:
		if !errors.Is(err, errNotConnected) {
			t.Fatalf("expected errNotConnected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("completion never arrived")
	}

	if p.IsLocal() {
		t.Fatalf("unconnected handle must not claim to be local")
	}
}

func TestPulseConn_NoServerForThisHost(t *testing.T) {
	cfg := testConfig()
	cfg.Server = "{some-other-host.invalid}/tmp/socket"
	p := newPulseConn(cfg, testLogger())

	err := p.Connect(context.Background(), func(StateChange) {})
	if !errors.Is(err, errNoServer) {
		t.Fatalf("expected errNoServer, got %v", err)
	}
}

func TestPulseConn_ConnectOnlyOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Server = "unix:" + filepath.Join(t.TempDir(), "missing")
	p := newPulseConn(cfg, testLogger())
	defer p.Release()

	if err := p.Connect(context.Background(), func(StateChange) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Connect(context.Background(), func(StateChange) {}); err == nil {
		t.Fatalf("expected error on second connect")
	}
}

func TestPulseConn_MissingSocketFails(t *testing.T) {
	cfg := testConfig()
	cfg.Server = "unix:" + filepath.Join(t.TempDir(), "missing")
	p := newPulseConn(cfg, testLogger())
	defer p.Release()

	var rec stateRecorder
	if err := p.Connect(context.Background(), rec.record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		sc, ok := rec.last()
		return ok && sc.State == StateFailed
	}, "connection never failed")

	sc, _ := rec.last()
	if sc.Err == nil {
		t.Fatalf("expected the dial error with the failed state")
	}
}

func TestPulseConn_DisconnectReportsTerminatedOnce(t *testing.T) {
	cfg := testConfig()
	cfg.Server = "unix:" + filepath.Join(t.TempDir(), "missing")
	p := newPulseConn(cfg, testLogger())
	defer p.Release()

	var rec stateRecorder
	// Mark the handle used without starting a handshake.
	p.onState = rec.record

	p.Disconnect()
	p.Disconnect()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 1 || rec.states[0].State != StateTerminated {
		t.Fatalf("expected a single terminated state, got %+v", rec.states)
	}
}

func TestPulseConn_ReleaseSilencesCallbacks(t *testing.T) {
	p := newPulseConn(testConfig(), testLogger())

	var rec stateRecorder
	p.onState = rec.record
	p.Release()
	p.setState(StateReady, nil)

	if _, ok := rec.last(); ok {
		t.Fatalf("released handle must not report state changes")
	}
	if err := p.Connect(context.Background(), rec.record); err == nil {
		t.Fatalf("released handle must not connect again")
	}
}

func TestPulseConn_UnreadableCookieFails(t *testing.T) {
	cfg := testConfig()
	cfg.Server = "unix:" + filepath.Join(t.TempDir(), "missing")
	cfg.CookieFile = t.TempDir() // a directory cannot be read as a cookie
	p := newPulseConn(cfg, testLogger())
	defer p.Release()

	if err := p.Connect(context.Background(), func(StateChange) {}); err == nil {
		t.Fatalf("expected an error for an unreadable cookie")
	}
}

func TestProtoIndex(t *testing.T) {
	if got := protoIndex(indexAll); got != proto.Undefined {
		t.Fatalf("expected wildcard to map to proto.Undefined, got %#x", got)
	}
	if got := protoIndex(3); got != 3 {
		t.Fatalf("expected concrete index to pass through, got %d", got)
	}
}

// nativeServer speaks just enough of the PulseAudio native protocol to
// authenticate one client, name it and answer suspend requests.
type nativeServer struct {
	path string
	ln   net.Listener

	// suspendErr, when non-zero, answers every suspend request with this error.
	suspendErr proto.Error
	// dropSuspends hangs up once both suspend requests arrived, unanswered.
	dropSuspends bool
	// hangup, when non-nil, makes the server hang up after naming once closed.
	hangup chan struct{}

	mu       sync.Mutex
	suspends []suspendRequest
}

type suspendRequest struct {
	op      uint32
	index   uint32
	suspend bool
}

func startNativeServer(t *testing.T, configure func(*nativeServer)) *nativeServer {
	t.Helper()
	// Unix socket paths are short; t.TempDir() can exceed the limit.
	dir, err := os.MkdirTemp("", "pa")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s := &nativeServer{path: filepath.Join(dir, "native")}
	if configure != nil {
		configure(s)
	}
	s.ln, err = net.Listen("unix", s.path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { s.ln.Close() })

	go s.serve()
	return s
}

func (s *nativeServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		payload, err := readFrame(conn)
		if err != nil || len(payload) < 10 {
			return
		}
		op := binary.BigEndian.Uint32(payload[1:5])
		tag := binary.BigEndian.Uint32(payload[6:10])

		switch op {
		case proto.OpAuth:
			writeFrame(conn, replyPayload(tag, 32))
		case proto.OpSetClientName:
			writeFrame(conn, replyPayload(tag, 0))
			if s.hangup != nil {
				<-s.hangup
				return
			}
		case proto.OpSuspendSink, proto.OpSuspendSource:
			n := s.record(op, payload)
			switch {
			case s.dropSuspends:
				if n == 2 {
					return
				}
			case s.suspendErr != 0:
				writeFrame(conn, errorPayload(tag, uint32(s.suspendErr)))
			default:
				writeFrame(conn, replyPayload(tag))
			}
		default:
			writeFrame(conn, replyPayload(tag))
		}
	}
}

func (s *nativeServer) record(op uint32, payload []byte) int {
	req := suspendRequest{op: op}
	// 'L' op 'L' tag 'L' index ... bool
	if len(payload) >= 15 {
		req.index = binary.BigEndian.Uint32(payload[11:15])
	}
	req.suspend = payload[len(payload)-1] == '1'

	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspends = append(s.suspends, req)
	return len(s.suspends)
}

func (s *nativeServer) received() []suspendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]suspendRequest(nil), s.suspends...)
}

func (s *nativeServer) config(t *testing.T) Config {
	cfg := testConfig()
	cfg.Server = "unix:" + s.path
	cfg.CookieFile = filepath.Join(t.TempDir(), "no-cookie")
	cfg.Timeout = 5 * time.Second
	return cfg
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(hdr[0:4]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func writeFrame(w io.Writer, payload []byte) {
	var hdr [20]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	w.Write(append(hdr[:], payload...))
}

func putU32(b *bytes.Buffer, v uint32) {
	b.WriteByte('L')
	binary.Write(b, binary.BigEndian, v)
}

func replyPayload(tag uint32, values ...uint32) []byte {
	var b bytes.Buffer
	putU32(&b, proto.OpReply)
	putU32(&b, tag)
	for _, v := range values {
		putU32(&b, v)
	}
	return b.Bytes()
}

func errorPayload(tag, code uint32) []byte {
	var b bytes.Buffer
	putU32(&b, proto.OpError)
	putU32(&b, tag)
	putU32(&b, code)
	return b.Bytes()
}

func TestPulseConn_NativeServer_SuspendsEverything(t *testing.T) {
	for _, suspend := range []bool{true, false} {
		srv := startNativeServer(t, nil)

		code := suspendAll(context.Background(), newPulseConn(srv.config(t), testLogger()), suspend, srv.config(t), testLogger())
		if code != 0 {
			t.Fatalf("suspend=%v: expected exit 0, got %d", suspend, code)
		}

		reqs := srv.received()
		if len(reqs) != 2 {
			t.Fatalf("expected 2 suspend requests, got %+v", reqs)
		}
		var sinks, sources int
		for _, r := range reqs {
			switch r.op {
			case proto.OpSuspendSink:
				sinks++
			case proto.OpSuspendSource:
				sources++
			}
			if r.index != 0xFFFFFFFF {
				t.Fatalf("expected the wildcard index on the wire, got %#x", r.index)
			}
			if r.suspend != suspend {
				t.Fatalf("expected suspend=%v on the wire, got %v", suspend, r.suspend)
			}
		}
		if sinks != 1 || sources != 1 {
			t.Fatalf("expected one sink and one source request, got %d/%d", sinks, sources)
		}
	}
}

func TestPulseConn_NativeServer_ErrorReply(t *testing.T) {
	srv := startNativeServer(t, func(s *nativeServer) { s.suspendErr = proto.ErrAccessDenied })

	var logs bytes.Buffer
	logger := setupLogger(LogLevelWarn, &logs)
	cfg := srv.config(t)

	code := suspendAll(context.Background(), newPulseConn(cfg, logger), true, cfg, logger)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	out := logs.String()
	if !strings.Contains(out, "Failure to suspend") || !strings.Contains(out, proto.ErrAccessDenied.Error()) {
		t.Fatalf("expected the server's error in the diagnostic, got %q", out)
	}
}

func TestPulseConn_NativeServer_HangupWithRequestsInFlight(t *testing.T) {
	srv := startNativeServer(t, func(s *nativeServer) { s.dropSuspends = true })
	cfg := srv.config(t)

	start := time.Now()
	code := suspendAll(context.Background(), newPulseConn(cfg, testLogger()), true, cfg, testLogger())
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("hangup was not noticed, run took %s", elapsed)
	}
}

func TestPulseConn_NativeServer_RemoteWaitEndsOnHangup(t *testing.T) {
	hangup := make(chan struct{})
	srv := startNativeServer(t, func(s *nativeServer) { s.hangup = hangup })
	time.AfterFunc(100*time.Millisecond, func() { close(hangup) })

	cfg := srv.config(t)
	cfg.RemotePolicy = RemoteWait
	pc := newPulseConn(cfg, testLogger())
	pc.isLocal = func(net.Addr) bool { return false }

	start := time.Now()
	code := suspendAll(context.Background(), pc, true, cfg, testLogger())
	if code != 0 {
		t.Fatalf("expected exit 0 once the server hung up, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("hangup was not noticed, run took %s", elapsed)
	}
	if reqs := srv.received(); len(reqs) != 0 {
		t.Fatalf("remote server must not be suspended, got %+v", reqs)
	}
}

func TestPulseConn_NativeServer_StateOrder(t *testing.T) {
	hangup := make(chan struct{})
	defer close(hangup)
	srv := startNativeServer(t, func(s *nativeServer) { s.hangup = hangup })

	p := newPulseConn(srv.config(t), testLogger())
	defer p.Release()

	var rec stateRecorder
	if err := p.Connect(context.Background(), rec.record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		sc, ok := rec.last()
		return ok && sc.State == StateReady
	}, "connection never became ready")

	want := []ConnState{StateConnecting, StateAuthorizing, StateSettingName, StateReady}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != len(want) {
		t.Fatalf("expected states %v, got %+v", want, rec.states)
	}
	for i, st := range want {
		if rec.states[i].State != st {
			t.Fatalf("state %d: expected %s, got %s", i, st, rec.states[i].State)
		}
	}
	if !p.IsLocal() {
		t.Fatalf("a unix socket server must be local")
	}
}
