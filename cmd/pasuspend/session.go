package main

import (
	"context"
	"errors"
	"log/slog"
)

var (
	errNotConnected   = errors.New("not connected")
	errNothingPending = errors.New("no pending operations to drain")
	errNoServer       = errors.New("no valid pulseaudio server")
)

// StateChange is what a Conn reports through its state callback.
type StateChange struct {
	State ConnState
	Err   error
}

// Conn is the control connection to the audio server, as used by the
// controller. Callbacks may run on any goroutine.
type Conn interface {
	// Connect initiates the connection. It only fails when the attempt cannot
	// be started at all; every later outcome is reported through onState.
	Connect(ctx context.Context, onState func(StateChange)) error

	// IsLocal reports whether the server runs on this host.
	IsLocal() bool

	SuspendSink(index uint32, suspend bool, done func(error))
	SuspendSource(index uint32, suspend bool, done func(error))

	// Drain calls done once every in-flight request has been answered.
	// It returns an error if there is nothing to drain.
	Drain(done func()) error

	// Disconnect closes the connection and reports StateTerminated.
	Disconnect()

	// Release closes the connection without reporting anything.
	Release()
}

// session owns the single connection handle of a run and forwards everything
// the connection reports into the loop's mailbox.
type session struct {
	conn   Conn
	post   func(Event)
	logger *slog.Logger
}

func newSession(conn Conn, post func(Event), logger *slog.Logger) *session {
	return &session{conn: conn, post: post, logger: logger}
}

// start connects and wires the state callback into the mailbox.
func (s *session) start(ctx context.Context) error {
	if s.conn == nil {
		return errNotConnected
	}
	conn := s.conn
	return conn.Connect(ctx, func(sc StateChange) {
		ev := ConnStateChanged{State: sc.State, Err: sc.Err}
		if sc.State == StateReady {
			ev.Local = conn.IsLocal()
		}
		s.post(ev)
	})
}

// held reports whether the handle has not been released yet.
func (s *session) held() bool {
	return s.conn != nil
}

// release drops the connection handle. Only the first call has an effect.
func (s *session) release() {
	if s.conn == nil {
		return
	}
	s.logger.Debug("releasing connection")
	s.conn.Release()
	s.conn = nil
}
