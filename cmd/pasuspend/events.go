package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Events - inputs to the connection reducer
// ============================================================================
// Events are produced by the collaborator (connection state changes, request
// completions) and by the event loop itself (timeout, external stop). They are
// delivered to the loop through the mailbox and reduced one at a time.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// ConnState mirrors the connection lifecycle of the audio server's control
// protocol.
type ConnState int

const (
	StateUnconnected ConnState = iota
	StateConnecting
	StateAuthorizing
	StateSettingName
	StateReady
	StateFailed
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateSettingName:
		return "setting-name"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ConnStateChanged is emitted every time the connection changes state.
// Local is only meaningful for StateReady; Err carries the cause for StateFailed.
type ConnStateChanged struct {
	State ConnState
	Local bool
	Err   error
}

func (ConnStateChanged) eventMarker() {}

// TargetKind selects which kind of server object a suspend request addresses.
type TargetKind int

const (
	TargetSink TargetKind = iota
	TargetSource
)

func (k TargetKind) String() string {
	switch k {
	case TargetSink:
		return "sink"
	case TargetSource:
		return "source"
	default:
		return fmt.Sprintf("target(%d)", int(k))
	}
}

// SuspendCompleted is emitted when a suspend/resume request finished.
// Err is nil on success.
type SuspendCompleted struct {
	Kind TargetKind
	Err  error
}

func (SuspendCompleted) eventMarker() {}

// DrainCompleted is emitted once every in-flight request on the connection
// has been acknowledged.
type DrainCompleted struct{}

func (DrainCompleted) eventMarker() {}

// DrainRejected is emitted when a drain could not be issued at all.
type DrainRejected struct {
	Err error
}

func (DrainRejected) eventMarker() {}

// TimedOut is emitted by the loop when the configured timeout elapsed.
type TimedOut struct {
	After time.Duration
}

func (TimedOut) eventMarker() {}

// Interrupted is emitted by the loop when it is stopped from outside
// (SIGINT/SIGTERM).
type Interrupted struct {
	Cause error
}

func (Interrupted) eventMarker() {}
