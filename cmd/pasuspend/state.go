package main

// RemotePolicy decides what happens once the connection is ready but the
// server is not on this host.
type RemotePolicy string

const (
	// RemoteDisconnect warns and disconnects, so the process terminates.
	RemoteDisconnect RemotePolicy = "disconnect"
	// RemoteWait warns and keeps the connection open until the server closes
	// it or the process is stopped from outside.
	RemoteWait RemotePolicy = "wait"
)

// requiredCompletions is the number of suspend requests issued per run:
// one for all sinks, one for all sources.
const requiredCompletions = 2

// SessionState is the loop-owned state of a single suspend/resume run.
//
// The reducer is the only code that mutates it; the loop goroutine is its
// single owner.
type SessionState struct {
	// Suspend is the user's intent: true suspends, false resumes.
	Suspend bool

	// RemotePolicy applies to non-local servers.
	RemotePolicy RemotePolicy

	// Conn is the last reported connection state.
	Conn ConnState

	// HandleHeld is true while the connection handle has not been released.
	HandleHeld bool

	// Issued counts suspend requests handed to the connection. Drain starts
	// only once Completed catches up with it.
	Issued int

	// Completed counts successful suspend completions.
	Completed int

	// Draining is set once the drain step started.
	Draining bool

	// Done is set when the loop must exit; ExitCode is what it returns.
	Done     bool
	ExitCode int
}

// NewSessionState returns the state for a fresh run. The exit code starts at
// failure and is only cleared on the success paths.
func NewSessionState(suspend bool, policy RemotePolicy) *SessionState {
	if policy == "" {
		policy = RemoteDisconnect
	}
	return &SessionState{
		Suspend:      suspend,
		RemotePolicy: policy,
		Conn:         StateUnconnected,
		HandleHeld:   true,
		ExitCode:     1,
	}
}

// Quit requests loop exit with the given code.
func (s *SessionState) Quit(code int) {
	s.Done = true
	s.ExitCode = code
}

// verb names the action for diagnostics.
func (s *SessionState) verb() string {
	if s.Suspend {
		return "suspend"
	}
	return "resume"
}
