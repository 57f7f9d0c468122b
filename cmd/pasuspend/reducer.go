package main

import (
	"fmt"
	"log/slog"
)

// This file implements the connection controller as a pure reducer:
//
//   - Events: connection state changes, request completions, drain results,
//     timeout and external stop
//   - Commands: requests against the connection plus diagnostics
//   - Reduce(): computes next state + commands, without performing I/O
//
// The event loop executes the Commands and feeds the resulting observations
// back as Events.

// ReduceResult is the output of Reduce(): next state plus the Commands to execute,
// in order.
type ReduceResult struct {
	State    *SessionState
	Commands []Command
}

// Reduce is the pure reducer.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Once the state is Done, every event is ignored
func Reduce(s *SessionState, e Event) ReduceResult {
	if s == nil {
		s = NewSessionState(true, RemoteDisconnect)
	}
	if s.Done {
		return ReduceResult{State: s}
	}

	var cmds []Command

	switch ev := e.(type) {
	case ConnStateChanged:
		s.Conn = ev.State

		switch ev.State {
		case StateConnecting, StateAuthorizing, StateSettingName:
			// transient

		case StateReady:
			if !ev.Local {
				cmds = append(cmds, CmdReport{Level: slog.LevelWarn, Msg: "Sound server is not local, not suspending."})
				if s.RemotePolicy == RemoteDisconnect {
					cmds = append(cmds, CmdDisconnect{})
				}
				break
			}
			// Sinks first, then sources.
			cmds = append(cmds,
				CmdSuspend{Kind: TargetSink, Index: indexAll, Suspend: s.Suspend},
				CmdSuspend{Kind: TargetSource, Index: indexAll, Suspend: s.Suspend},
			)
			s.Issued += requiredCompletions

		case StateTerminated:
			s.Quit(0)

		default:
			// Failed, or a state we do not know about.
			cmds = append(cmds, CmdReport{Level: slog.LevelError, Msg: "Connection failure", Err: connErr(ev)})
			if s.HandleHeld {
				cmds = append(cmds, CmdRelease{})
				s.HandleHeld = false
			}
			s.Quit(1)
		}

	case SuspendCompleted:
		if ev.Err != nil {
			cmds = append(cmds, CmdReport{Level: slog.LevelError, Msg: "Failure to " + s.verb(), Err: ev.Err})
			s.Quit(1)
			break
		}
		s.Completed++
		if s.Issued > 0 && s.Completed >= s.Issued && !s.Draining {
			cmds = append(cmds, drain(s)...)
		}

	case DrainCompleted:
		cmds = append(cmds, CmdDisconnect{})

	case DrainRejected:
		// Nothing to flush (or drain unavailable): disconnect right away.
		cmds = append(cmds, CmdDisconnect{})

	case TimedOut:
		cmds = append(cmds, CmdReport{Level: slog.LevelError, Msg: fmt.Sprintf("Timed out after %s", ev.After)})
		s.Quit(1)

	case Interrupted:
		cmds = append(cmds, CmdReport{Level: slog.LevelError, Msg: "Interrupted", Err: ev.Cause})
		s.Quit(1)

	default:
		// Unknown event type: no-op.
	}

	return ReduceResult{
		State:    s,
		Commands: cmds,
	}
}

// drain starts the drain step, or finishes the run when no connection is held.
func drain(s *SessionState) []Command {
	if !s.HandleHeld {
		s.Quit(0)
		return nil
	}
	s.Draining = true
	return []Command{CmdDrain{}}
}

func connErr(ev ConnStateChanged) error {
	if ev.Err != nil {
		return ev.Err
	}
	if ev.State != StateFailed {
		return fmt.Errorf("unexpected connection state %s", ev.State)
	}
	return fmt.Errorf("connection failed")
}
