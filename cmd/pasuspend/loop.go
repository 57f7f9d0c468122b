package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Event loop - reducer-driven connection controller
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The loop is the only place that executes side effects.
//   - Collaborator callbacks never touch state; they post Events to the
//     mailbox and the loop reduces them one at a time.
//
// ============================================================================

// mailboxSize comfortably exceeds the number of events a single run produces.
const mailboxSize = 32

// mailbox carries events from collaborator goroutines into the loop.
type mailbox struct {
	events chan Event
	stop   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		events: make(chan Event, mailboxSize),
		stop:   make(chan struct{}),
	}
}

// post delivers ev to the loop, or drops it once the loop has returned.
func (m *mailbox) post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.stop:
	}
}

// close unblocks any pending post after the loop is gone.
func (m *mailbox) close() {
	close(m.stop)
}

// runLoop drives the state machine until it requests exit and returns the
// exit code.
//
// Shutdown semantics:
//   - Returns when the reducer marks the state Done
//   - A canceled ctx is reduced as Interrupted
//   - A non-zero timeout is reduced as TimedOut once it elapses
func runLoop(
	ctx context.Context,
	sess *session,
	box *mailbox,
	state *SessionState,
	timeout time.Duration,
	logger *slog.Logger,
) int {
	if state == nil {
		logger.Error("session state is nil")
		return 1
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			logger.Debug("event", "type", eventName(ev), "conn", state.Conn.String())
			rr := Reduce(state, ev)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			logger.Debug("command", "command", cmd.String())
			runEffect(sess, cmd, logger, enqueueEvent)
			flushEvents()
		}
	}

	step := func(ev Event) {
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
	}

	ctxDone := ctx.Done()
	for !state.Done {
		select {
		case <-ctxDone:
			ctxDone = nil
			step(Interrupted{Cause: context.Cause(ctx)})

		case <-timeoutC:
			step(TimedOut{After: timeout})

		case ev := <-box.events:
			step(ev)
		}
	}

	logger.Debug("loop finished", "exit_code", state.ExitCode, "completed", state.Completed)
	return state.ExitCode
}

func eventName(ev Event) string {
	switch e := ev.(type) {
	case ConnStateChanged:
		return "state:" + e.State.String()
	case SuspendCompleted:
		if e.Err != nil {
			return "suspend-failed:" + e.Kind.String()
		}
		return "suspend-done:" + e.Kind.String()
	case DrainCompleted:
		return "drain-done"
	case DrainRejected:
		return "drain-rejected"
	case TimedOut:
		return "timeout"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}
