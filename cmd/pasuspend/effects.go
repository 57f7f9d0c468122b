package main

import (
	"context"
	"log/slog"
)

// runEffect executes a single reducer-emitted Command against the session's
// connection.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly.
// - Synchronous observations go through onEvent; asynchronous completions go
//   through the session's mailbox, because they arrive on other goroutines.
func runEffect(sess *session, cmd Command, logger *slog.Logger, onEvent func(Event)) {
	if onEvent == nil {
		return
	}

	switch c := cmd.(type) {
	case CmdReport:
		if c.Err != nil {
			logger.Log(context.Background(), c.Level, c.Msg, "error", c.Err)
		} else {
			logger.Log(context.Background(), c.Level, c.Msg)
		}

	case CmdSuspend:
		if !sess.held() {
			onEvent(SuspendCompleted{Kind: c.Kind, Err: errNotConnected})
			return
		}
		kind := c.Kind
		done := func(err error) {
			sess.post(SuspendCompleted{Kind: kind, Err: err})
		}
		switch kind {
		case TargetSink:
			sess.conn.SuspendSink(c.Index, c.Suspend, done)
		case TargetSource:
			sess.conn.SuspendSource(c.Index, c.Suspend, done)
		default:
			logger.Warn("unknown suspend target", "command", cmd.String())
			onEvent(SuspendCompleted{Kind: kind, Err: errUnknownCommand{cmd: cmd}})
		}

	case CmdDrain:
		if !sess.held() {
			onEvent(DrainRejected{Err: errNotConnected})
			return
		}
		err := sess.conn.Drain(func() {
			sess.post(DrainCompleted{})
		})
		if err != nil {
			logger.Debug("drain not issued", "error", err)
			onEvent(DrainRejected{Err: err})
		}

	case CmdDisconnect:
		if !sess.held() {
			return
		}
		sess.conn.Disconnect()

	case CmdRelease:
		sess.release()

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
