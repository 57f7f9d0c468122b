package main

import (
	"fmt"
	"log/slog"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the event loop.
// In this codebase, those are requests against the audio server connection and
// diagnostics for the user.
type Command interface {
	commandMarker()
	String() string
}

// indexAll is the wildcard object index meaning "every object of this kind".
const indexAll = ^uint32(0)

// CmdSuspend requests suspending (or resuming) sinks or sources by index.
type CmdSuspend struct {
	Kind    TargetKind
	Index   uint32
	Suspend bool
}

func (CmdSuspend) commandMarker() {}
func (c CmdSuspend) String() string {
	idx := fmt.Sprint(c.Index)
	if c.Index == indexAll {
		idx = "all"
	}
	return fmt.Sprintf("CmdSuspend(kind=%s index=%s suspend=%v)", c.Kind, idx, c.Suspend)
}

// CmdDrain flushes all in-flight protocol requests.
type CmdDrain struct{}

func (CmdDrain) commandMarker() {}
func (CmdDrain) String() string { return "CmdDrain()" }

// CmdDisconnect closes the connection; it comes back as StateTerminated.
type CmdDisconnect struct{}

func (CmdDisconnect) commandMarker() {}
func (CmdDisconnect) String() string { return "CmdDisconnect()" }

// CmdRelease drops the connection handle without further notifications.
type CmdRelease struct{}

func (CmdRelease) commandMarker() {}
func (CmdRelease) String() string { return "CmdRelease()" }

// CmdReport writes a single diagnostic line.
type CmdReport struct {
	Level slog.Level
	Msg   string
	Err   error
}

func (CmdReport) commandMarker() {}
func (c CmdReport) String() string {
	if c.Err != nil {
		return fmt.Sprintf("CmdReport(level=%s msg=%q error=%q)", c.Level, c.Msg, c.Err)
	}
	return fmt.Sprintf("CmdReport(level=%s msg=%q)", c.Level, c.Msg)
}
