package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// connFactory creates the (not yet connected) control connection.
type connFactory func(cfg Config, logger *slog.Logger) Conn

func newPulse(cfg Config, logger *slog.Logger) Conn {
	return newPulseConn(cfg, logger)
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr, newPulse))
}

// run is the whole program; it returns the process exit code. Every resource
// it acquires is released by a deferred call before it returns.
func run(argv []string, stdout, stderr io.Writer, newConn connFactory) int {
	prog := "pasuspend"
	var args []string
	if len(argv) > 0 {
		prog = filepath.Base(argv[0])
		args = argv[1:]
	}

	// Help wins over everything else, including bad flags.
	if wantsHelp(args) {
		printUsage(stdout, prog)
		return 0
	}

	opt, err := parseOptions(prog, args)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintf(stderr, "Try '%s --help' for more information.\n", prog)
		return 1
	}
	if opt.Help {
		printUsage(stdout, prog)
		return 0
	}

	cfg, err := loadConfig(opt.ConfigPath)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	opt.Overrides.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	if cfg.ClientName == "" {
		cfg.ClientName = prog
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	logger := setupLogger(logLevel, stderr)

	if len(opt.Args) > 0 {
		logger.Debug("ignoring positional arguments", "args", opt.Args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	return suspendAll(ctx, newConn(cfg, logger), opt.Suspend, cfg, logger)
}

// suspendAll runs one suspend/resume cycle over conn and returns the exit code.
// The connection handle is released exactly once, whichever way the run ends.
func suspendAll(ctx context.Context, conn Conn, suspend bool, cfg Config, logger *slog.Logger) int {
	box := newMailbox()
	defer box.close()

	sess := newSession(conn, box.post, logger)
	defer sess.release()

	logger.Debug("starting",
		"suspend", suspend,
		"server", cfg.Server,
		"client_name", cfg.ClientName,
		"timeout", cfg.Timeout,
		"remote_policy", cfg.RemotePolicy)

	if err := sess.start(ctx); err != nil {
		logger.Error("Failed to connect", "error", err)
		return 1
	}

	state := NewSessionState(suspend, cfg.RemotePolicy)
	return runLoop(ctx, sess, box, state, cfg.Timeout, logger)
}
