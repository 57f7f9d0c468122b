package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// options is the parsed command line.
type options struct {
	Suspend    bool
	Help       bool
	ConfigPath string
	Overrides  FlagOverrides
	Args       []string
}

// intentFlag is one half of the -s/-r pair. Both halves write the same
// target, so whichever appears last on the command line wins.
type intentFlag struct {
	target *bool
	value  bool
}

func (f *intentFlag) String() string {
	if f.target == nil {
		return "false"
	}
	return strconv.FormatBool(*f.target == f.value)
}

func (f *intentFlag) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		*f.target = f.value
	}
	return nil
}

func (f *intentFlag) Type() string { return "bool" }

type flagValues struct {
	configPath   *string
	server       *string
	timeout      *time.Duration
	remotePolicy *string
	logLevel     *string
}

func newFlagSet(prog string, opt *options) (*pflag.FlagSet, flagValues) {
	fs := pflag.NewFlagSet(prog, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.SortFlags = false

	fs.VarPF(&intentFlag{target: &opt.Suspend, value: true}, "suspend", "s", "Suspend PulseAudio").NoOptDefVal = "true"
	fs.VarPF(&intentFlag{target: &opt.Suspend, value: false}, "resume", "r", "Resume PulseAudio").NoOptDefVal = "true"
	fs.BoolVarP(&opt.Help, "help", "h", false, "Show this help")

	v := flagValues{
		configPath:   fs.String("config", "", "YAML config file (default $XDG_CONFIG_HOME/pasuspend/config.yaml)"),
		server:       fs.String("server", "", "PulseAudio server string (default $PULSE_SERVER or the per-user socket)"),
		timeout:      fs.Duration("timeout", 0, "Give up after this long, e.g. 10s (0 waits indefinitely)"),
		remotePolicy: fs.String("remote-policy", string(RemoteDisconnect), "Non-local server: disconnect|wait"),
		logLevel:     fs.String("log-level", "warn", "Log level: error, warn, info, debug"),
	}

	// The classic three are documented in the fixed usage block.
	_ = fs.MarkHidden("suspend")
	_ = fs.MarkHidden("resume")
	_ = fs.MarkHidden("help")

	return fs, v
}

// parseOptions parses args (without the program name). Suspend is the
// default intent.
func parseOptions(prog string, args []string) (options, error) {
	opt := options{Suspend: true}
	fs, v := newFlagSet(prog, &opt)

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			opt.Help = true
			return opt, nil
		}
		return opt, err
	}

	opt.ConfigPath = *v.configPath
	if fs.Changed("server") {
		opt.Overrides.Server = v.server
	}
	if fs.Changed("timeout") {
		opt.Overrides.Timeout = v.timeout
	}
	if fs.Changed("remote-policy") {
		opt.Overrides.RemotePolicy = v.remotePolicy
	}
	if fs.Changed("log-level") {
		opt.Overrides.LogLevel = v.logLevel
	}
	opt.Args = fs.Args()
	return opt, nil
}

// wantsHelp reports whether -h/--help appears anywhere before a "--"
// terminator, including inside a cluster of short flags such as -sh.
func wantsHelp(args []string) bool {
	for _, a := range args {
		switch {
		case a == "--":
			return false
		case a == "--help" || a == "-h":
			return true
		case len(a) > 2 && a[0] == '-' && a[1] != '-':
			cluster := a[1:]
			if strings.Trim(cluster, "srh") == "" && strings.ContainsRune(cluster, 'h') {
				return true
			}
		}
	}
	return false
}

func printUsage(w io.Writer, prog string) {
	fmt.Fprintf(w, "%s [options]\n\n"+
		"  -h, --help                            Show this help\n"+
		"  -s, --suspend                         Suspend PulseAudio\n"+
		"  -r, --resume                          Resume PulseAudio\n\n",
		prog)

	var opt options
	fs, _ := newFlagSet(prog, &opt)
	fmt.Fprintln(w, "Advanced options:")
	fmt.Fprintln(w, fs.FlagUsages())
}
