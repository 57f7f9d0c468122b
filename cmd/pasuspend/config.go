package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration for pasuspend.
//
// Everything is optional: the defaults connect to the per-user PulseAudio
// socket exactly like libpulse would, without autospawning a server.
type Config struct {
	// Server is a PulseAudio server string. Empty means $PULSE_SERVER, then
	// the default native socket.
	Server string `yaml:"server"`

	// ClientName is announced as application.name. Empty means the program name.
	ClientName string `yaml:"client_name"`

	// CookieFile overrides $PULSE_COOKIE / ~/.config/pulse/cookie.
	CookieFile string `yaml:"cookie_file"`

	// Timeout bounds the whole run. Zero waits indefinitely.
	Timeout time.Duration `yaml:"timeout"`

	// RemotePolicy is what to do when the server is not local.
	RemotePolicy RemotePolicy `yaml:"remote_policy"`

	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with defaults. ClientName stays empty and is
// filled in from the program name at startup.
func DefaultConfig() Config {
	return Config{
		Timeout:      0,
		RemotePolicy: RemoteDisconnect,
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty file is a valid (all defaults) config.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// loadConfig resolves the config: an explicit path must exist, the default
// location is optional.
func loadConfig(explicit string) (Config, error) {
	if explicit != "" {
		return LoadConfigFile(explicit)
	}
	path := defaultConfigPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("stat config file: %w", err)
	}
	return LoadConfigFile(path)
}

func defaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(ExpandPath("~"), ".config")
	}
	return filepath.Join(dir, "pasuspend", "config.yaml")
}

// FlagOverrides carries values from flags on top of the loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	Server       *string
	Timeout      *time.Duration
	RemotePolicy *string
	LogLevel     *string
}

// Apply merges the overrides into cfg. If the pointer is non-nil, the value is
// applied (even if it is a zero value).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Server != nil {
		cfg.Server = *o.Server
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	if o.RemotePolicy != nil {
		cfg.RemotePolicy = RemotePolicy(*o.RemotePolicy)
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It is meant to run after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return errors.New("timeout must be >= 0")
	}
	switch c.RemotePolicy {
	case RemoteDisconnect, RemoteWait:
	case "":
		c.RemotePolicy = RemoteDisconnect
	default:
		return fmt.Errorf("remote_policy must be %q or %q", RemoteDisconnect, RemoteWait)
	}
	if c.Server != "" && len(parseServerString(c.Server)) == 0 {
		return fmt.Errorf("server %q contains no usable entry", c.Server)
	}
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
