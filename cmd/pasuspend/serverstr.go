package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const defaultTCPPort = "4713"

// serverAddr is one entry of a server string.
type serverAddr struct {
	localname string // only use this entry on the host with this name
	protocol  string
	addr      string
}

func (s serverAddr) String() string {
	if s.localname != "" {
		return fmt.Sprintf("{%s}%s:%s", s.localname, s.protocol, s.addr)
	}
	return s.protocol + ":" + s.addr
}

// parseServerString splits a server string into its usable entries.
// See https://www.freedesktop.org/wiki/Software/PulseAudio/Documentation/User/ServerStrings/
func parseServerString(str string) []serverAddr {
	var result []serverAddr
	for _, field := range strings.Fields(str) {
		if s, ok := parseServerEntry(field); ok {
			result = append(result, s)
		}
	}
	return result
}

func parseServerEntry(s string) (serverAddr, bool) {
	var server serverAddr
	if s[0] == '{' {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return serverAddr{}, false
		}
		server.localname = s[1:end]
		s = s[end+1:]
	}
	switch {
	case len(s) == 0:
		return serverAddr{}, false
	case s[0] == '/':
		server.protocol = "unix"
		server.addr = s
	case strings.HasPrefix(s, "unix:"):
		server.protocol = "unix"
		server.addr = s[5:]
	case strings.HasPrefix(s, "tcp6:"):
		server.protocol = "tcp6"
		server.addr = withDefaultPort(s[5:])
	case strings.HasPrefix(s, "tcp4:"):
		server.protocol = "tcp4"
		server.addr = withDefaultPort(s[5:])
	case strings.HasPrefix(s, "tcp:"):
		server.protocol = "tcp"
		server.addr = withDefaultPort(s[4:])
	default:
		server.protocol = "tcp"
		server.addr = withDefaultPort(s)
	}
	if server.addr == "" {
		return serverAddr{}, false
	}
	return server, true
}

func withDefaultPort(hostport string) string {
	if hostport == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(hostport); err == nil {
		return hostport
	}
	return net.JoinHostPort(strings.Trim(hostport, "[]"), defaultTCPPort)
}

// resolveServers picks the server list: explicit string, then $PULSE_SERVER,
// then the per-user native socket. Autospawning a server is never attempted.
func resolveServers(explicit string) []serverAddr {
	if explicit != "" {
		return parseServerString(explicit)
	}
	if raw, ok := os.LookupEnv("PULSE_SERVER"); ok {
		return parseServerString(raw)
	}
	return defaultServers()
}

func defaultServers() []serverAddr {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return []serverAddr{{protocol: "unix", addr: filepath.Join(dir, "pulse", "native")}}
	}
	return []serverAddr{{protocol: "unix", addr: fmt.Sprint("/run/user/", os.Getuid(), "/pulse/native")}}
}

// usableOn drops entries pinned to another host.
func usableOn(servers []serverAddr, hostname string) []serverAddr {
	var out []serverAddr
	for _, s := range servers {
		if s.localname != "" && s.localname != hostname {
			continue
		}
		out = append(out, s)
	}
	return out
}

// readCookie loads the auth cookie: the configured file, else $PULSE_COOKIE,
// else ~/.config/pulse/cookie. A missing file yields an all-zero cookie, which
// servers running with auth-anonymous=1 accept.
func readCookie(path string) ([]byte, error) {
	if path == "" {
		if p, ok := os.LookupEnv("PULSE_COOKIE"); ok {
			path = p
		} else {
			path = filepath.Join(os.Getenv("HOME"), ".config", "pulse", "cookie")
		}
	}
	cookie, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return make([]byte, 256), nil
		}
		return nil, fmt.Errorf("read cookie: %w", err)
	}
	return cookie, nil
}
