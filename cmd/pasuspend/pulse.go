package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse/proto"
	"golang.org/x/sync/errgroup"
)

// requestTimeout bounds every single protocol request.
const requestTimeout = 5 * time.Second

// errConnectionClosed is reported when the server hangs up while requests
// are still unanswered.
var errConnectionClosed = fmt.Errorf("connection closed by server: %w", io.EOF)

// pulseConn implements Conn over the PulseAudio native protocol.
type pulseConn struct {
	server     string
	clientName string
	cookieFile string
	logger     *slog.Logger
	isLocal    func(net.Addr) bool

	mu      sync.Mutex
	state   ConnState
	onState func(StateChange)
	netConn net.Conn
	client  *proto.Client
	local   bool
	closed  bool

	// ops tracks request goroutines so Drain can wait for them; pending
	// counts requests the server has not acknowledged yet.
	ops     errgroup.Group
	pending atomic.Int32
}

func newPulseConn(cfg Config, logger *slog.Logger) *pulseConn {
	return &pulseConn{
		server:     cfg.Server,
		clientName: cfg.ClientName,
		cookieFile: cfg.CookieFile,
		logger:     logger,
		isLocal:    isLocalAddr,
		state:      StateUnconnected,
	}
}

func (p *pulseConn) Connect(ctx context.Context, onState func(StateChange)) error {
	p.mu.Lock()
	if p.onState != nil || p.closed {
		p.mu.Unlock()
		return errors.New("connection already used")
	}
	p.onState = onState
	p.mu.Unlock()

	servers := resolveServers(p.server)
	if len(servers) == 0 {
		return errNoServer
	}
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("hostname: %w", err)
	}
	servers = usableOn(servers, hostname)
	if len(servers) == 0 {
		return fmt.Errorf("%w for host %s", errNoServer, hostname)
	}
	cookie, err := readCookie(p.cookieFile)
	if err != nil {
		return err
	}

	go p.handshake(ctx, servers, cookie)
	return nil
}

// handshake tries each server in turn; the first one that completes
// authentication and naming wins.
func (p *pulseConn) handshake(ctx context.Context, servers []serverAddr, cookie []byte) {
	lastErr := errNoServer
	var dialer net.Dialer

	for _, srv := range servers {
		if p.isClosed() || ctx.Err() != nil {
			return
		}
		p.setState(StateConnecting, nil)
		p.logger.Debug("connecting", "server", srv.String())

		conn, err := dialer.DialContext(ctx, srv.protocol, srv.addr)
		if err != nil {
			p.logger.Debug("dial failed", "server", srv.String(), "error", err)
			lastErr = err
			continue
		}

		client := &proto.Client{}
		hungUp := false // guarded by p.mu
		client.Callback = func(msg interface{}) {
			if _, ok := msg.(*proto.ConnectionClosed); !ok {
				return
			}
			p.mu.Lock()
			current := p.client == client
			if !current {
				hungUp = true
			}
			p.mu.Unlock()
			if current {
				p.serverClosed()
			}
		}
		client.Open(conn)
		client.SetTimeout(requestTimeout)

		if err := p.authorize(client, cookie); err != nil {
			conn.Close()
			p.logger.Debug("handshake failed", "server", srv.String(), "error", err)
			lastErr = fmt.Errorf("%s: %w", srv, err)
			continue
		}

		if pid, uid, ok := peerCredentials(conn); ok {
			p.logger.Debug("server peer credentials", "pid", pid, "uid", uid)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.netConn = conn
		p.client = client
		p.local = p.isLocal(conn.RemoteAddr())
		early := hungUp
		p.mu.Unlock()

		p.setState(StateReady, nil)
		// The server may have hung up before the handle was stored.
		if early {
			p.serverClosed()
		}
		return
	}

	p.setState(StateFailed, lastErr)
}

func (p *pulseConn) authorize(client *proto.Client, cookie []byte) error {
	p.setState(StateAuthorizing, nil)
	var authReply proto.AuthReply
	err := client.Request(&proto.Auth{
		Version: client.Version(),
		Cookie:  cookie,
	}, &authReply)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	client.SetVersion(authReply.Version)

	p.setState(StateSettingName, nil)
	props := proto.PropList{
		"application.name":           proto.PropListString(p.clientName),
		"application.process.id":     proto.PropListString(strconv.Itoa(os.Getpid())),
		"application.process.binary": proto.PropListString(os.Args[0]),
	}
	if err := client.Request(&proto.SetClientName{Props: props}, &proto.SetClientNameReply{}); err != nil {
		return fmt.Errorf("set client name: %w", err)
	}
	return nil
}

// serverClosed maps a server-side hangup to a state: a clean termination when
// every request was acknowledged, a failure otherwise.
func (p *pulseConn) serverClosed() {
	if n := p.pending.Load(); n > 0 {
		p.logger.Debug("server closed the connection", "unacknowledged", n)
		p.setState(StateFailed, errConnectionClosed)
		return
	}
	p.setState(StateTerminated, nil)
}

// setState records st and reports it, unless the connection already reached a
// terminal state or was released.
func (p *pulseConn) setState(st ConnState, err error) {
	p.mu.Lock()
	if p.state == StateTerminated || p.state == StateFailed {
		p.mu.Unlock()
		return
	}
	p.state = st
	cb := p.onState
	p.mu.Unlock()

	if cb != nil {
		cb(StateChange{State: st, Err: err})
	}
}

func (p *pulseConn) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pulseConn) IsLocal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *pulseConn) SuspendSink(index uint32, suspend bool, done func(error)) {
	p.request(&proto.SuspendSink{SinkIndex: protoIndex(index), Suspend: suspend}, done)
}

func (p *pulseConn) SuspendSource(index uint32, suspend bool, done func(error)) {
	p.request(&proto.SuspendSource{SourceIndex: protoIndex(index), Suspend: suspend}, done)
}

// protoIndex maps the wildcard index onto the library's own constant.
func protoIndex(index uint32) uint32 {
	if index == indexAll {
		return proto.Undefined
	}
	return index
}

// request runs req without a reply payload and reports the outcome to done.
func (p *pulseConn) request(req proto.RequestArgs, done func(error)) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		go done(errNotConnected)
		return
	}

	p.pending.Add(1)
	p.ops.Go(func() error {
		err := client.Request(req, nil)
		if err == nil {
			p.pending.Add(-1)
		}
		done(err)
		return err
	})
}

func (p *pulseConn) Drain(done func()) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return errNotConnected
	}
	if p.pending.Load() == 0 {
		return errNothingPending
	}
	go func() {
		_ = p.ops.Wait()
		done()
	}()
	return nil
}

func (p *pulseConn) Disconnect() {
	p.mu.Lock()
	conn := p.netConn
	p.closed = true
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.setState(StateTerminated, nil)
}

func (p *pulseConn) Release() {
	p.mu.Lock()
	conn := p.netConn
	p.onState = nil
	p.netConn = nil
	p.client = nil
	p.closed = true
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// isLocalAddr reports whether a server address is on this host: a unix
// socket, or TCP over loopback.
func isLocalAddr(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.UnixAddr:
		return true
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	default:
		return false
	}
}
