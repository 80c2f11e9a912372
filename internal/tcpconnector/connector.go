// Package tcpconnector bridges a single TCP flow through a persistent
// websocket's jet channel: one host-side listener, one peer-side dialer,
// `forward_to`/`disconnect` ASCII commands, and at most one active
// connection at a time (the jet channel is a singleton).
package tcpconnector

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender is the subset of the persistent-websocket engine the connector
// needs to emit jet data and jet commands. Implemented by *pws.Engine.
type Sender interface {
	JetSend(ctx context.Context, data []byte) error
	SendJetCmd(ctx context.Context, cmd string) error
}

// Admission gates new jet-channel TCP dials on host resource pressure,
// independent of the rate limiter, which only defends against dial floods.
// Implemented by *resourceguard.Guard.
type Admission interface {
	AllowJetDial() bool
}

// DestinationPolicy gates which "host:port" destinations the host role may
// name in a forward_to command. Implemented by policy.Forwarding.
type DestinationPolicy interface {
	Allowed(dest string) bool
}

// Connector owns the optional TCP tunnel for one engine. Construct it with
// New, which sets the sender, logger and dial limiter it relies on.
type Connector struct {
	sender Sender
	log    zerolog.Logger

	mu                  sync.Mutex
	allowPortForwarding bool // peer-side consent; denied by default
	isHost              bool // true once ExecAndForwardTCP/open a listener has run
	conn                *activeConn
	listener            net.Listener
	peerHost            string // host-side: where the peer should forward to
	peerPort            int
	peerOutbound        net.Conn // peer-side: our outbound connection handle
	admission           Admission
	destinations        DestinationPolicy

	dialLimiter *rate.Limiter // defends forward_to floods from a buggy/hostile peer
}

// New constructs a Connector bound to sender for emitting jet traffic.
func New(sender Sender, log zerolog.Logger) *Connector {
	return &Connector{
		sender:      sender,
		log:         log,
		dialLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 3),
	}
}

// AllowPortForwarding sets peer-side consent to dial outbound TCP in
// response to a forward_to command. Denied by default for security.
func (c *Connector) AllowPortForwarding(allowed bool) {
	c.mu.Lock()
	c.allowPortForwarding = allowed
	c.mu.Unlock()
}

// SetAdmission installs the CPU-pressure gate new dials must pass. A nil
// Admission (the default) admits unconditionally.
func (c *Connector) SetAdmission(a Admission) {
	c.mu.Lock()
	c.admission = a
	c.mu.Unlock()
}

// SetDestinationPolicy installs the host-side destination allow-list. A nil
// DestinationPolicy (the default) admits every destination, the same
// knob-not-loaded-yet posture AllowPortForwarding's zero value has.
func (c *Connector) SetDestinationPolicy(p DestinationPolicy) {
	c.mu.Lock()
	c.destinations = p
	c.mu.Unlock()
}

// ExecAndForwardTCP opens a local listening TCP socket on hostAddr:hostPort,
// remembers (peerAddr, peerPort) for later forward_to commands, runs
// execArgs to completion, then closes the listener. Mirrors `ssh -L`.
func (c *Connector) ExecAndForwardTCP(ctx context.Context, execArgs []string, hostAddr string, hostPort int, peerAddr string, peerPort int) error {
	c.mu.Lock()
	c.isHost = true
	c.peerHost = peerAddr
	c.peerPort = peerPort
	c.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", hostAddr, hostPort))
	if err != nil {
		return fmt.Errorf("tcpconnector: listen %s:%d: %w", hostAddr, hostPort, err)
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	defer ln.Close()

	go c.acceptLoop(ctx, ln)

	return runExternal(ctx, execArgs)
}

func (c *Connector) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return // listener closed
		}
		c.onHostDial(ctx, nc)
	}
}

// onHostDial is called when a local TCP client connects to the host's
// listening port. At most one ActiveTcpConnection exists at a time; any
// additional dial is refused immediately.
func (c *Connector) onHostDial(ctx context.Context, nc net.Conn) {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		c.log.Debug().Str("code", "B40829").Msg("jet channel already active, refusing new TCP dial")
		nc.Close()
		return
	}
	if c.admission != nil && !c.admission.AllowJetDial() {
		c.mu.Unlock()
		c.log.Warn().Str("code", "B99184").Msg("refusing new TCP dial, host under CPU pressure")
		nc.Close()
		return
	}
	peerHost, peerPort := c.peerHost, c.peerPort
	dest := FormatIPPort(peerHost, peerPort)
	if c.destinations != nil && !c.destinations.Allowed(dest) {
		c.mu.Unlock()
		c.log.Warn().Str("code", "B99185").Str("dest", dest).Msg("forward destination not on allow-list, refusing TCP dial")
		nc.Close()
		return
	}
	ac := newActiveConn(nc, c)
	c.conn = ac
	c.mu.Unlock()

	c.log.Debug().Str("code", "B40828").Str("peer", nc.RemoteAddr().String()).Msg("TCP connection from local client")
	if err := c.sender.SendJetCmd(ctx, fmt.Sprintf("forward_to %s", dest)); err != nil {
		c.log.Warn().Str("code", "B99177").Err(err).Msg("failed to send forward_to jet command")
	}
	go ac.pump(ctx)
}

// openPeerConnection dials ip:port on the peer side, in response to an
// inbound forward_to jet command, only if port forwarding is allowed, we
// are not ourselves the host, no connection is already active, admission
// control permits it and the dial rate limit is not exceeded.
func (c *Connector) openPeerConnection(ctx context.Context, ip string, port int) {
	c.mu.Lock()
	allowed := c.allowPortForwarding
	isHost := c.isHost
	alreadyActive := c.conn != nil
	admission := c.admission
	c.mu.Unlock()
	if !allowed || isHost || alreadyActive {
		return
	}
	if admission != nil && !admission.AllowJetDial() {
		c.log.Warn().Str("code", "B99186").Msg("refusing peer TCP dial, host under CPU pressure")
		return
	}
	if !c.dialLimiter.Allow() {
		c.log.Warn().Str("code", "B99178").Msg("forward_to dial rate exceeded, ignoring command")
		return
	}
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", FormatIPPort(ip, port))
	if err != nil {
		c.log.Warn().Str("code", "B99179").Err(err).Str("addr", FormatIPPort(ip, port)).Msg("peer dial failed")
		return
	}
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		nc.Close()
		return
	}
	ac := newActiveConn(nc, c)
	c.conn = ac
	c.peerOutbound = nc
	c.mu.Unlock()
	go ac.pump(ctx)
}

// Write forwards jet-channel data from the remote engine to whichever side
// of the tunnel is active locally.
func (c *Connector) Write(data []byte) {
	c.mu.Lock()
	ac := c.conn
	c.mu.Unlock()
	if ac != nil {
		ac.write(data)
	}
}

// Close tears down the active TCP connection (host or peer), leaving the
// host's listening port open for future dials.
func (c *Connector) Close() {
	c.mu.Lock()
	ac := c.conn
	c.conn = nil
	peerOutbound := c.peerOutbound
	isHost := c.isHost
	c.peerOutbound = nil
	c.mu.Unlock()
	if ac != nil {
		c.log.Debug().Str("code", "B54010").Msg("closing TCP connection")
		ac.transport.Close()
	}
	if !isHost && peerOutbound != nil {
		c.log.Debug().Str("code", "B26968").Msg("closing TCP peer connection")
		peerOutbound.Close()
	}
}

// onConnLost is invoked by activeConn when its transport is closed, either
// by the local endpoint or the remote TCP peer.
func (c *Connector) onConnLost(ctx context.Context, ac *activeConn) {
	c.mu.Lock()
	if c.conn == ac {
		c.conn = nil
	}
	if c.peerOutbound == ac.transport {
		c.peerOutbound = nil
	}
	c.mu.Unlock()
	c.log.Debug().Str("code", "B33276").Msg("TCP connection lost")
	if err := c.sender.SendJetCmd(ctx, "disconnect"); err != nil {
		c.log.Warn().Str("code", "B99180").Err(err).Msg("failed to send disconnect jet command")
	}
}

// HandleCommand decodes and dispatches an ASCII jet-channel command
// (`forward_to <addr>` or `disconnect`); unknown commands are logged and
// ignored.
func (c *Connector) HandleCommand(ctx context.Context, cmd string) {
	word, rest, _ := strings.Cut(cmd, " ")
	switch word {
	case "forward_to":
		host, port, err := ParseIPPort(rest)
		if err != nil {
			c.log.Warn().Str("code", "B67537").Err(err).Str("cmd", cmd).Msg("malformed forward_to command")
			return
		}
		c.log.Debug().Str("code", "B99176").Str("host", host).Int("port", port).Msg("received forward_to command")
		c.openPeerConnection(ctx, host, port)
	case "disconnect":
		c.log.Debug().Str("code", "B50142").Msg("received disconnect command")
		c.Close()
	default:
		c.log.Warn().Str("code", "B67536").Str("cmd", cmd).Msg("unknown jet command")
	}
}
