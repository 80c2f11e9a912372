package pws

import (
	"context"

	"github.com/BitBurrow/BitBurrow-sub000/internal/tcpconnector"
)

// AllowPortForwarding sets peer-side consent to dial outbound TCP in
// response to a forward_to jet command. Denied by default.
func (e *Engine) AllowPortForwarding(allowed bool) {
	e.tcp.AllowPortForwarding(allowed)
}

// SetJetAdmission installs the CPU-pressure gate new jet-channel TCP dials
// must pass, on both the host-accept and peer-dial paths.
func (e *Engine) SetJetAdmission(a tcpconnector.Admission) {
	e.tcp.SetAdmission(a)
}

// SetJetDestinationPolicy installs the host-side destination allow-list a
// forward_to command's target must appear on.
func (e *Engine) SetJetDestinationPolicy(p tcpconnector.DestinationPolicy) {
	e.tcp.SetDestinationPolicy(p)
}

// ExecAndForwardTCP runs execArgs (if non-empty) and forwards a TCP flow
// between hostAddr:hostPort (this side) and peerAddr:peerPort (announced
// to the remote peer via a forward_to jet command), delegating to the
// engine's tcpconnector.Connector.
func (e *Engine) ExecAndForwardTCP(ctx context.Context, execArgs []string, hostAddr string, hostPort int, peerAddr string, peerPort int) error {
	return e.tcp.ExecAndForwardTCP(ctx, execArgs, hostAddr, hostPort, peerAddr, peerPort)
}
