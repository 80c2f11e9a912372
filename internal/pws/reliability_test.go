package pws

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/BitBurrow/BitBurrow-sub000/internal/tcpconnector"
)

// TestReconnectRecoversMidStreamLoss simulates a dropped underlying socket
// with a message queued but never transmitted, then reconnects over a fresh
// socket pair and confirms the peer's RESEND on reconnect flushes the
// engine's journal instead of losing the message.
func TestReconnectRecoversMidStreamLoss(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eA := New("a", testLogger(), nil)
	eB := New("b", testLogger(), nil)

	sockA1, sockB1 := newMemPair()
	chA1, _ := eA.Connected(ctx, sockA1)
	chB1, _ := eB.Connected(ctx, sockB1)

	if err := eA.Send(ctx, []byte("m1")); err != nil {
		t.Fatalf("Send m1: %v", err)
	}
	select {
	case m := <-chB1:
		if string(m) != "m1" {
			t.Fatalf("first message = %q, want m1", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for m1")
	}

	// Drop the connection: close both ends of the in-memory socket pair.
	// listen() on each side sees EOF, returns, and Connected's goroutine
	// calls SetOfflineMode before closing its out channel.
	_ = sockA1.Close()
	_ = sockB1.Close()
	drain(t, chA1, 2*time.Second)
	drain(t, chB1, 2*time.Second)

	// Queue a message while offline: it only lands in the journal, since
	// sendChunk skips transmission when e.sock is nil.
	if err := eA.Send(ctx, []byte("m2")); err != nil {
		t.Fatalf("Send m2 (offline): %v", err)
	}
	eA.mu.Lock()
	queuedDepth := eA.jrnl.len()
	eA.mu.Unlock()
	if queuedDepth == 0 {
		t.Fatal("expected m2 to be queued in the journal while offline")
	}

	// Reconnect over a fresh socket pair. B's listen() immediately sends a
	// RESEND for its current inIndex (1, having received only m1), and A's
	// processAckOrResend answers by replaying the journal from there.
	sockA2, sockB2 := newMemPair()
	_, _ = eA.Connected(ctx, sockA2)
	chB2, _ := eB.Connected(ctx, sockB2)

	select {
	case m := <-chB2:
		if string(m) != "m2" {
			t.Fatalf("recovered message = %q, want m2", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for m2 to be recovered after reconnect")
	}
}

func drain(t *testing.T, ch <-chan []byte, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel to close")
		}
	}
}

// TestSendBlocksUntilJournalDrains fills the outbound journal to
// MaxSendBuffer directly, confirms a subsequent Send blocks on
// waitForJournalRoom, then drains the journal and confirms Send returns.
func TestSendBlocksUntilJournalDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New("t", testLogger(), nil)
	e.mu.Lock()
	for i := 0; i < MaxSendBuffer; i++ {
		e.jrnl.append([]byte{0, 0})
	}
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.Send(ctx, []byte("extra"))
	}()

	select {
	case err := <-done:
		t.Fatalf("Send returned early (err=%v) despite full journal", err)
	case <-time.After(300 * time.Millisecond):
	}

	e.mu.Lock()
	e.jrnl.pruneBefore(e.jrnl.journalIndex)
	e.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not unblock after journal drained")
	}
}

// TestJetForwardEndToEnd wires two engines through tcpconnector.Connector
// end to end: a local TCP client dials engine A's forwarded port, A relays
// the flow as jet-channel data to engine B, B dials a real TCP echo server,
// and the echoed bytes make the full round trip back to the local client.
func TestJetForwardEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo listen: %v", err)
	}
	defer echoLn.Close()
	go func() {
		for {
			conn, err := echoLn.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}(conn)
		}
	}()
	echoHost, echoPortStr, _ := net.SplitHostPort(echoLn.Addr().String())
	echoPort := mustAtoi(t, echoPortStr)

	hostLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve host port: %v", err)
	}
	_, hostPortStr, _ := net.SplitHostPort(hostLn.Addr().String())
	hostPort := mustAtoi(t, hostPortStr)
	_ = hostLn.Close()

	eA := New("a", testLogger(), nil)
	eB := New("b", testLogger(), nil)
	eB.AllowPortForwarding(true)

	sockA, sockB := newMemPair()
	_, _ = eA.Connected(ctx, sockA)
	_, _ = eB.Connected(ctx, sockB)

	go func() {
		_ = eA.ExecAndForwardTCP(ctx, nil, "127.0.0.1", hostPort, echoHost, echoPort)
	}()

	var client net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		client, err = net.Dial("tcp", tcpconnector.FormatIPPort("127.0.0.1", hostPort))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dialing forwarded port: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer client.Close()

	if _, err := client.Write([]byte("ping-through-jet")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, len("ping-through-jet"))
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("reading echoed bytes back through the jet channel: %v", err)
	}
	if string(buf) != "ping-through-jet" {
		t.Fatalf("round trip = %q, want %q", buf, "ping-through-jet")
	}
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			t.Fatalf("not a port number: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n
}
