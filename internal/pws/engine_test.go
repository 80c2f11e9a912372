package pws

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memSocket is an in-memory wsconn.Socket backed by a channel, used in
// pairs to exercise the engine without a real network.
type memSocket struct {
	out    chan []byte
	in     <-chan []byte
	mu     sync.Mutex
	closed bool
}

func newMemPair() (*memSocket, *memSocket) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &memSocket{out: ab, in: ba}
	b := &memSocket{out: ba, in: ab}
	return a, b
}

func (s *memSocket) SendBytes(ctx context.Context, data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case s.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memSocket) RecvBytes(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestEndToEndOrderedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sockA, sockB := newMemPair()
	eA := New("a", testLogger(), nil)
	eB := New("b", testLogger(), nil)

	chA, _ := eA.Connected(ctx, sockA)
	chB, _ := eB.Connected(ctx, sockB)

	want := [][]byte{[]byte("hello"), []byte("world"), []byte("third")}
	for _, m := range want {
		if err := eA.Send(ctx, m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var got [][]byte
	for i := 0; i < len(want); i++ {
		select {
		case m := <-chB:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	for i, m := range want {
		if string(got[i]) != string(m) {
			t.Fatalf("message %d: got %q want %q", i, got[i], m)
		}
	}

	// unused receive channel from the sender side should stay empty
	select {
	case m := <-chA:
		t.Fatalf("unexpected message on sender side: %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJournalPrunesAfterAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sockA, sockB := newMemPair()
	eA := New("a", testLogger(), nil)
	eB := New("b", testLogger(), nil)

	_, _ = eA.Connected(ctx, sockA)
	chB, _ := eB.Connected(ctx, sockB)

	if err := eA.Send(ctx, []byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-chB:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	// B's ack-idle timer (1s) will fire and send an ACK back to A; wait for
	// A's journal to drain below the full count it started at.
	deadline := time.Now().Add(3 * time.Second)
	for {
		eA.mu.Lock()
		depth := eA.jrnl.len()
		eA.mu.Unlock()
		if depth == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal never pruned, depth=%d", depth)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMaxLSBExceedsSendBufferInvariant(t *testing.T) {
	if MaxLSB <= MaxSendBuffer*3 {
		t.Fatalf("MaxLSB=%d must exceed MaxSendBuffer*3=%d", MaxLSB, MaxSendBuffer*3)
	}
}

func TestSendResendDuplicateWindowThrottles(t *testing.T) {
	ctx := context.Background()
	sockA, _ := newMemPair()
	e := New("t", testLogger(), nil)
	e.SetOnlineMode(sockA)
	defer e.SetOfflineMode()

	if err := e.sendResend(ctx); err != nil {
		t.Fatalf("sendResend: %v", err)
	}
	select {
	case <-sockA.out:
	case <-time.After(time.Second):
		t.Fatal("expected first resend to be sent")
	}

	if err := e.sendResend(ctx); err != nil {
		t.Fatalf("sendResend: %v", err)
	}
	select {
	case <-sockA.out:
		t.Fatal("second resend within the dedup window should have been suppressed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReplyPongEchoesPayload(t *testing.T) {
	ctx := context.Background()
	sockA, _ := newMemPair()
	e := New("t", testLogger(), nil)
	e.SetOnlineMode(sockA)
	defer e.SetOfflineMode()

	h := EncodeSignal(sigPing)
	payload := append(h[:], []byte("ping-data")...)

	if _, err := e.processInbound(ctx, payload); err != nil {
		t.Fatalf("processInbound: %v", err)
	}

	select {
	case reply := <-sockA.out:
		got := Classify(headerValue(reply))
		if got.Kind != KindSignalPong {
			t.Fatalf("reply kind = %v, want KindSignalPong", got.Kind)
		}
		if string(reply[2:]) != "ping-data" {
			t.Fatalf("reply payload = %q, want %q", reply[2:], "ping-data")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a pong reply")
	}
}

func TestImpossibleAckIsUnrecoverable(t *testing.T) {
	ctx := context.Background()
	sockA, _ := newMemPair()
	e := New("t", testLogger(), nil)
	e.SetOnlineMode(sockA)
	defer e.SetOfflineMode()

	// journalIndex is 0 and the journal is empty; any ack claiming index 1
	// is impossible since nothing has been sent yet.
	h := EncodeSignal(sigAck)
	idx := EncodeData(1, false)
	chunk := append(h[:], idx[:]...)

	_, err := e.processInbound(ctx, chunk)
	if err == nil {
		t.Fatal("expected an unrecoverable error")
	}
}

func TestDuplicateInboundChunkIgnored(t *testing.T) {
	ctx := context.Background()
	sockA, _ := newMemPair()
	e := New("t", testLogger(), nil)
	e.SetOnlineMode(sockA)
	defer e.SetOfflineMode()

	h := EncodeData(0, false)
	chunk := append(h[:], []byte("first")...)
	msg, err := e.processInbound(ctx, chunk)
	if err != nil || string(msg) != "first" {
		t.Fatalf("processInbound first: msg=%q err=%v", msg, err)
	}

	msg, err = e.processInbound(ctx, chunk) // same index again: duplicate
	if err != nil {
		t.Fatalf("processInbound duplicate: %v", err)
	}
	if msg != nil {
		t.Fatalf("duplicate chunk should yield no message, got %q", msg)
	}
}
