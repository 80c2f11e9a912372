package pws

import (
	"context"
	"time"
)

// sendAck emits an ACK carrying the current inIndex and cancels any
// pending ack idle timer.
func (e *Engine) sendAck(ctx context.Context) error {
	e.mu.Lock()
	e.inLastAck = e.inIndex
	e.ackArmed = false
	idx := e.inIndex
	sock := e.sock
	e.mu.Unlock()
	if sock == nil {
		return nil
	}
	h := EncodeSignal(sigAck)
	idxBytes := EncodeData(idx, false)
	chunk := append(h[:], idxBytes[:]...)
	e.metrics.AckSent()
	return e.sendRaw(ctx, sock, chunk, "ack")
}

// sendResend emits a RESEND for the current inIndex, throttled so a
// duplicate RESEND for the same index is never sent within 500ms.
func (e *Engine) sendResend(ctx context.Context) error {
	now := time.Now()
	e.mu.Lock()
	if e.inIndex == e.inLastResend && now.Sub(e.inLastResendTime) < resendDuplicateWindow {
		e.mu.Unlock()
		return nil
	}
	e.inLastResend = e.inIndex
	e.inLastResendTime = now
	idx := e.inIndex
	sock := e.sock
	e.mu.Unlock()
	if sock == nil {
		return nil
	}
	h := EncodeSignal(sigResend)
	idxBytes := EncodeData(idx, false)
	chunk := append(h[:], idxBytes[:]...)
	e.metrics.ResendSent()
	return e.sendRaw(ctx, sock, chunk, "resend-signal")
}

// Ping emits a PING signal carrying data; the PONG reply is consumed
// internally by the inbound processor and never surfaced to the caller.
func (e *Engine) Ping(ctx context.Context, data []byte) error {
	e.mu.Lock()
	sock := e.sock
	e.mu.Unlock()
	if sock == nil {
		return nil
	}
	h := EncodeSignal(sigPing)
	chunk := append(h[:], data...)
	return e.sendRaw(ctx, sock, chunk, "ping")
}
