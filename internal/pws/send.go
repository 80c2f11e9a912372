package pws

import (
	"context"
	"time"

	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn"
)

// Send enqueues an application message on the main channel, blocking under
// flow control while the journal is at capacity.
func (e *Engine) Send(ctx context.Context, data []byte) error {
	return e.sendChunk(ctx, data, false)
}

// JetSend is the jet-channel counterpart of Send, carrying opaque
// TCP-tunnel bytes instead of an application message.
func (e *Engine) JetSend(ctx context.Context, data []byte) error {
	return e.sendChunk(ctx, data, true)
}

// SendJetCmd emits an ASCII jet-channel command chunk (`forward_to ...`,
// `disconnect`). It goes through the same journal/flow-control path as any
// other chunk, so it is reliably delivered and resent across reconnects.
func (e *Engine) SendJetCmd(ctx context.Context, cmd string) error {
	if err := e.waitForJournalRoom(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	header := EncodeJetCmd(e.jrnl.journalIndex)
	chunk := append(header[:], []byte(cmd)...)
	e.jrnl.append(chunk)
	e.enableJournalTimerLocked()
	depth := e.jrnl.len()
	sock := e.sock
	e.mu.Unlock()
	e.metrics.JournalDepth(depth)
	if sock != nil {
		_ = e.sendRaw(ctx, sock, chunk, "jetcmd")
	}
	e.maybeChaos(3)
	return nil
}

func (e *Engine) sendChunk(ctx context.Context, data []byte, jet bool) error {
	if err := e.waitForJournalRoom(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	header := EncodeData(e.jrnl.journalIndex, jet)
	chunk := append(header[:], data...)
	e.jrnl.append(chunk)
	e.enableJournalTimerLocked()
	depth := e.jrnl.len()
	sock := e.sock
	e.mu.Unlock()
	kind := "message"
	if jet {
		kind = "jet"
	}
	e.metrics.JournalDepth(depth)
	if sock != nil {
		_ = e.sendRaw(ctx, sock, chunk, kind)
	}
	e.maybeChaos(3)
	return nil
}

// waitForJournalRoom is the flow-control point: it blocks while the
// journal is at MaxSendBuffer capacity, polling with linearly increasing
// backoff (1s up to 30s) until room opens up.
func (e *Engine) waitForJournalRoom(ctx context.Context) error {
	delay := flowControlInitialWait
	warned := false
	for {
		e.mu.Lock()
		full := e.jrnl.len() >= MaxSendBuffer
		e.mu.Unlock()
		if !full {
			if warned {
				e.log.Debug().Str("code", "B64414").Msg("resuming send")
			}
			return nil
		}
		if !warned {
			e.log.Info().Str("code", "B60013").Msg("outbound buffer is full--waiting")
			warned = true
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < flowControlMaxWait {
			delay += time.Second
		}
	}
}

// sendRaw transmits chunk on sock (a nil sock is a no-op). On a send
// failure it logs, switches the engine offline and returns the error;
// callers generally ignore it, since the journal and resend logic recover
// the chunk after reconnect.
func (e *Engine) sendRaw(ctx context.Context, sock wsconn.Socket, chunk []byte, kind string) error {
	if sock == nil {
		return nil
	}
	if err := sock.SendBytes(ctx, chunk); err != nil {
		e.log.Info().Str("code", "B44793").Err(err).Msg("WebSocket disconnect")
		e.SetOfflineMode()
		return err
	}
	e.log.Debug().Str("code", "B41789").Str("chunk", PrintableHex(chunk)).Msg("sent")
	e.metrics.ChunkSent(kind)
	return nil
}

// resendOne retransmits only the oldest unacked journal entry; a
// subsequent RESEND from the peer will fetch the remainder, avoiding
// congestion from resending everything on every timer tick.
func (e *Engine) resendOne(ctx context.Context) {
	e.mu.Lock()
	chunk, ok := e.jrnl.oldest()
	sock := e.sock
	e.mu.Unlock()
	if !ok || sock == nil {
		return
	}
	_ = e.sendRaw(ctx, sock, chunk, "resend")
}

// resend retransmits journal[start:end) oldest-first. A range reaching
// outside [tailIndex, journalIndex] cannot be served: resend then sends a
// RESEND-ERROR signal and returns an error wrapping ErrUnrecoverable
// rather than panicking.
func (e *Engine) resend(ctx context.Context, start, end int64) error {
	e.mu.Lock()
	if end < start {
		e.mu.Unlock()
		return nil
	}
	tail := e.jrnl.tailIndex()
	if end > e.jrnl.journalIndex || start < tail {
		e.mu.Unlock()
		e.log.Error().Str("code", "B38394").
			Int64("want_start", start).Int64("want_end", end).
			Int64("have_start", tail).Int64("have_end", e.jrnl.journalIndex).
			Msg("remote wants journal range we no longer have")
		_ = e.sendRawSignal(ctx, sigResendError)
		return unrecoverable("B34922", "impossible resend request")
	}
	chunks := e.jrnl.slice(start, end)
	cp := make([][]byte, len(chunks))
	copy(cp, chunks)
	sock := e.sock
	e.mu.Unlock()
	if start == end {
		return nil
	}
	e.log.Info().Str("code", "B57684").Int64("start", start).Int64("end", end).Msg("resending journal range")
	for _, c := range cp {
		_ = e.sendRaw(ctx, sock, c, "resend")
	}
	return nil
}

func (e *Engine) sendRawSignal(ctx context.Context, sig uint16) error {
	e.mu.Lock()
	sock := e.sock
	e.mu.Unlock()
	if sock == nil {
		return nil
	}
	h := EncodeSignal(sig)
	return e.sendRaw(ctx, sock, h[:], "signal")
}
