package pws

import (
	"context"
	"time"
)

// processInbound classifies one raw chunk, enforces ordering, and returns
// a decoded application message (or nil for anything that was a side
// effect: ack/resend/ping/pong/jet data/jet command). The returned error is
// non-nil only for conditions worth surfacing to the caller's log; an
// error wrapping ErrUnrecoverable must end the stream.
func (e *Engine) processInbound(ctx context.Context, chunk []byte) ([]byte, error) {
	if len(chunk) < 2 {
		return nil, newError("B14726", KindProgrammingError, "chunk shorter than 2-byte header")
	}
	e.mu.Lock()
	if e.ipiFlag {
		e.mu.Unlock()
		e.log.Error().Str("code", "B14725").Msg("process_inbound is not reentrant")
		time.Sleep(1 * time.Second) // avoid an uninterruptible spin
		return nil, nil
	}
	e.ipiFlag = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.ipiFlag = false
		e.mu.Unlock()
	}()

	h := Classify(headerValue(chunk))
	switch h.Kind {
	case KindMessage, KindJetData:
		return e.processData(ctx, chunk, h)
	case KindJetCmd:
		return nil, e.processJetCmd(ctx, chunk, h)
	case KindSignalAck, KindSignalResend:
		return nil, e.processAckOrResend(ctx, chunk, h.Kind == KindSignalResend)
	case KindSignalResendError:
		e.log.Error().Str("code", "B75561").Msg("received resend error signal")
		return nil, unrecoverable("B91221", "received resend error signal")
	case KindSignalPing:
		return nil, e.replyPong(ctx, chunk)
	case KindSignalPong:
		return nil, nil
	default:
		e.log.Error().Str("code", "B32405").Uint16("header", h.ILSB).Msg("unknown signal")
		return nil, nil
	}
}

func (e *Engine) processData(ctx context.Context, chunk []byte, h Header) ([]byte, error) {
	e.mu.Lock()
	index := ExpandIndex(h.ILSB, e.inIndex)
	switch {
	case index == e.inIndex:
		e.inIndex++
		e.enableInTimerLocked()
		needAck := e.inIndex-e.inLastAck >= AckEvery
		e.mu.Unlock()
		e.metrics.ChunkReceived(kindLabel(h.Kind))
		if needAck {
			_ = e.sendAck(ctx)
		}
		if h.Kind == KindJetData {
			e.metrics.JetBytesRelayed(len(chunk) - 2)
			e.tcp.Write(chunk[2:])
			return nil, nil
		}
		return chunk[2:], nil
	case index > e.inIndex:
		e.mu.Unlock()
		_ = e.sendResend(ctx)
		return nil, nil
	default: // index < e.inIndex: duplicate
		e.mu.Unlock()
		e.log.Info().Str("code", "B73822").Int64("index", index).Msg("ignoring duplicate chunk")
		return nil, nil
	}
}

func kindLabel(k ChunkKind) string {
	if k == KindJetData {
		return "jet"
	}
	return "message"
}

func (e *Engine) processJetCmd(ctx context.Context, chunk []byte, h Header) error {
	e.mu.Lock()
	index := ExpandIndex(h.ILSB, e.inIndex)
	if index != e.inIndex {
		if index > e.inIndex {
			e.mu.Unlock()
			_ = e.sendResend(ctx)
			return nil
		}
		e.mu.Unlock()
		e.log.Info().Str("code", "B73823").Int64("index", index).Msg("ignoring duplicate jet command")
		return nil
	}
	e.inIndex++
	e.enableInTimerLocked()
	needAck := e.inIndex-e.inLastAck >= AckEvery
	e.mu.Unlock()
	if needAck {
		_ = e.sendAck(ctx)
	}
	e.tcp.HandleCommand(ctx, string(chunk[2:]))
	return nil
}

func (e *Engine) processAckOrResend(ctx context.Context, chunk []byte, isResend bool) error {
	if len(chunk) < 4 {
		return newError("B19145", KindProgrammingError, "ack/resend payload too short")
	}
	peerLSB := headerValue(chunk[2:4])
	e.mu.Lock()
	ackIndex := ExpandIndex(peerLSB, e.jrnl.journalIndex)
	tail := e.jrnl.tailIndex()
	if ackIndex > e.jrnl.journalIndex || ackIndex < tail {
		e.mu.Unlock()
		e.log.Error().Str("code", "B19144").Int64("ack_index", ackIndex).
			Int64("tail", tail).Int64("journal_index", e.jrnl.journalIndex).
			Msg("impossible ack index")
		_ = e.sendRawSignal(ctx, sigResendError)
		return unrecoverable("B44311", "impossible ack")
	}
	e.cancelResendTimerLocked() // got ack/resend; no need for the pending retransmit
	e.jrnl.pruneBefore(ackIndex)
	e.enableJournalTimerLocked() // re-arm, fresh backoff, for any remainder
	depth := e.jrnl.len()
	e.mu.Unlock()
	e.metrics.JournalDepth(depth)
	if isResend {
		return e.resend(ctx, ackIndex, e.currentJournalIndex())
	}
	return nil
}

func (e *Engine) currentJournalIndex() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jrnl.journalIndex
}

func (e *Engine) replyPong(ctx context.Context, chunk []byte) error {
	e.mu.Lock()
	sock := e.sock
	e.mu.Unlock()
	if sock == nil {
		return nil
	}
	h := EncodeSignal(sigPong)
	reply := append(h[:], chunk[2:]...)
	return e.sendRaw(ctx, sock, reply, "pong")
}
