package pws

import (
	"context"
	"time"
)

// enableInTimerLocked arms the 1-second ack idle timer if there is
// unacknowledged inbound data and no timer already running. Must be
// called with e.mu held.
func (e *Engine) enableInTimerLocked() {
	if e.sock == nil {
		return
	}
	if e.inIndex > e.inLastAck && !e.ackArmed {
		e.ackArmed = true
		time.AfterFunc(ackTimerDelay, e.ackFire)
	}
}

// cancelAckTimerLocked disarms the ack idle timer, if any. Must be called
// with e.mu held.
func (e *Engine) cancelAckTimerLocked() {
	e.ackArmed = false
}

func (e *Engine) ackFire() {
	e.mu.Lock()
	if !e.ackArmed {
		e.mu.Unlock()
		return
	}
	e.ackArmed = false
	e.mu.Unlock()
	_ = e.sendAck(context.Background())
}

// enableJournalTimerLocked arms the exponential resend timer if the
// journal is non-empty, we are online, and no timer is already running.
// Must be called with e.mu held.
func (e *Engine) enableJournalTimerLocked() {
	if e.sock == nil {
		return
	}
	if e.jrnl.len() > 0 && !e.resendArmed {
		e.resendArmed = true
		time.AfterFunc(resendInitialDelay, func() { e.resendFire(resendInitialDelay) })
	}
}

// cancelResendTimerLocked disarms the resend timer, if any. Must be called
// with e.mu held.
func (e *Engine) cancelResendTimerLocked() {
	e.resendArmed = false
}

func (e *Engine) resendFire(prevDelay time.Duration) {
	e.mu.Lock()
	if !e.resendArmed {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.resendOne(context.Background())

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.resendArmed {
		return
	}
	if e.sock == nil || e.jrnl.len() == 0 {
		e.resendArmed = false
		return
	}
	next := prevDelay * resendBackoffFactor
	if next > resendMaxDelay {
		next = resendMaxDelay
	}
	time.AfterFunc(next, func() { e.resendFire(next) })
}
