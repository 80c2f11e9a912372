package pws

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced inside the engine, following the
// taxonomy of transient/protocol/unrecoverable/programming conditions.
type Kind int

const (
	// KindTransientIO covers socket disconnects and write-after-close; the
	// engine transitions Offline and recovers from the journal on reconnect.
	KindTransientIO Kind = iota
	// KindProtocolDuplicate is an inbound chunk with index < in_index.
	KindProtocolDuplicate
	// KindProtocolGap is an inbound chunk with index > in_index.
	KindProtocolGap
	// KindUnrecoverable means the peer demanded chunks pruned from our
	// journal, or we received RESEND-ERROR. Terminates the message stream.
	KindUnrecoverable
	// KindProgrammingError is a reentrancy violation or an impossible ACK
	// index — an invariant the implementation itself should prevent.
	KindProgrammingError
)

// Error wraps a protocol condition with its mnemonic ops code (Bxxxxx) and
// classification, so callers can pattern-match with errors.Is/As.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

// ErrUnrecoverable is the sentinel matched via errors.Is for any KindUnrecoverable
// error raised by the engine. The message stream's terminal error always
// wraps this sentinel.
var ErrUnrecoverable = errors.New("persistent websocket: unrecoverable protocol error")

func newError(code string, kind Kind, format string, args ...any) *Error {
	return &Error{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func unrecoverable(code, format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnrecoverable, newError(code, KindUnrecoverable, format, args...).Error())
}
