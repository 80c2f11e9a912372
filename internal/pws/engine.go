package pws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BitBurrow/BitBurrow-sub000/internal/tcpconnector"
	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn"
	"github.com/BitBurrow/BitBurrow-sub000/internal/wsconn/gorillaconn"
)

const (
	ackTimerDelay          = 1 * time.Second
	resendInitialDelay     = 2 * time.Second
	resendMaxDelay         = 30 * time.Second
	resendBackoffFactor    = 2
	resendDuplicateWindow  = 500 * time.Millisecond
	flowControlInitialWait = 1 * time.Second
	flowControlMaxWait     = 30 * time.Second
)

// Engine is one endpoint of a persistent-websocket connection. It owns its
// journal and sequence state exclusively for its lifetime, across however
// many successive socket handles it is given.
type Engine struct {
	logID string
	log   zerolog.Logger
	tcp   *tcpconnector.Connector

	connectMu sync.Mutex // prevents two concurrent sessions (connect_lock)
	connects  int

	mu               sync.Mutex // guards everything below; single-producer discipline
	sock             wsconn.Socket
	inIndex          int64
	inLastAck        int64
	ackArmed         bool
	inLastResend     int64
	inLastResendTime time.Time
	jrnl             journal
	resendArmed      bool
	ipiFlag          bool

	chaosPermille int
	rng           *rand.Rand
	authToken     string

	terminalErr error
	metrics     Metrics
}

// SetAuthToken sets the bearer token Connect presents on every dial
// (initial and reconnect). Only meaningful for the client role.
func (e *Engine) SetAuthToken(token string) {
	e.authToken = token
}

// New constructs an engine whose log lines carry logID as the log_id field.
func New(logID string, log zerolog.Logger, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	e := &Engine{
		logID:   logID,
		log:     log.With().Str("log_id", logID).Logger(),
		metrics: metrics,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	e.tcp = tcpconnector.New(e, e.log)
	return e
}

// SetChaos arms fault injection: each send/receive draws a uniform random
// int in [0,999]; below permille, the socket is closed after a short delay
// to simulate a disconnect. Intended for tests only.
func (e *Engine) SetChaos(permille int) {
	e.mu.Lock()
	e.chaosPermille = permille
	e.mu.Unlock()
}

func (e *Engine) maybeChaos(codeDelayMax int) {
	e.mu.Lock()
	permille := e.chaosPermille
	trigger := permille > 0 && permille > e.rng.Intn(1000)
	var delay time.Duration
	if trigger {
		delay = time.Duration(e.rng.Intn(codeDelayMax+1)) * time.Second
	}
	e.mu.Unlock()
	if !trigger {
		return
	}
	e.log.Warn().Str("code", "B66740").Msg("randomly closing WebSocket to test recovery")
	time.Sleep(delay)
	e.SetOfflineMode()
	time.Sleep(delay)
}

// IsOnline reports whether a live socket is currently attached.
func (e *Engine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sock != nil
}

// IsOffline is the complement of IsOnline.
func (e *Engine) IsOffline() bool { return !e.IsOnline() }

// SetOnlineMode attaches a live socket and arms timers as appropriate. It
// panics if already online, mirroring the source's "cannot go online
// twice" assertion — callers (Connect/Connected) only call this
// while holding connectMu, after SetOfflineMode.
func (e *Engine) SetOnlineMode(sock wsconn.Socket) {
	e.mu.Lock()
	if e.sock != nil {
		e.mu.Unlock()
		panic("pws: B39653 cannot go online twice")
	}
	e.sock = sock
	e.connects++
	n := e.connects
	e.enableJournalTimerLocked()
	e.enableInTimerLocked()
	e.mu.Unlock()
	e.metrics.Reconnect()
	e.log.Info().Str("code", "B17183").Int("connects", n).Msg("WebSocket reconnect")
}

// SetOfflineMode detaches the socket (if any), closing it and cancelling
// timers. Safe to call multiple times.
func (e *Engine) SetOfflineMode() {
	e.mu.Lock()
	sock := e.sock
	e.sock = nil
	e.cancelAckTimerLocked()
	e.cancelResendTimerLocked()
	e.mu.Unlock()
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil {
		e.log.Debug().Str("code", "B79020").Err(err).Msg("WebSocket close error")
	} else {
		e.log.Info().Str("code", "B89445").Msg("WebSocket closed")
	}
}

// Connected handles one inbound server-accepted socket, yielding decoded
// application messages on the returned channel until the socket drops or
// an unrecoverable error occurs. This is the server-role entry point.
func (e *Engine) Connected(ctx context.Context, sock wsconn.Socket) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		e.acquireConnectLock("B30102")
		defer e.connectMu.Unlock()
		e.SetOnlineMode(sock)
		e.listen(ctx, out)
		e.SetOfflineMode()
	}()
	return out, nil
}

// Connect begins a client-role connection to url, reconnecting forever
// (across IP changes, drops, etc.) until ctx is cancelled or an
// unrecoverable protocol error terminates the stream.
func (e *Engine) Connect(ctx context.Context, url string) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		e.acquireConnectLock("B18449")
		defer e.connectMu.Unlock()
		backoff := 1 * time.Second
		const maxBackoff = 30 * time.Second
		for ctx.Err() == nil {
			sock, err := gorillaconn.Dial(ctx, url, e.authToken)
			if err != nil {
				e.log.Warn().Str("code", "B35536").Err(err).Msg("WebSocket dial failed, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}
			backoff = 1 * time.Second
			e.SetOnlineMode(sock)
			if unrec := e.listen(ctx, out); unrec != nil {
				e.SetOfflineMode()
				return
			}
			e.SetOfflineMode()
		}
	}()
	return out, nil
}

func (e *Engine) acquireConnectLock(code string) {
	locked := e.connectMu.TryLock()
	if !locked {
		e.log.Warn().Str("code", code).Msg("waiting for current WebSocket to close")
		e.connectMu.Lock()
	}
}

// Err returns the terminal unrecoverable error, if the stream ended
// because of one, after the channel returned by Connect/Connected closes.
// It is updated under e.mu so it is safe to read once the channel closes.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminalErr
}

// listen reads chunks from the current socket, running each through the
// inbound processor and forwarding yielded messages to out, until the
// socket errors/closes or an unrecoverable error is raised. It returns the
// unrecoverable error, if any (nil for ordinary disconnects/cancellation).
func (e *Engine) listen(ctx context.Context, out chan<- []byte) error {
	e.mu.Lock()
	e.inLastResendTime = time.Time{}
	e.mu.Unlock()
	_ = e.sendResend(context.Background())

	for {
		e.mu.Lock()
		sock := e.sock
		e.mu.Unlock()
		if sock == nil {
			return nil
		}
		chunk, err := sock.RecvBytes(ctx)
		if err != nil {
			if ctx.Err() != nil {
				e.log.Warn().Str("code", "B32045").Msg("WebSocket canceled")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) || errors.Is(err, net.ErrClosed) {
				e.log.Warn().Str("code", "B60441").Err(err).Msg("WebSocket closed")
			} else {
				e.log.Info().Str("code", "B99953").Err(err).Msg("WebSocket closed")
			}
			return nil
		}
		e.log.Debug().Str("code", "B18042").Str("chunk", PrintableHex(chunk)).Msg("received")
		message, perr := e.processInbound(context.Background(), chunk)
		if perr != nil {
			if errors.Is(perr, ErrUnrecoverable) {
				e.metrics.UnrecoverableError()
				e.mu.Lock()
				e.terminalErr = perr
				e.mu.Unlock()
				e.log.Error().Str("code", "B91221").Err(perr).Msg("unrecoverable protocol error")
				return perr
			}
			e.log.Error().Str("code", "B88756").Err(perr).Msg("error processing inbound chunk")
		}
		e.maybeChaos(2)
		if message != nil {
			select {
			case out <- message:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

