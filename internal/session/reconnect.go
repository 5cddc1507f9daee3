package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/pkg/transport"
)

// Compile-time interface assertion.
var _ transport.Transport = (*Reconnector)(nil)

// ErrReconnectFailed is reported through OnDown when every reconnection
// attempt of an outage failed.
var ErrReconnectFailed = errors.New("session: reconnection failed")

// Default reconnection parameters.
const (
	defaultMaxRetries      = 10
	defaultBackoff         = 1 * time.Second
	defaultMaxBackoff      = 30 * time.Second
	defaultDisconnectGrace = 5 * time.Second
)

// Reconnector keeps a transport to the voice service alive and presents it as
// a single stable [transport.Transport].
//
// Callers obtain the initial connection via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that forwards inbound
// messages and watches for the underlying transport terminating. When that
// happens the monitor redials with exponential backoff and invokes OnReconnect
// on success. While disconnected, Send fails with
// [transport.ErrTransportUnavailable] so the audio path drops chunks instead of
// queueing them.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	dialer      transport.Dialer
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	grace       time.Duration
	onReconnect func()
	onDown      func(error)

	mu       sync.Mutex
	conn     transport.Transport
	lastErr  error
	inbound  chan transport.Message
	done     chan struct{}
	stopOnce sync.Once
	reported atomic.Bool // OnDown already fired for the current outage
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Dialer establishes transports.
	Dialer transport.Dialer

	// MaxRetries is the maximum number of reconnection attempts per outage
	// before giving up. Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// DisconnectGrace is how long an outage may last before OnDown is called.
	// Defaults to 5s if zero.
	DisconnectGrace time.Duration

	// OnReconnect is called after a successful reconnection. May be nil.
	OnReconnect func()

	// OnDown is called once per outage when it outlasts DisconnectGrace or
	// when reconnection gives up. May be nil.
	OnDown func(error)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	grace := cfg.DisconnectGrace
	if grace <= 0 {
		grace = defaultDisconnectGrace
	}
	return &Reconnector{
		dialer:      cfg.Dialer,
		maxRetries:  maxRetries,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		grace:       grace,
		onReconnect: cfg.OnReconnect,
		onDown:      cfg.OnDown,
		inbound:     make(chan transport.Message, 64),
		done:        make(chan struct{}),
	}
}

// Connect performs the initial dial.
func (r *Reconnector) Connect(ctx context.Context) error {
	conn, err := r.dialer.Dial(ctx)
	if err != nil {
		r.setErr(err)
		return fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

// Monitor starts the forwarding and reconnection loop in a background
// goroutine. If no connection is held yet, it starts by reconnecting.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// Connection returns the current underlying transport. May return nil during
// reconnection.
func (r *Reconnector) Connection() transport.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Send implements [transport.Transport].
func (r *Reconnector) Send(msg transport.Message) error {
	conn := r.Connection()
	if conn == nil {
		return fmt.Errorf("%w: reconnecting", transport.ErrTransportUnavailable)
	}
	return conn.Send(msg)
}

// Inbound implements [transport.Transport]. The channel survives reconnects
// and is closed once monitoring stops.
func (r *Reconnector) Inbound() <-chan transport.Message { return r.inbound }

// IsOpen implements [transport.Transport].
func (r *Reconnector) IsOpen() bool {
	conn := r.Connection()
	return conn != nil && conn.IsOpen()
}

// Done implements [transport.Transport]. It is closed by Close or when
// reconnection gives up.
func (r *Reconnector) Done() <-chan struct{} { return r.done }

// Err implements [transport.Transport]. It returns the error that ended the
// most recent connection.
func (r *Reconnector) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Close halts monitoring and closes the current connection.
// Safe to call multiple times.
func (r *Reconnector) Close() error {
	r.stop()

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// stopped reports whether Close ran or reconnection gave up.
func (r *Reconnector) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Reconnector) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Reconnector) setErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}

// monitorLoop forwards inbound messages and reconnects when the current
// transport terminates. It owns r.inbound.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	defer close(r.inbound)

	for {
		conn := r.Connection()
		if conn != nil {
			if !r.forward(ctx, conn) {
				return
			}
			err := conn.Err()
			if err == nil {
				err = transport.ErrClosed
			}
			r.setErr(err)
			slog.Warn("transport disconnected", "err", err)

			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
		}
		if !r.attemptReconnect(ctx) {
			return
		}
	}
}

// forward copies messages from conn until it terminates (true) or monitoring
// stops (false).
func (r *Reconnector) forward(ctx context.Context, conn transport.Transport) bool {
	in := conn.Inbound()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case msg, ok := <-in:
			if !ok {
				return true
			}
			select {
			case r.inbound <- msg:
			case <-ctx.Done():
				return false
			case <-r.done:
				return false
			}
		}
	}
}

// attemptReconnect redials with exponential backoff. It returns false when
// monitoring should stop.
func (r *Reconnector) attemptReconnect(ctx context.Context) bool {
	r.reported.Store(false)
	graceTimer := time.AfterFunc(r.grace, func() {
		r.reportDown(fmt.Errorf("%w: disconnected for more than %s", transport.ErrTransportUnavailable, r.grace))
	})
	defer graceTimer.Stop()

	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		default:
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		conn, err := r.dialer.Dial(ctx)
		if err == nil {
			r.mu.Lock()
			if r.stopped() {
				r.mu.Unlock()
				_ = conn.Close()
				slog.Debug("discarding connection dialled after close")
				return false
			}
			oldConn := r.conn
			r.conn = conn
			r.mu.Unlock()

			if oldConn != nil {
				_ = oldConn.Close()
			}

			slog.Info("reconnection successful", "attempt", attempt)

			if r.onReconnect != nil {
				r.onReconnect()
			}
			return true
		}

		r.setErr(err)
		slog.Warn("reconnection attempt failed",
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("reconnection failed after max retries", "max_retries", r.maxRetries)
	r.reportDown(fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, r.maxRetries, r.Err()))
	r.stop()
	return false
}

func (r *Reconnector) reportDown(err error) {
	if !r.reported.CompareAndSwap(false, true) {
		return
	}
	if r.onDown != nil {
		r.onDown(err)
	}
}
