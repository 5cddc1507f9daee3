// Package ws implements [transport.Transport] over a WebSocket connection
// using github.com/coder/websocket.
//
// Outbound messages go through a bounded queue drained by a single writer
// goroutine, so Send never blocks the audio callback. A reader goroutine
// decodes inbound JSON frames onto the Inbound channel.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Transport = (*Client)(nil)
	_ transport.Dialer    = (*Dialer)(nil)
)

const (
	defaultSendBuffer    = 64
	defaultInboundBuffer = 64
	defaultReadLimit     = 4 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Client].
type Option func(*options)

type options struct {
	header     http.Header
	sendBuffer int
	readLimit  int64
}

// WithAPIKey sends key as a bearer token during the handshake.
func WithAPIKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.header.Set("Authorization", "Bearer "+key)
		}
	}
}

// WithHTTPHeader adds a handshake header.
func WithHTTPHeader(key, value string) Option {
	return func(o *options) { o.header.Add(key, value) }
}

// WithSendBuffer sets the capacity of the outbound queue. Messages sent while
// the queue is full are dropped.
func WithSendBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendBuffer = n
		}
	}
}

// WithReadLimit sets the maximum size of an inbound frame in bytes.
func WithReadLimit(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer dials a fixed URL with fixed options.
type Dialer struct {
	URL     string
	Options []Option
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	return Dial(ctx, d.URL, d.Options...)
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client is a WebSocket [transport.Transport].
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound chan transport.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	open      atomic.Bool
	closing   atomic.Bool
	mu        sync.Mutex
	errVal    error
	closeOnce sync.Once
	badFrame  sync.Once
}

// Dial connects to url and starts the read and write loops. ctx bounds the
// handshake only.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := options{
		header:     http.Header{},
		sendBuffer: defaultSendBuffer,
		readLimit:  defaultReadLimit,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: o.header})
	if err != nil {
		return nil, fmt.Errorf("ws: dial: %w", err)
	}
	conn.SetReadLimit(o.readLimit)

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, o.sendBuffer),
		inbound: make(chan transport.Message, defaultInboundBuffer),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.open.Store(true)

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	go func() {
		c.wg.Wait()
		close(c.done)
	}()
	return c, nil
}

// Send implements [transport.Transport].
func (c *Client) Send(msg transport.Message) error {
	if !c.open.Load() {
		return fmt.Errorf("%w: connection not open", transport.ErrTransportUnavailable)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", transport.ErrTransportUnavailable)
	}
}

// Inbound implements [transport.Transport].
func (c *Client) Inbound() <-chan transport.Message { return c.inbound }

// IsOpen implements [transport.Transport].
func (c *Client) IsOpen() bool { return c.open.Load() }

// Done implements [transport.Transport].
func (c *Client) Done() <-chan struct{} { return c.done }

// Err implements [transport.Transport].
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close implements [transport.Transport].
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.open.Store(false)
		c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.cancel()
	})
	<-c.done
	return nil
}

// writeLoop drains the send queue onto the socket.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				c.fail(fmt.Errorf("ws: write: %w", err))
				return
			}
		}
	}
}

// readLoop decodes inbound frames. It owns the inbound channel and closes it
// on exit.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.inbound)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			c.fail(fmt.Errorf("ws: read: %w", err))
			return
		}

		var msg transport.Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.badFrame.Do(func() {
				slog.Warn("ws: ignoring malformed frame", "bytes", len(data), "err", err)
			})
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// fail records the first remote or I/O error and tears the connection down.
// Errors caused by a local Close are not recorded.
func (c *Client) fail(err error) {
	if !c.closing.Load() && c.ctx.Err() == nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
			err = fmt.Errorf("%w: remote closed: %s", transport.ErrClosed, ce.Reason)
		}
		c.mu.Lock()
		if c.errVal == nil {
			c.errVal = err
		}
		c.mu.Unlock()
		slog.Warn("ws: connection lost", "err", err)
	}
	c.open.Store(false)
	c.cancel()
	c.conn.CloseNow()
}
