// Package mock provides an in-memory [transport.Transport] for unit tests.
//
// The mock records every sent message and lets tests inject inbound messages,
// toggle the open state and terminate the transport.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/transport"
)

// Compile-time interface assertions.
var (
	_ transport.Transport = (*Transport)(nil)
	_ transport.Dialer    = (*Dialer)(nil)
)

// Transport is a mock implementation of [transport.Transport].
type Transport struct {
	mu sync.Mutex

	// SendError, when non-nil, is returned by Send for open transports.
	SendError error

	// Sent records all messages accepted by Send.
	Sent []transport.Message

	// CallCountClose records how many times Close was called.
	CallCountClose int

	open    bool
	err     error
	inbound chan transport.Message
	done    chan struct{}
	once    sync.Once
}

// New returns an open mock transport with a buffered inbound channel.
func New() *Transport {
	return &Transport{
		open:    true,
		inbound: make(chan transport.Message, 64),
		done:    make(chan struct{}),
	}
}

// Send implements [transport.Transport].
func (t *Transport) Send(msg transport.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return fmt.Errorf("%w: mock closed", transport.ErrTransportUnavailable)
	}
	if t.SendError != nil {
		return t.SendError
	}
	t.Sent = append(t.Sent, msg)
	return nil
}

// Inbound implements [transport.Transport].
func (t *Transport) Inbound() <-chan transport.Message { return t.inbound }

// IsOpen implements [transport.Transport].
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Done implements [transport.Transport].
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err implements [transport.Transport].
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close implements [transport.Transport].
func (t *Transport) Close() error {
	t.mu.Lock()
	t.CallCountClose++
	t.mu.Unlock()
	t.Fail(nil)
	return nil
}

// SetOpen toggles the open state without terminating the transport.
func (t *Transport) SetOpen(open bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = open
}

// Deliver injects an inbound message.
func (t *Transport) Deliver(msg transport.Message) {
	t.inbound <- msg
}

// Fail terminates the transport with err, closing Inbound and Done.
func (t *Transport) Fail(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.open = false
		t.err = err
		t.mu.Unlock()
		close(t.inbound)
		close(t.done)
	})
}

// SentMessages returns a copy of the recorded messages.
func (t *Transport) SentMessages() []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Message(nil), t.Sent...)
}

// Dialer is a mock [transport.Dialer] that hands out queued transports.
type Dialer struct {
	mu sync.Mutex

	// Results are returned in order; once exhausted, Dial fails with Err or a
	// generic error.
	Results []*Transport

	// Err is returned when no result is queued.
	Err error

	// CallCountDial records how many times Dial was called.
	CallCountDial int
}

// Dial implements [transport.Dialer].
func (d *Dialer) Dial(_ context.Context) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountDial++
	if len(d.Results) == 0 {
		if d.Err != nil {
			return nil, d.Err
		}
		return nil, fmt.Errorf("mock dialer: no transport queued")
	}
	t := d.Results[0]
	d.Results = d.Results[1:]
	return t, nil
}

// Push queues a transport for the next Dial.
func (d *Dialer) Push(t *Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Results = append(d.Results, t)
}

// Calls returns CallCountDial.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountDial
}
