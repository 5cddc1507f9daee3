// Package transport defines the message envelope and the connection
// abstraction shared with the remote conversational voice service.
//
// All traffic is JSON text frames of the form {"type": ..., ...}. Audio in both
// directions travels as base64 PCM16 in the data field. Bootstrap and
// informational messages share the same channel and must be routed by type
// before anything reaches the audio decoder.
package transport

import (
	"context"
	"errors"
)

// ErrTransportUnavailable is returned by [Transport.Send] when the connection
// is not open or the send queue is full. Callers on the audio path drop the
// message silently.
var ErrTransportUnavailable = errors.New("transport: unavailable")

// ErrClosed is returned by operations on a transport that was closed locally.
var ErrClosed = errors.New("transport: closed")

// MessageType discriminates [Message] payloads.
type MessageType string

const (
	// TypeAudio carries base64 PCM16 in Data, in either direction.
	TypeAudio MessageType = "audio"

	// TypeTurnComplete is the service's advisory end-of-turn signal.
	TypeTurnComplete MessageType = "turn_complete"

	// TypeStartSession is sent by the client to open a conversation.
	TypeStartSession MessageType = "start_session"

	// TypeSessionStarted acknowledges a start_session.
	TypeSessionStarted MessageType = "session_started"

	// TypeWelcome is sent by the service once a connection is accepted.
	TypeWelcome MessageType = "welcome"

	// TypeTranscription carries recognised or synthesised text in Text.
	TypeTranscription MessageType = "transcription"

	// TypeError carries a service-side error description in Text.
	TypeError MessageType = "error"
)

// Message is the JSON envelope exchanged with the service.
type Message struct {
	Type MessageType `json:"type"`

	// Data is base64 PCM16 for audio messages.
	Data string `json:"data,omitempty"`

	// SessionID identifies the conversation for bootstrap messages.
	SessionID string `json:"session_id,omitempty"`

	// Text carries transcriptions and error descriptions.
	Text string `json:"text,omitempty"`

	// Role is "user" or "assistant" on transcriptions.
	Role string `json:"role,omitempty"`

	// InputSampleRate is the rate of client → service audio, set on
	// start_session.
	InputSampleRate int `json:"input_sample_rate,omitempty"`

	// OutputSampleRate is the rate of service → client audio, set on
	// start_session.
	OutputSampleRate int `json:"output_sample_rate,omitempty"`
}

// Transport is a bidirectional message connection.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Send queues msg for delivery without blocking. It returns an error
	// wrapping [ErrTransportUnavailable] when the connection is not open or
	// cannot accept more messages.
	Send(msg Message) error

	// Inbound returns the channel of received messages. It is closed when the
	// transport terminates.
	Inbound() <-chan Message

	// IsOpen reports whether messages can currently be sent.
	IsOpen() bool

	// Done is closed when the transport has terminated.
	Done() <-chan struct{}

	// Err returns the error that terminated the transport, or nil after a
	// local Close.
	Err() error

	// Close terminates the transport. It is idempotent.
	Close() error
}

// Dialer establishes new transports.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }
