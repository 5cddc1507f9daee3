// Package session ties the capture pipeline, the playback scheduler and the
// transport to the voice service into one conversation.
//
// The [Orchestrator] owns the single "assistant speaking" flag. Inbound audio
// sets it and is placed on the playback timeline; a speech event while it is
// set is a barge-in that cancels all scheduled playback at once. The
// service's turn_complete message is advisory: the flag is only cleared once
// the scheduler has actually drained, or after a bounded grace delay.
//
// The [Reconnector] keeps the transport alive underneath and reports outages
// that outlast the disconnect grace.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/transport"
)

// DefaultTurnCompleteGrace bounds how long turn_complete may wait for the
// playback timeline to drain.
const DefaultTurnCompleteGrace = 500 * time.Millisecond

// DefaultInputSampleRate is the rate announced for outbound audio.
const DefaultInputSampleRate = 16000

// State is the conversational state of an [Orchestrator].
type State int32

const (
	// StateIdle means no session is active.
	StateIdle State = iota

	// StateListening means the user has the floor.
	StateListening

	// StateSpeaking means assistant audio is scheduled or playing.
	StateSpeaking
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithEventHandler registers fn for inbound messages that are not audio or
// turn_complete (session_started, welcome, transcription, error, ...).
func WithEventHandler(fn func(transport.Message)) Option {
	return func(o *Orchestrator) { o.onEvent = fn }
}

// WithStateHandler registers fn to observe state transitions. fn is called
// without any orchestrator lock held.
func WithStateHandler(fn func(from, to State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// WithDisconnectHandler registers fn to be told about persistent transport
// outages passed to [Orchestrator.HandleDisconnect].
func WithDisconnectHandler(fn func(error)) Option {
	return func(o *Orchestrator) { o.onDisconnect = fn }
}

// WithMetrics sets the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTurnCompleteGrace sets the drain grace delay. Defaults to
// [DefaultTurnCompleteGrace].
func WithTurnCompleteGrace(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithInputSampleRate sets the outbound audio rate announced on
// start_session. Defaults to [DefaultInputSampleRate].
func WithInputSampleRate(rate int) Option {
	return func(o *Orchestrator) {
		if rate > 0 {
			o.inputRate = rate
		}
	}
}

// Orchestrator routes audio between the capture pipeline, the playback
// scheduler and the transport for one conversation.
//
// All exported methods are safe for concurrent use. HandleChunk never blocks
// and may be called from the capture callback.
type Orchestrator struct {
	tr        transport.Transport
	sched     *playback.Scheduler
	metrics   *observe.Metrics
	grace     time.Duration
	inputRate int

	onEvent      func(transport.Message)
	onState      func(from, to State)
	onDisconnect func(error)

	mu        sync.Mutex
	state     State
	speaking  bool
	turnDone  bool // turn_complete seen for the current response
	timer     *time.Timer
	timerGen  uint64
	sessionID string
}

// New creates an Orchestrator sending through tr and scheduling inbound audio
// on sched. It registers itself as the scheduler's drain callback.
func New(tr transport.Transport, sched *playback.Scheduler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tr:        tr,
		sched:     sched,
		grace:     DefaultTurnCompleteGrace,
		inputRate: DefaultInputSampleRate,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	sched.OnDrain(o.HandleDrain)
	return o
}

// State returns the current conversational state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Speaking reports whether assistant audio is scheduled or playing.
func (o *Orchestrator) Speaking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.speaking
}

// SessionID returns the ID sent with the last start_session, or "".
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// StartSession announces a new conversation to the service with a fresh
// session ID and the audio rates in both directions. It is called once the
// transport is open and again after every reconnect.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	id := uuid.NewString()
	msg := transport.Message{
		Type:             transport.TypeStartSession,
		SessionID:        id,
		InputSampleRate:  o.inputRate,
		OutputSampleRate: o.sched.SampleRate(),
	}
	if err := o.tr.Send(msg); err != nil {
		return fmt.Errorf("session: start session: %w", err)
	}

	o.mu.Lock()
	o.sessionID = id
	from := o.state
	if o.state == StateIdle {
		o.state = StateListening
	}
	to := o.state
	o.mu.Unlock()

	observe.Logger(observe.WithSessionID(ctx, id)).Info("session started",
		"input_rate", o.inputRate, "output_rate", o.sched.SampleRate())
	o.notify(from, to)
	return nil
}

// HandleChunk forwards one captured chunk to the service. When the transport
// is not open the chunk is dropped silently; a failed send is also a drop.
func (o *Orchestrator) HandleChunk(chunk audio.Chunk) {
	ctx := context.Background()
	if !o.tr.IsOpen() {
		o.metrics.RecordChunkDropped(ctx, observe.DropTransportClosed)
		return
	}
	if err := o.tr.Send(transport.Message{Type: transport.TypeAudio, Data: chunk.Data}); err != nil {
		o.metrics.RecordChunkDropped(ctx, observe.DropSendFailed)
		return
	}
	o.metrics.ChunksSent.Add(ctx, 1)
}

// HandleSpeech reacts to a voice activity event. While the assistant is
// speaking it cancels all scheduled playback and hands the floor back to the
// user.
func (o *Orchestrator) HandleSpeech(ev audio.SpeechEvent) {
	ctx := context.Background()
	o.metrics.VADTriggers.Add(ctx, 1)

	o.mu.Lock()
	if !o.speaking {
		o.mu.Unlock()
		return
	}
	stopped := o.sched.CancelAll()
	o.speaking = false
	o.turnDone = false
	o.stopTimerLocked()
	from := o.state
	o.state = StateListening
	o.mu.Unlock()

	o.metrics.BargeIns.Add(ctx, 1)
	slog.Debug("barge-in", "energy", ev.Energy, "threshold", ev.Threshold, "stopped_units", stopped)
	o.notify(from, StateListening)
}

// HandleMessage routes one inbound message. Audio goes to the scheduler,
// turn_complete is checked against the playback timeline and everything else
// is passed to the event handler. Malformed audio is counted and dropped.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg transport.Message) {
	switch msg.Type {
	case transport.TypeAudio:
		o.handleAudio(ctx, msg.Data)
	case transport.TypeTurnComplete:
		o.handleTurnComplete()
	default:
		if msg.Type == transport.TypeError {
			observe.Logger(ctx).Warn("service reported error", "text", msg.Text)
		}
		if o.onEvent != nil {
			o.onEvent(msg)
		}
	}
}

func (o *Orchestrator) handleAudio(ctx context.Context, data string) {
	samples, err := audio.DecodeSamples(data)
	if err == nil && len(samples) == 0 {
		err = fmt.Errorf("%w: empty payload", audio.ErrDecode)
	}
	if err != nil {
		o.metrics.DecodeFailures.Add(ctx, 1)
		observe.Logger(ctx).Debug("dropping inbound audio", "err", err)
		return
	}

	o.mu.Lock()
	if !o.speaking {
		o.turnDone = false
	}
	o.stopTimerLocked()
	u := o.sched.EnqueueSamples(samples)
	o.speaking = true
	from := o.state
	o.state = StateSpeaking
	o.mu.Unlock()

	o.metrics.UnitsScheduled.Add(ctx, 1)
	o.metrics.RecordScheduleLead(ctx, u.Start-o.sched.Now())
	o.notify(from, StateSpeaking)
}

func (o *Orchestrator) handleTurnComplete() {
	o.mu.Lock()
	if !o.speaking {
		o.mu.Unlock()
		return
	}
	o.turnDone = true
	if !o.sched.Drained() {
		o.armTimerLocked()
		o.mu.Unlock()
		return
	}
	from := o.finishLocked()
	o.mu.Unlock()
	o.notify(from, StateListening)
}

// HandleDrain is the scheduler's drain callback. With turn_complete already
// seen the turn ends at once; otherwise the grace timer decides whether the
// service merely paused or stopped without announcing it.
func (o *Orchestrator) HandleDrain() {
	o.mu.Lock()
	if !o.speaking {
		o.mu.Unlock()
		return
	}
	if !o.turnDone {
		o.armTimerLocked()
		o.mu.Unlock()
		return
	}
	from := o.finishLocked()
	o.mu.Unlock()
	o.notify(from, StateListening)
}

// HandleDisconnect surfaces a persistent transport outage. Scheduled playback
// is cancelled and the orchestrator goes idle until the next StartSession.
func (o *Orchestrator) HandleDisconnect(err error) {
	o.metrics.Disconnects.Add(context.Background(), 1)
	slog.Warn("voice service unreachable", "err", err)

	o.mu.Lock()
	o.sched.CancelAll()
	o.speaking = false
	o.turnDone = false
	o.stopTimerLocked()
	from := o.state
	o.state = StateIdle
	o.mu.Unlock()

	o.notify(from, StateIdle)
	if o.onDisconnect != nil {
		o.onDisconnect(err)
	}
}

// Run routes inbound messages until ctx is cancelled or the transport's
// inbound channel closes. It returns nil when the transport closed normally.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.metrics.ActiveSessions.Add(ctx, 1)
	defer o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	defer o.stopTimer()

	in := o.tr.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				if err := o.tr.Err(); err != nil && !errors.Is(err, transport.ErrClosed) {
					return fmt.Errorf("session: transport: %w", err)
				}
				return nil
			}
			o.HandleMessage(observe.WithSessionID(ctx, o.SessionID()), msg)
		}
	}
}

// finishLocked ends the assistant turn and returns the previous state.
func (o *Orchestrator) finishLocked() State {
	o.speaking = false
	o.turnDone = false
	o.stopTimerLocked()
	from := o.state
	o.state = StateListening
	return from
}

func (o *Orchestrator) armTimerLocked() {
	o.stopTimerLocked()
	gen := o.timerGen
	o.timer = time.AfterFunc(o.grace, func() { o.graceExpired(gen) })
}

func (o *Orchestrator) stopTimerLocked() {
	o.timerGen++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

func (o *Orchestrator) stopTimer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopTimerLocked()
}

// graceExpired re-checks the timeline once the grace delay has passed. A
// drained timeline ends the turn. A timeline with no active units whose
// cursor is still ahead of the clock is re-checked after another grace
// period. Units still playing will trigger HandleDrain themselves.
func (o *Orchestrator) graceExpired(gen uint64) {
	o.mu.Lock()
	if gen != o.timerGen || !o.speaking {
		o.mu.Unlock()
		return
	}
	o.timer = nil
	if !o.sched.Drained() {
		if o.sched.Active() == 0 {
			o.armTimerLocked()
		}
		o.mu.Unlock()
		return
	}
	from := o.finishLocked()
	o.mu.Unlock()
	o.notify(from, StateListening)
}

func (o *Orchestrator) notify(from, to State) {
	if from != to && o.onState != nil {
		o.onState(from, to)
	}
}
