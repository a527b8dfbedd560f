// Package session implements the voice session engine: the state machine
// that connects the microphone, the live model channel and the speaker, and
// keeps the transcript history.
//
// All session state is owned by a single event-loop goroutine started with
// [Engine.Run]. Public methods post events to the loop and wait for it to
// acknowledge them; device callbacks, the channel pump and the connect
// attempt communicate with the loop the same way. Observers read immutable
// [Snapshot] copies.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/live"
)

var (
	// ErrClosed is returned by Engine methods once Run has returned.
	ErrClosed = errors.New("session: engine stopped")

	// ErrRunning is returned by a second concurrent call to Run.
	ErrRunning = errors.New("session: engine already running")
)

// speakingPoll is how often an active session re-checks whether model audio
// is still playing.
const speakingPoll = 100 * time.Millisecond

// Deps are the collaborators an Engine drives.
type Deps struct {
	// Capturer opens the microphone.
	Capturer audio.Capturer

	// Player opens the speaker output.
	Player audio.Player

	// Provider opens live model channels.
	Provider live.Provider

	// Store persists the history. Defaults to an in-memory store.
	Store memory.HistoryStore

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithChannelConfig sets the model, voice and instructions for new sessions.
func WithChannelConfig(cfg live.Config) Option {
	return func(e *Engine) { e.channelCfg = cfg }
}

// WithCaptureOptions overrides the microphone settings.
func WithCaptureOptions(opts capture.Options) Option {
	return func(e *Engine) { e.captureOpts = opts }
}

// WithOutputConfig overrides the speaker settings.
func WithOutputConfig(cfg audio.OutputConfig) Option {
	return func(e *Engine) { e.outputCfg = cfg }
}

// WithFinalizer overrides record id and timestamp generation.
func WithFinalizer(f turn.Finalizer) Option {
	return func(e *Engine) { e.finalizer = f }
}

// Engine is the session state machine. Create with [New] and drive with
// [Engine.Run].
type Engine struct {
	deps        Deps
	metrics     *observe.Metrics
	captureOpts capture.Options
	outputCfg   audio.OutputConfig
	finalizer   turn.Finalizer
	persister   *Persister

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// histVersion counts history mutations. Written only by the loop; read
	// by loaders to detect that history changed while they were reading.
	histVersion atomic.Uint64

	// sched mirrors the active scheduler for lock-free speaking checks.
	sched atomic.Pointer[playback.Scheduler]

	// Loop-owned state.
	runCtx     context.Context
	channelCfg live.Config
	state      State
	status     string
	sessionID  string
	turn       turn.Turn
	history    []memory.TranscriptionRecord
	gen        uint64
	cancelConn context.CancelFunc
	res        *resources
	span       trace.Span
	spanCtx    context.Context
	startedAt  time.Time
	speaking   bool

	snapMu sync.RWMutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

// New returns an idle Engine.
func New(deps Deps, opts ...Option) *Engine {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Store == nil {
		deps.Store = &inMemoryStore{}
	}
	e := &Engine{
		deps:        deps,
		metrics:     deps.Metrics,
		captureOpts: capture.DefaultOptions(),
		outputCfg: audio.OutputConfig{
			SampleRate: pcm.PlaybackSampleRate,
			Channels:   1,
		},
		channelCfg: live.Config{InputTranscription: true, OutputTranscription: true},
		events:     make(chan event, 64),
		done:       make(chan struct{}),
		state:      StateIdle,
		status:     StatusIdle,
		history:    []memory.TranscriptionRecord{},
		subs:       make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(e)
	}
	e.captureOpts.Metrics = e.metrics
	e.persister = NewPersister(deps.Store)
	e.snap = e.buildSnapshot()
	return e
}

// ─── Public API ─────────────────────────────────────────────────────────────

// Run processes events until ctx is done, then tears down any running
// session and writes the last history snapshot.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	e.runCtx = ctx
	e.persister.Start(ctx)

	defer close(e.done)
	defer e.closeSubscribers()

	var tick <-chan time.Time
	ticker := time.NewTicker(speakingPoll)
	defer ticker.Stop()

	for {
		if e.state == StateActive {
			tick = ticker.C
		} else {
			tick = nil
		}
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case ev := <-e.events:
			e.handle(ev)
		case <-tick:
			e.refreshSpeaking()
		}
	}
}

// Start begins a session. It returns once the engine is connecting; the
// outcome is reported through the status line. Start is a no-op unless the
// engine is idle.
func (e *Engine) Start(ctx context.Context) error {
	_, err := e.call(ctx, event{kind: evStart})
	return err
}

// Stop ends the running session, if any, and returns once the engine is
// idle. It is safe to call in any state and more than once.
func (e *Engine) Stop(ctx context.Context) error {
	_, err := e.call(ctx, event{kind: evStop})
	return err
}

// ClearHistory empties the history and removes it from the store.
func (e *Engine) ClearHistory(ctx context.Context) error {
	r, err := e.call(ctx, event{kind: evClearHistory})
	if err != nil {
		return err
	}
	select {
	case err := <-r.cleared:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// LoadHistory replaces the in-memory history with the stored one. A stored
// history that cannot be read is reported and leaves the history unchanged.
func (e *Engine) LoadHistory(ctx context.Context) error {
	version := e.histVersion.Load()
	records, err := e.persister.Load(ctx)
	if err != nil {
		slog.Warn("session: load history", "err", err)
		return err
	}
	_, err = e.call(ctx, event{kind: evLoadHistory, records: records, version: version})
	return err
}

// SetChannelConfig replaces the channel settings used by the next Start.
func (e *Engine) SetChannelConfig(ctx context.Context, cfg live.Config) error {
	_, err := e.call(ctx, event{kind: evSetChannelConfig, cfg: cfg})
	return err
}

// Snapshot returns the latest published state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// Subscribe returns a channel that always holds the most recent snapshot.
// Slow readers miss intermediate states, never the latest. The channel is
// closed by cancel or when Run returns.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	e.snapMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	ch <- e.snap
	e.snapMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.snapMu.Lock()
			defer e.snapMu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// ─── Events ─────────────────────────────────────────────────────────────────

type eventKind int

const (
	evStart eventKind = iota
	evStop
	evConnected
	evConnectFailed
	evChannel
	evClearHistory
	evLoadHistory
	evSetChannelConfig
)

type event struct {
	kind eventKind
	gen  uint64

	res     *resources
	err     error
	micErr  bool
	channel live.Event
	records []memory.TranscriptionRecord
	version uint64
	loaded  bool
	cfg     live.Config

	reply chan reply
}

type reply struct {
	cleared <-chan error
}

// call posts ev to the loop and waits for the acknowledgment.
func (e *Engine) call(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if err := e.post(ctx, ev); err != nil {
		return reply{}, err
	}
	select {
	case r := <-ev.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.done:
		return reply{}, ErrClosed
	}
}

func (e *Engine) post(ctx context.Context, ev event) error {
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evStart:
		e.onStart()
	case evStop:
		e.onStop()
	case evConnected:
		e.onConnected(ev)
	case evConnectFailed:
		e.onConnectFailed(ev)
	case evChannel:
		e.onChannel(ev)
	case evClearHistory:
		e.setHistory([]memory.TranscriptionRecord{})
		cleared := e.persister.Clear()
		e.publish()
		ev.reply <- reply{cleared: cleared}
		return
	case evLoadHistory:
		if ev.version == e.histVersion.Load() {
			e.setHistory(ev.records)
		}
	case evSetChannelConfig:
		e.channelCfg = ev.cfg
	}
	// Callers observe their own effect in Snapshot once they are released.
	e.publish()
	if ev.reply != nil {
		ev.reply <- reply{}
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (e *Engine) onStart() {
	if e.state != StateIdle {
		return
	}
	e.gen++
	e.state = StateConnecting
	e.status = StatusConnecting
	e.sessionID = uuid.NewString()
	e.turn = turn.Turn{}
	e.startedAt = time.Now()
	e.spanCtx, e.span = observe.StartSession(e.runCtx, e.sessionID, e.channelCfg.Model, e.channelCfg.Voice)
	e.metrics.ActiveSessions.Add(e.spanCtx, 1)

	ctx, cancel := context.WithCancel(e.spanCtx)
	e.cancelConn = cancel
	go e.connect(ctx, e.gen, e.channelCfg, e.histVersion.Load())

	e.logger().Info("session connecting", "model", e.channelCfg.Model, "voice", e.channelCfg.Voice)
}

func (e *Engine) onStop() {
	if e.state == StateIdle {
		return
	}
	if e.state == StateConnecting {
		e.metrics.RecordSessionStart(e.spanCtx, "cancelled")
	}
	e.state = StateClosing
	e.status = StatusDisconnecting
	e.publish()

	e.teardown(observe.OutcomeStopped, nil)
	e.status = StatusIdle
}

// connect acquires devices, loads history and opens the channel. It runs on
// its own goroutine and reports back to the loop.
func (e *Engine) connect(ctx context.Context, gen uint64, cfg live.Config, version uint64) {
	res := &resources{}
	fail := func(err error, mic bool) {
		e.deliver(event{kind: evConnectFailed, gen: gen, res: res, err: err, micErr: mic})
	}

	pipe := capture.New(e.deps.Capturer, e.captureOpts)
	res.capture = pipe
	if err := pipe.Acquire(ctx); err != nil {
		fail(err, true)
		return
	}

	out, err := e.deps.Player.OpenOutput(ctx, e.outputCfg)
	if err != nil {
		fail(&live.ChannelError{Op: "output", Message: "could not open audio output", Err: err}, false)
		return
	}
	res.sched = playback.New(out, playback.WithMetrics(e.metrics))

	records, err := e.persister.Load(ctx)
	if err != nil {
		slog.Warn("session: load history, continuing with current history", "err", err)
	} else {
		res.history, res.historyVersion, res.historyLoaded = records, version, true
	}

	ch, err := e.deps.Provider.Connect(ctx, cfg)
	if err != nil {
		fail(err, false)
		return
	}
	res.channel = ch
	e.deliver(event{kind: evConnected, gen: gen, res: res})
}

// deliver posts an event from a background goroutine. If the loop is gone
// the resources carried by ev are released here.
func (e *Engine) deliver(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
		if ev.res != nil {
			ev.res.release(context.Background(), e.metrics)
		}
	}
}

func (e *Engine) onConnectFailed(ev event) {
	if ev.gen != e.gen || e.state != StateConnecting {
		ev.res.release(e.runCtx, e.metrics)
		return
	}
	e.res = ev.res
	status := errorStatus(errorMessage(ev.err))
	outcome := "channel_error"
	if ev.micErr {
		status = StatusMicError
		outcome = "device_error"
	}
	e.metrics.RecordSessionStart(e.spanCtx, outcome)
	e.logger().Warn("session start failed", "err", ev.err)
	e.teardown(observe.OutcomeFailed, ev.err)
	e.status = status
}

func (e *Engine) onConnected(ev event) {
	if ev.gen != e.gen || e.state != StateConnecting {
		e.logger().Debug("session: releasing resources of abandoned attempt")
		ev.res.release(e.runCtx, e.metrics)
		return
	}
	e.cancelConn = nil
	e.res = ev.res
	e.sched.Store(ev.res.sched)
	if ev.res.historyLoaded && ev.res.historyVersion == e.histVersion.Load() {
		e.setHistory(ev.res.history)
	}
	go e.pump(ev.res.channel, e.gen)
}

// pump forwards channel events to the loop until the channel ends.
func (e *Engine) pump(ch live.Channel, gen uint64) {
	terminal := false
	for ev := range ch.Events() {
		if ev.Kind == live.EventError || ev.Kind == live.EventClosed {
			terminal = true
		}
		select {
		case e.events <- event{kind: evChannel, gen: gen, channel: ev}:
		case <-e.done:
			return
		}
	}
	if !terminal {
		e.deliver(event{kind: evChannel, gen: gen, channel: live.Event{Kind: live.EventClosed}})
	}
}

func (e *Engine) onChannel(ev event) {
	if ev.gen != e.gen || e.res == nil {
		return
	}
	ce := ev.channel
	switch ce.Kind {
	case live.EventOpened:
		e.onOpened()
	case live.EventTranscript:
		e.turn = e.turn.Append(ce.Direction, ce.Text)
	case live.EventAudio:
		if _, err := e.res.sched.Enqueue(ce.Audio); err != nil {
			e.logger().Warn("session: dropping audio chunk", "bytes", len(ce.Audio), "err", err)
		}
		e.refreshSpeaking()
	case live.EventInterrupted:
		n := e.res.sched.Flush()
		e.metrics.Interruptions.Add(e.spanCtx, 1)
		e.logger().Debug("session: playback interrupted", "voices", n)
		e.refreshSpeaking()
	case live.EventTurnComplete:
		next, hist, rec, ok := e.finalizer.Finalize(e.turn, e.history)
		if !ok {
			return
		}
		e.turn = next
		e.setHistory(hist)
		e.persister.Save(hist)
		e.metrics.TurnsCompleted.Add(e.spanCtx, 1)
		e.logger().Debug("session: turn complete", "record_id", rec.ID)
	case live.EventError:
		op := "channel"
		var cerr *live.ChannelError
		if errors.As(ce.Err, &cerr) && cerr.Op != "" {
			op = cerr.Op
		}
		e.metrics.RecordChannelError(e.spanCtx, op)
		e.logger().Warn("session: channel error", "err", ce.Err)
		if e.state == StateConnecting {
			e.metrics.RecordSessionStart(e.spanCtx, "channel_error")
		}
		msg := errorMessage(ce.Err)
		e.teardown(observe.OutcomeFailed, ce.Err)
		e.status = errorStatus(msg)
	case live.EventClosed:
		e.logger().Info("session: channel closed by remote")
		e.teardown(observe.OutcomeRemoteClosed, nil)
		e.status = StatusIdle
	}
}

func (e *Engine) onOpened() {
	if e.state != StateConnecting {
		return
	}
	ch := e.res.channel
	sink := func(frame []byte) {
		err := ch.Send(frame)
		switch {
		case err == nil:
			e.metrics.FramesSent.Add(context.Background(), 1)
		case errors.Is(err, live.ErrFrameDropped):
			e.metrics.FramesSent.Add(context.Background(), 1)
			e.metrics.FramesDropped.Add(context.Background(), 1)
		}
	}
	if err := e.res.capture.Start(sink); err != nil {
		e.metrics.RecordSessionStart(e.spanCtx, "device_error")
		e.logger().Warn("session: start capture", "err", err)
		e.teardown(observe.OutcomeFailed, err)
		e.status = StatusMicError
		return
	}

	e.state = StateActive
	e.status = StatusConnected
	e.metrics.ConnectDuration.Record(e.spanCtx, time.Since(e.startedAt).Seconds())
	e.metrics.RecordSessionStart(e.spanCtx, "connected")
	if e.span != nil {
		e.span.AddEvent("channel opened")
	}
	e.logger().Info("session active")
}

// teardown releases every session resource and returns to Idle. Each step
// runs regardless of earlier failures. outcome is recorded on the session
// span; cause, when non-nil, marks it failed.
func (e *Engine) teardown(outcome string, cause error) {
	if e.cancelConn != nil {
		e.cancelConn()
		e.cancelConn = nil
	}
	// Invalidate in-flight connect results and pump events.
	e.gen++

	if e.res != nil {
		e.res.release(e.spanCtx, e.metrics)
		e.res = nil
	}
	e.sched.Store(nil)
	e.speaking = false

	if e.span != nil {
		observe.EndSession(e.span, outcome, cause, errorMessage(cause))
		e.metrics.ActiveSessions.Add(e.spanCtx, -1)
		e.logger().Info("session ended", "outcome", outcome,
			"duration", time.Since(e.startedAt).Round(time.Millisecond))
		e.span = nil
		e.spanCtx = e.runCtx
	}
	e.state = StateIdle
	e.sessionID = ""
}

func (e *Engine) shutdown() {
	if e.state != StateIdle {
		e.state = StateClosing
		e.status = StatusDisconnecting
		e.publish()
		e.teardown(observe.OutcomeShutdown, nil)
		e.status = StatusIdle
	}
	e.publish()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.runCtx), drainTimeout)
	defer cancel()
	e.persister.Stop(ctx)
}

// ─── State publication ──────────────────────────────────────────────────────

func (e *Engine) setHistory(records []memory.TranscriptionRecord) {
	e.history = records
	e.histVersion.Add(1)
}

func (e *Engine) refreshSpeaking() {
	s := e.sched.Load()
	speaking := s != nil && s.Speaking()
	if speaking != e.speaking {
		e.speaking = speaking
		e.publish()
	}
}

func (e *Engine) buildSnapshot() Snapshot {
	s := Snapshot{
		State:     e.state,
		Status:    e.status,
		SessionID: e.sessionID,
		Turn:      e.turn,
		History:   memory.Clone(e.history),
		Speaking:  e.speaking,
	}
	s.View = DeriveView(s)
	return s
}

func (e *Engine) publish() {
	s := e.buildSnapshot()
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.snap = s
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (e *Engine) closeSubscribers() {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) logger() *slog.Logger {
	ctx := e.spanCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return observe.Logger(ctx)
}

// errorMessage extracts the user-facing part of a session failure.
func errorMessage(err error) string {
	if err == nil {
		return "connection error"
	}
	var cerr *live.ChannelError
	if errors.As(err, &cerr) {
		return cerr.Summary()
	}
	return err.Error()
}

// ─── Resources ──────────────────────────────────────────────────────────────

// resources are the per-session handles produced by a connect attempt.
type resources struct {
	capture *capture.Pipeline
	sched   *playback.Scheduler
	channel live.Channel

	history        []memory.TranscriptionRecord
	historyVersion uint64
	historyLoaded  bool
}

// release tears down in order: capture, channel, playback. Failures are
// logged and counted and never stop later steps.
func (r *resources) release(ctx context.Context, m *observe.Metrics) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if r.capture != nil {
		if err := r.capture.Close(); err != nil {
			slog.Warn("session: teardown capture", "err", err)
			m.RecordTeardownError(ctx, "capture")
		}
	}
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			slog.Warn("session: teardown channel", "err", err)
			m.RecordTeardownError(ctx, "channel")
		}
	}
	if r.sched != nil {
		if err := r.sched.Close(); err != nil {
			slog.Warn("session: teardown playback", "err", err)
			m.RecordTeardownError(ctx, "playback")
		}
	}
}
