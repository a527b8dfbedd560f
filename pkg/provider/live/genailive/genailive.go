// Package genailive implements the [live.Provider] interface on top of the
// official Google GenAI SDK (google.golang.org/genai) Live API client.
//
// It offers the same channel semantics as the raw-protocol live/gemini
// package while delegating authentication, endpoint selection and message
// framing to the SDK. Inbound [genai.LiveServerMessage] values are translated
// into [live.Event] values in protocol order: transcripts, audio,
// interruption, turn completion.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions that Provider and channel satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Channel = (*channel)(nil)

// DefaultModel is used when neither the provider nor the channel config names
// a model.
const DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// liveSession is the subset of [*genai.Session] used by a channel.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// connectFunc opens an SDK Live session.
type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used when [live.Config.Model] is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the SDK's API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOutboxCapacity sets how many outbound frames may queue before the
// oldest is dropped.
func WithOutboxCapacity(n int) Option {
	return func(p *Provider) { p.outboxCap = n }
}

// Provider implements [live.Provider] with the GenAI SDK.
type Provider struct {
	model     string
	baseURL   string
	outboxCap int
	connect   connectFunc
}

// New creates a GenAI client for the Gemini API backend and wraps it in a
// Provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	p := newProvider(nil, opts...)

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genailive: new client: %w", err)
	}
	p.connect = func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		return client.Live.Connect(ctx, model, cfg)
	}
	return p, nil
}

func newProvider(connect connectFunc, opts ...Option) *Provider {
	p := &Provider{
		model:     DefaultModel,
		outboxCap: live.DefaultOutboxCapacity,
		connect:   connect,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens an SDK Live session configured from cfg.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sess, err := p.connect(ctx, model, connectConfig(cfg))
	if err != nil {
		return nil, &live.ChannelError{Op: "dial", Message: "could not reach the voice service", Err: err}
	}

	c := &channel{
		sess:   sess,
		outbox: live.NewOutbox(p.outboxCap),
		done:   make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.events = live.NewEventStream(live.DefaultEventBuffer, c.done)

	go c.receiveLoop()
	go c.writeLoop()

	slog.Debug("genailive: channel connected", "model", model, "voice", cfg.Voice)
	return c, nil
}

// connectConfig translates cfg into the SDK's connect configuration.
func connectConfig(cfg live.Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// channel adapts an SDK session to [live.Channel].
type channel struct {
	sess   liveSession
	outbox *live.Outbox
	events *live.EventStream

	mu     sync.Mutex
	opened bool
	closed bool
	done   chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *channel) receiveLoop() {
	for {
		msg, err := c.sess.Receive()
		if err != nil {
			if c.ctx.Err() != nil {
				c.events.Finish(live.Event{Kind: live.EventClosed})
				return
			}
			c.fail(receiveError(err))
			return
		}
		if msg == nil {
			continue
		}
		if !c.handle(msg) {
			return
		}
	}
}

// receiveError classifies a Receive failure. A normal WebSocket closure ends
// the session cleanly (nil).
func receiveError(err error) *live.ChannelError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure {
			return nil
		}
		msg := ce.Text
		if msg == "" {
			msg = fmt.Sprintf("connection closed (%d)", ce.Code)
		}
		return &live.ChannelError{Op: "read", Message: msg, Err: err}
	}
	return &live.ChannelError{Op: "read", Message: "connection lost", Err: err}
}

func (c *channel) handle(msg *genai.LiveServerMessage) bool {
	// Some SDK versions consume the setup acknowledgment during Connect, so
	// the first message of any kind also marks the channel ready.
	if !c.markOpened() {
		if !c.emit(live.Event{Kind: live.EventOpened}) {
			return false
		}
	}

	if msg.GoAway != nil {
		slog.Warn("genailive: server is going away")
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		ev := live.Event{Kind: live.EventTranscript, Direction: live.DirectionInput, Text: sc.InputTranscription.Text}
		if !c.emit(ev) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		ev := live.Event{Kind: live.EventTranscript, Direction: live.DirectionOutput, Text: sc.OutputTranscription.Text}
		if !c.emit(ev) {
			return false
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if !c.emit(live.Event{Kind: live.EventAudio, Audio: p.InlineData.Data}) {
				return false
			}
		}
	}
	if sc.Interrupted && !c.emit(live.Event{Kind: live.EventInterrupted}) {
		return false
	}
	if sc.TurnComplete && !c.emit(live.Event{Kind: live.EventTurnComplete}) {
		return false
	}
	return true
}

func (c *channel) emit(ev live.Event) bool {
	if c.events.Emit(ev) {
		return true
	}
	c.events.Finish(live.Event{Kind: live.EventClosed})
	return false
}

func (c *channel) markOpened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.opened
	c.opened = true
	return was
}

func (c *channel) fail(cerr *live.ChannelError) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if cerr == nil {
		c.events.Finish(live.Event{Kind: live.EventClosed})
	} else {
		slog.Warn("genailive: channel failed", "op", cerr.Op, "err", cerr)
		c.events.Finish(live.Event{Kind: live.EventError, Err: cerr})
	}
	c.shutdown()
}

func (c *channel) writeLoop() {
	mime := pcm.MIMEType(pcm.CaptureSampleRate)
	for {
		frame, ok := c.outbox.Next(c.ctx)
		if !ok {
			return
		}
		err := c.sess.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: mime, Data: frame},
		})
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.fail(&live.ChannelError{Op: "write", Message: "could not send audio", Err: err})
			return
		}
	}
}

func (c *channel) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.cancel()
		c.outbox.Close()
		close(c.done)
		// Closing the session unblocks Receive.
		go func() {
			if err := c.sess.Close(); err != nil {
				slog.Debug("genailive: close session", "err", err)
			}
		}()
	})
}

// Send queues a PCM16 16 kHz mono frame for transmission.
func (c *channel) Send(frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return live.ErrChannelClosed
	}
	return c.outbox.Push(frame)
}

// Events returns the inbound event stream.
func (c *channel) Events() <-chan live.Event { return c.events.C() }

// Close ends the session without waiting for acknowledgment. Idempotent.
func (c *channel) Close() error {
	c.shutdown()
	return nil
}
