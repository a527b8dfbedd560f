// Package gemini implements the [live.Provider] interface for Google's Gemini
// Live API by speaking the BidiGenerateContent protocol directly.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages. Microphone audio is transmitted as
// base64-encoded PCM16 at 16 kHz; model audio arrives as base64-encoded PCM16
// at 24 kHz inside serverContent messages, together with input and output
// transcription deltas and interruption / turn-completion flags.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Channel = (*session)(nil)

const (
	// DefaultModel is the native-audio Live model used when neither the
	// provider nor the channel config names one.
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"
	bidiPath       = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used when [live.Config.Model] is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithOutboxCapacity sets how many outbound frames may queue before the
// oldest is dropped.
func WithOutboxCapacity(n int) Option {
	return func(p *Provider) { p.outboxCap = n }
}

// WithEventBuffer sets the buffer depth of the inbound event channel.
func WithEventBuffer(n int) Option {
	return func(p *Provider) { p.eventBuf = n }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements [live.Provider] for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	outboxCap int
	eventBuf  int
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		outboxCap: live.DefaultOutboxCapacity,
		eventBuf:  live.DefaultEventBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Gemini Live endpoint and sends the setup message. The
// returned Channel emits [live.EventOpened] once the server acknowledges the
// setup.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	wsURL := p.baseURL + bidiPath + "?key=" + url.QueryEscape(p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &live.ChannelError{Op: "dial", Message: "could not reach the voice service", Err: err}
	}
	// Model audio chunks can exceed the library's 32 KiB default.
	conn.SetReadLimit(16 << 20)

	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		outbox: live.NewOutbox(p.outboxCap),
		done:   make(chan struct{}),
		ctx:    sessCtx,
		cancel: sessCancel,
	}
	sess.events = live.NewEventStream(p.eventBuf, sess.done)

	if err := sess.sendSetup(ctx, model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &live.ChannelError{Op: "setup", Message: "could not configure the voice session", Err: err}
	}

	go sess.receiveLoop()
	go sess.writeLoop()
	go sess.keepaliveLoop()

	slog.Debug("gemini: channel connected", "model", model, "voice", cfg.Voice)
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
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

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(ctx context.Context, model string, cfg live.Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}

	return s.writeJSON(ctx, msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and translates them into
// events. It owns the event stream and finishes it when it exits.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A local Close cancels the context: acknowledge with EventClosed.
			if s.ctx.Err() != nil {
				s.events.Finish(live.Event{Kind: live.EventClosed})
				return
			}
			s.fail(readError(err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("gemini: skipping malformed server message", "err", err, "bytes", len(data))
			continue
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// readError classifies a read failure. A normal closure by the server ends the
// session cleanly (nil); any other close status or transport failure is a
// channel error.
func readError(err error) *live.ChannelError {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNormalClosure {
			return nil
		}
		msg := ce.Reason
		if msg == "" {
			msg = fmt.Sprintf("connection closed (%d)", int(ce.Code))
		}
		return &live.ChannelError{Op: "read", Message: msg, Err: err}
	}
	return &live.ChannelError{Op: "read", Message: "connection lost", Err: err}
}

// handleServerMessage emits the events carried by msg in protocol order:
// transcripts, audio, interruption, turn completion. It returns false once
// the session has ended.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown server error"
		}
		s.fail(&live.ChannelError{Op: "server", Message: text})
		return false
	}

	if msg.SetupComplete != nil && !s.markOpened() {
		if !s.emit(live.Event{Kind: live.EventOpened}) {
			return false
		}
	}

	if msg.GoAway != nil {
		slog.Warn("gemini: server is going away", "time_left", msg.GoAway.TimeLeft)
	}

	if msg.ServerContent != nil {
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		ev := live.Event{Kind: live.EventTranscript, Direction: live.DirectionInput, Text: sc.InputTranscription.Text}
		if !s.emit(ev) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		ev := live.Event{Kind: live.EventTranscript, Direction: live.DirectionOutput, Text: sc.OutputTranscription.Text}
		if !s.emit(ev) {
			return false
		}
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			audio, err := pcm.DecodeBase64(p.InlineData.Data)
			if err != nil {
				slog.Warn("gemini: dropping undecodable audio part", "err", err)
				continue
			}
			if !s.emit(live.Event{Kind: live.EventAudio, Audio: audio}) {
				return false
			}
		}
	}

	if sc.Interrupted && !s.emit(live.Event{Kind: live.EventInterrupted}) {
		return false
	}
	if sc.TurnComplete && !s.emit(live.Event{Kind: live.EventTurnComplete}) {
		return false
	}
	return true
}

// emit forwards ev to the consumer. When the session was closed locally
// while blocked it finishes the stream with EventClosed and returns false.
func (s *session) emit(ev live.Event) bool {
	if s.events.Emit(ev) {
		return true
	}
	s.events.Finish(live.Event{Kind: live.EventClosed})
	return false
}

// markOpened records the setup acknowledgment and reports whether it had
// already been seen.
func (s *session) markOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.opened
	s.opened = true
	return was
}

// fail ends the session because of a remote condition. A nil cerr means the
// server closed normally.
func (s *session) fail(cerr *live.ChannelError) {
	// Reject sends before the consumer can observe the terminal event.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if cerr == nil {
		s.events.Finish(live.Event{Kind: live.EventClosed})
	} else {
		slog.Warn("gemini: channel failed", "op", cerr.Op, "err", cerr)
		s.events.Finish(live.Event{Kind: live.EventError, Err: cerr})
	}
	s.shutdown(websocket.StatusNormalClosure, "session ended")
}

// writeLoop drains the outbox onto the socket, one realtimeInput message per
// frame.
func (s *session) writeLoop() {
	mime := pcm.MIMEType(pcm.CaptureSampleRate)
	for {
		frame, ok := s.outbox.Next(s.ctx)
		if !ok {
			return
		}
		msg := realtimeInputMessage{
			RealtimeInput: realtimeInput{
				Audio: &blob{MIMEType: mime, Data: pcm.EncodeBase64(frame)},
			},
		}
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := s.writeJSON(ctx, msg)
		cancel()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fail(&live.ChannelError{Op: "write", Message: "could not send audio", Err: err})
			return
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// shutdown releases everything exactly once. The close handshake runs in the
// background; callers never wait for the server's acknowledgment.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel() // unblocks receiveLoop, writeLoop and keepaliveLoop
		s.outbox.Close()
		close(s.done)
		go func() { _ = s.conn.Close(code, reason) }()
	})
}

// ── live.Channel methods ───────────────────────────────────────────────────────

// Send queues a PCM16 16 kHz mono frame for transmission.
func (s *session) Send(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrChannelClosed
	}
	return s.outbox.Push(frame)
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events.C() }

// Close terminates the session without waiting for the server's close
// acknowledgment. Idempotent.
func (s *session) Close() error {
	s.shutdown(websocket.StatusNormalClosure, "session closed")
	return nil
}
