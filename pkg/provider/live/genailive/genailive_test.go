package genailive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/provider/live"
)

// fakeSession is a scripted liveSession. Messages pushed onto msgs are
// returned by Receive; closing the session makes Receive fail.
type fakeSession struct {
	msgs chan *genai.LiveServerMessage
	errs chan error

	mu     sync.Mutex
	sent   []genai.LiveRealtimeInput
	closed bool
	done   chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		msgs: make(chan *genai.LiveServerMessage, 16),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (f *fakeSession) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, in)
	return nil
}

func (f *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return nil, err
	case <-f.done:
		return nil, io.EOF
	}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeSession) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type connectRecord struct {
	model string
	cfg   *genai.LiveConnectConfig
}

func newTestProvider(sess *fakeSession, rec *connectRecord, opts ...Option) *Provider {
	return newProvider(func(_ context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		if rec != nil {
			rec.model, rec.cfg = model, cfg
		}
		return sess, nil
	}, opts...)
}

func next(t *testing.T, ch live.Channel) live.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

func TestConnect_TranslatesConfig(t *testing.T) {
	t.Parallel()

	var rec connectRecord
	p := newTestProvider(newFakeSession(), &rec, WithModel("m1"))
	ch, err := p.Connect(context.Background(), live.Config{
		Voice:               "Zephyr",
		Instructions:        "prompt",
		InputTranscription:  true,
		OutputTranscription: true,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	if rec.model != "m1" {
		t.Errorf("model = %q", rec.model)
	}
	cfg := rec.cfg
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != genai.ModalityAudio {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if cfg.SpeechConfig == nil || cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Errorf("speech config = %+v", cfg.SpeechConfig)
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "prompt" {
		t.Errorf("system instruction = %+v", cfg.SystemInstruction)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Error("transcription not enabled")
	}
}

func TestConnect_Failure(t *testing.T) {
	t.Parallel()

	p := newProvider(func(context.Context, string, *genai.LiveConnectConfig) (liveSession, error) {
		return nil, errors.New("403")
	})
	_, err := p.Connect(context.Background(), live.Config{})
	var cerr *live.ChannelError
	if !errors.As(err, &cerr) || cerr.Op != "dial" {
		t.Fatalf("err = %v", err)
	}
}

func TestEvents_MappingAndOrder(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	ch, err := newTestProvider(sess, nil).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	sess.msgs <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	sess.msgs <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
		ModelTurn: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 2}}},
			nil,
			{Text: "ignored"},
		}},
		InputTranscription:  &genai.Transcription{Text: "Hel"},
		OutputTranscription: &genai.Transcription{Text: "Hi"},
		Interrupted:         true,
		TurnComplete:        true,
	}}

	want := []live.EventKind{
		live.EventOpened,
		live.EventTranscript,
		live.EventTranscript,
		live.EventAudio,
		live.EventInterrupted,
		live.EventTurnComplete,
	}
	for i, k := range want {
		ev := next(t, ch)
		if ev.Kind != k {
			t.Fatalf("event %d = %v, want %v", i, ev.Kind, k)
		}
		switch i {
		case 1:
			if ev.Direction != live.DirectionInput || ev.Text != "Hel" {
				t.Errorf("input transcript = %+v", ev)
			}
		case 2:
			if ev.Direction != live.DirectionOutput || ev.Text != "Hi" {
				t.Errorf("output transcript = %+v", ev)
			}
		case 3:
			if string(ev.Audio) != string([]byte{1, 2}) {
				t.Errorf("audio = %v", ev.Audio)
			}
		}
	}
}

func TestEvents_OpenedOnlyOnce(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	ch, _ := newTestProvider(sess, nil).Connect(context.Background(), live.Config{})
	defer ch.Close()

	sess.msgs <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	sess.msgs <- &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}}

	if ev := next(t, ch); ev.Kind != live.EventOpened {
		t.Fatalf("got %v", ev.Kind)
	}
	if ev := next(t, ch); ev.Kind != live.EventTurnComplete {
		t.Fatalf("got %v, want turn_complete", ev.Kind)
	}
}

func TestEvents_RemoteFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want live.EventKind
		msg  string
	}{
		{"normal closure", &websocket.CloseError{Code: websocket.CloseNormalClosure}, live.EventClosed, ""},
		{"policy violation", &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "API key not valid"}, live.EventError, "API key not valid"},
		{"transport", io.ErrUnexpectedEOF, live.EventError, "connection lost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := newFakeSession()
			ch, _ := newTestProvider(sess, nil).Connect(context.Background(), live.Config{})
			defer ch.Close()

			sess.errs <- tt.err
			ev := next(t, ch)
			if ev.Kind != tt.want {
				t.Fatalf("got %v, want %v", ev.Kind, tt.want)
			}
			if tt.msg != "" {
				var cerr *live.ChannelError
				if !errors.As(ev.Err, &cerr) || cerr.Summary() != tt.msg {
					t.Errorf("err = %v", ev.Err)
				}
			}
			if err := ch.Send([]byte{0, 0}); !errors.Is(err, live.ErrChannelClosed) {
				t.Errorf("Send after end: %v", err)
			}
		})
	}
}

func TestSend_WritesRealtimeAudio(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	ch, _ := newTestProvider(sess, nil).Connect(context.Background(), live.Config{})
	defer ch.Close()

	for range 3 {
		if err := ch.Send([]byte{9, 9}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	deadline := time.Now().Add(3 * time.Second)
	for sess.sentCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sent %d frames, want 3", sess.sentCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if a := sess.sent[0].Audio; a == nil || a.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("audio blob = %+v", a)
	}
}

func TestClose_FinishesEvents(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	ch, _ := newTestProvider(sess, nil).Connect(context.Background(), live.Config{})

	_ = ch.Close()
	_ = ch.Close()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events not closed after Close")
		}
	}
}
