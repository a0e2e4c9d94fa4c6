// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API speaks 24 kHz PCM16 in both directions, so microphone
// chunks captured at a lower rate are resampled before they are appended to
// the input buffer.
package openai

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

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// sampleRate is the only PCM16 rate the Realtime API accepts and emits.
	sampleRate = 24000

	transcriptionModel = "whisper-1"
	writeTimeout       = 5 * time.Second
	readLimit          = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Voices lists the Realtime voices.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		InputSampleRate:    sampleRate,
		OutputSampleRate:   sampleRate,
		MaxSessionDuration: 30 * time.Minute,
		Voices:             Voices,
	}
}

// Connect establishes a new OpenAI Realtime session with the given configuration.
// The returned SessionHandle accepts audio immediately; h.OnOpen fires when
// the server confirms the session.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig, h s2s.Handlers) (s2s.SessionHandle, error) {
	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	wsURL := p.baseURL + "?model=" + url.QueryEscape(model)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, s2s.DialError("openai", resp, err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:       conn,
		handlers:   h,
		outputText: cfg.OutputTranscription,
		ctx:        sessCtx,
		cancel:     sessCancel,
	}

	if err := sess.sendSessionUpdate(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	slog.Debug("openai: session update sent", "model", model, "voice", cfg.Voice)

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string            `json:"modalities"`
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *audioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type audioTranscription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error
	Error *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// fatal reports whether the error ends the session. Invalid client requests
// are rejected individually and leave the session usable.
func (d *serverErrorDetail) fatal() bool {
	return d.Type != "invalid_request_error" || d.Code == "invalid_api_key"
}

func (d *serverErrorDetail) toError() error {
	e := &s2s.ServerError{Provider: "openai", Status: d.Code, Message: d.Message}
	if d.Code == "invalid_api_key" {
		e.Code = http.StatusUnauthorized
	}
	return e
}

// toMessage converts one server event into the provider-neutral form. The
// second result is false for events the session does not act on.
func (evt *serverEvent) toMessage(outputText bool) (s2s.Message, bool) {
	var m s2s.Message
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return m, false
		}
		m.Audio = []s2s.AudioPart{{MIMEType: audio.PCMMIMEType(sampleRate), Data: evt.Delta}}
	case "response.audio_transcript.delta":
		if !outputText || evt.Delta == "" {
			return m, false
		}
		m.OutputTranscript = evt.Delta
	case "response.text.delta":
		if evt.Delta == "" {
			return m, false
		}
		m.Text = []string{evt.Delta}
	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return m, false
		}
		m.InputTranscript = evt.Transcript
	case "input_audio_buffer.speech_started":
		m.Interrupted = true
	case "response.done":
		m.TurnComplete = true
	default:
		return m, false
	}
	return m, true
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn       *websocket.Conn
	handlers   s2s.Handlers
	outputText bool

	mu       sync.Mutex
	closed   bool
	upsample audio.RateConverter // outbound microphone stream, guarded by mu

	ctx      context.Context
	cancel   context.CancelFunc
	openOnce sync.Once
	endOnce  sync.Once
}

// sendSessionUpdate sends a session.update event to configure voice,
// instructions, transcription and audio formats.
func (s *session) sendSessionUpdate(cfg s2s.SessionConfig) error {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &audioTranscription{Model: transcriptionModel}
	}
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them until the
// connection ends.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.handleReadError(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err)
			continue
		}

		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleReadError maps a terminated read onto OnClose or OnError.
func (s *session) handleReadError(err error) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			s.end(func() {
				if s.handlers.OnClose != nil {
					s.handlers.OnClose(ce.Reason)
				}
			})
			return
		}
		s.fail(&s2s.ServerError{Provider: "openai", Code: int(ce.Code), Message: ce.Reason})
		return
	}
	s.fail(fmt.Errorf("openai: receive: %w", err))
}

// handleServerEvent dispatches one server event. It returns false when the
// session must stop reading.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.created", "session.updated":
		s.openOnce.Do(func() {
			if s.handlers.OnOpen != nil {
				s.handlers.OnOpen()
			}
		})
		return true
	case "error":
		detail := evt.Error
		if detail == nil {
			detail = &serverErrorDetail{Type: "server_error", Message: "unknown error"}
		}
		if !detail.fatal() {
			slog.Warn("openai: request rejected", "code", detail.Code, "message", detail.Message)
			return true
		}
		s.fail(detail.toError())
		s.conn.CloseNow()
		return false
	}

	m, ok := evt.toMessage(s.outputText)
	if ok && s.handlers.OnMessage != nil {
		s.handlers.OnMessage(m)
	}
	return true
}

// fail reports err once, unless the session was closed locally.
func (s *session) fail(err error) {
	s.end(func() {
		if s.handlers.OnError != nil {
			s.handlers.OnError(err)
		}
	})
}

// end runs fn for the first remote termination only.
func (s *session) end(fn func()) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			fn()
		}
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio resamples one encoded PCM chunk to 24 kHz and appends it to the
// server's input buffer.
func (s *session) SendAudio(chunk audio.Chunk) error {
	data := chunk.Data
	rate, resample := audio.ParseRate(chunk.MIMEType)
	resample = resample && rate != sampleRate
	var pcm []byte
	if resample {
		var err error
		if pcm, err = audio.DecodeBase64(chunk.Data); err != nil {
			return fmt.Errorf("openai: send audio: %w", err)
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: %w", s2s.ErrClosed)
	}
	if resample {
		s.upsample.Target = sampleRate
		data = audio.EncodeBase64(s.upsample.Convert(pcm, rate))
	}
	s.mu.Unlock()

	if err := s.writeJSON(appendAudioMessage{Type: "input_audio_buffer.append", Audio: data}); err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
