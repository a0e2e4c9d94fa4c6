// Package genai implements the s2s.Provider interface on top of the official
// google.golang.org/genai SDK's Live client.
//
// It speaks the same BidiGenerateContent protocol as package gemini but lets
// the SDK own the handshake, setup conversion and message decoding. Inline
// audio arrives as raw bytes and is re-encoded to base64 so every provider
// hands the session the same [s2s.Message] shape.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
	"github.com/MrWong99/wolfa/pkg/provider/s2s/gemini"
)

// Compile-time assertions.
var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

const apiVersion = "v1beta"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Live model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API base URL, e.g. "ws://127.0.0.1:8080/" in tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// Provider implements s2s.Provider with the genai SDK.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: gemini.DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities matches the raw WebSocket Gemini provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return gemini.New("").Capabilities()
}

// liveConfig converts cfg into the SDK's connect configuration.
func liveConfig(cfg s2s.SessionConfig) *genai.LiveConnectConfig {
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

// Connect opens a Live session through the SDK.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig, h s2s.Handlers) (s2s.SessionHandle, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: apiVersion,
			BaseURL:    p.baseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genai: client: %w", err)
	}

	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}

	live, err := client.Live.Connect(ctx, model, liveConfig(cfg))
	if err != nil {
		return nil, classify(fmt.Errorf("genai: connect: %w", err))
	}
	slog.Debug("genai: live session opened", "model", model, "voice", cfg.Voice)

	s := &session{live: live, handlers: h}
	go s.receiveLoop()
	return s, nil
}

// classify marks access failures reported by the SDK as permission errors.
// The SDK surfaces both handshake failures and server error frames as plain
// text, so the text is all there is to go on.
func classify(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "UNAUTHENTICATED") ||
		strings.Contains(strings.ToLower(msg), "permission") ||
		strings.Contains(msg, "bad handshake") && strings.Contains(msg, "403") {
		return fmt.Errorf("%w: %w", s2s.ErrPermissionDenied, err)
	}
	return err
}

type session struct {
	live     *genai.Session
	handlers s2s.Handlers

	writeMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	openOnce sync.Once
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) receiveLoop() {
	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.terminate(err)
			return
		}
		s.dispatch(msg)
	}
}

// terminate maps a receive failure onto OnClose or OnError.
func (s *session) terminate(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		var ce *websocket.CloseError
		errors.As(err, &ce)
		if s.handlers.OnClose != nil {
			s.handlers.OnClose(ce.Text)
		}
		return
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		err = &s2s.ServerError{Provider: "genai", Code: ce.Code, Message: ce.Text}
	} else {
		err = classify(fmt.Errorf("genai: receive: %w", err))
	}
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *session) dispatch(msg *genai.LiveServerMessage) {
	if msg.SetupComplete != nil {
		s.openOnce.Do(func() {
			if s.handlers.OnOpen != nil {
				s.handlers.OnOpen()
			}
		})
	}
	if msg.GoAway != nil {
		slog.Warn("genai: server is about to close the session", "time_left", msg.GoAway.TimeLeft)
	}
	if msg.ServerContent == nil {
		return
	}
	m := toMessage(msg.ServerContent)
	if !m.Empty() && s.handlers.OnMessage != nil {
		s.handlers.OnMessage(m)
	}
}

// toMessage converts SDK server content into the provider-neutral form.
func toMessage(sc *genai.LiveServerContent) s2s.Message {
	var m s2s.Message
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				m.Audio = append(m.Audio, s2s.AudioPart{
					MIMEType: p.InlineData.MIMEType,
					Data:     audio.EncodeBase64(p.InlineData.Data),
				})
			}
			if p.Text != "" {
				m.Text = append(m.Text, p.Text)
			}
		}
	}
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	m.Interrupted = sc.Interrupted
	m.TurnComplete = sc.TurnComplete
	return m
}

// SendAudio implements [s2s.SessionHandle].
func (s *session) SendAudio(chunk audio.Chunk) error {
	if s.isClosed() {
		return fmt.Errorf("genai: %w", s2s.ErrClosed)
	}
	data, err := audio.DecodeBase64(chunk.Data)
	if err != nil {
		return fmt.Errorf("genai: send audio: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	err = s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: chunk.MIMEType, Data: data},
	})
	if err != nil {
		return fmt.Errorf("genai: send audio: %w", err)
	}
	return nil
}

// Close implements [s2s.SessionHandle]. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.live.Close(); err != nil {
		return fmt.Errorf("genai: close: %w", err)
	}
	return nil
}
