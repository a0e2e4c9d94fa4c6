// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a hosted real-time voice model that accepts streamed
// microphone audio and answers with streamed synthesized speech, transcripts
// and turn signals over one stateful connection. Examples are the Gemini Live
// API and the OpenAI Realtime API.
//
// Inbound traffic is delivered through [Handlers] callbacks rather than
// channels so the caller can marshal everything onto its own event loop.
// Callbacks run on the provider's receive goroutine and must not block.
package s2s

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

var (
	// ErrPermissionDenied reports that the remote service refused access:
	// an invalid key, a disabled API, or a project without Live access.
	ErrPermissionDenied = errors.New("s2s: permission denied")

	// ErrClosed is returned by SendAudio after the session was closed.
	ErrClosed = errors.New("s2s: session closed")
)

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// Voice is the provider voice name, e.g. "Fenrir".
	Voice string

	// Instructions is the system-level prompt that defines the persona.
	Instructions string

	// InputTranscription asks the provider to transcribe the user's speech.
	InputTranscription bool

	// OutputTranscription asks the provider to transcribe its own speech.
	OutputTranscription bool
}

// AudioPart is one inline audio payload of a [Message]. Data is base64
// encoded s16le PCM in the format declared by MIMEType.
type AudioPart struct {
	MIMEType string
	Data     string
}

// Message is one inbound server message in provider-neutral form.
type Message struct {
	// Audio holds inline speech payloads in arrival order.
	Audio []AudioPart

	// Text holds model text parts.
	Text []string

	// InputTranscript is a fragment of the user's transcribed speech.
	InputTranscript string

	// OutputTranscript is a fragment of the model's transcribed speech.
	OutputTranscript string

	// Interrupted reports that the user barged in; buffered playback must be
	// discarded.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool
}

// Empty reports whether m carries nothing the session acts on.
func (m Message) Empty() bool {
	return len(m.Audio) == 0 && len(m.Text) == 0 &&
		m.InputTranscript == "" && m.OutputTranscript == "" &&
		!m.Interrupted && !m.TurnComplete
}

// Handlers receives session lifecycle and inbound traffic. Nil fields are
// ignored. After a remote termination exactly one of OnError or OnClose is
// called; neither is called after a local Close.
type Handlers struct {
	// OnOpen is called once when the remote acknowledged the session setup.
	OnOpen func()

	// OnMessage is called for every inbound server message.
	OnMessage func(Message)

	// OnError is called when the session fails.
	OnError func(error)

	// OnClose is called when the remote ends the session cleanly.
	OnClose func(reason string)
}

// SessionHandle represents an open S2S session.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded microphone chunk. It returns [ErrClosed]
	// (wrapped) after Close.
	SendAudio(chunk audio.Chunk) error

	// Close terminates the session. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// InputSampleRate is the microphone rate the provider expects.
	InputSampleRate int

	// OutputSampleRate is the rate of synthesized speech.
	OutputSampleRate int

	// MaxSessionDuration is the provider's hard session limit. Zero means no
	// documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the voice names the provider accepts.
	Voices []string
}

// Provider is the abstraction over any S2S backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect dials the remote service and sends the session setup. The
	// returned handle accepts audio immediately; h.OnOpen fires once the
	// remote acknowledged the setup. ctx bounds the dial only.
	Connect(ctx context.Context, cfg SessionConfig, h Handlers) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}

// ServerError is an error reported by the remote service, either as an error
// message or as an abnormal close of the connection.
type ServerError struct {
	Provider string
	Code     int
	Status   string
	Message  string
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": server error")
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d", e.Code)
	}
	if e.Status != "" {
		b.WriteString(" " + e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// Is lets errors.Is match [ErrPermissionDenied] for access failures.
func (e *ServerError) Is(target error) bool {
	return target == ErrPermissionDenied && IsPermissionFailure(e.Code, e.Status, e.Message)
}

// IsPermissionFailure classifies a remote failure as an access problem: HTTP
// 401/403, a PERMISSION_DENIED or UNAUTHENTICATED status, or a message that
// mentions permission.
func IsPermissionFailure(code int, status, message string) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch strings.ToUpper(status) {
	case "PERMISSION_DENIED", "UNAUTHENTICATED":
		return true
	}
	return strings.Contains(strings.ToLower(message), "permission")
}

// DialError wraps a failed WebSocket handshake. A 401 or 403 response is
// reported as [ErrPermissionDenied].
func DialError(provider string, resp *http.Response, err error) error {
	if resp != nil && IsPermissionFailure(resp.StatusCode, "", "") {
		return fmt.Errorf("%s: dial: %w: %s: %w", provider, ErrPermissionDenied, resp.Status, err)
	}
	return fmt.Errorf("%s: dial: %w", provider, err)
}
