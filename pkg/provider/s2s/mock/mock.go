// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to drive the inbound callbacks and inspect what the caller sent.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg, handlers)
//	sess := p.LastSession()
//	sess.Open()
//	sess.Deliver(s2s.Message{TurnComplete: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the session returned by Connect. If nil, Connect returns a
	// fresh Session for every call.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, blocks Connect until it is closed or ctx is done.
	Gate chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// CapabilitiesCallCount is the number of times Capabilities was called.
	CapabilitiesCallCount int

	sessions []*Session
}

// Connect records the call, waits on Gate and returns Session or
// ConnectErr. The returned session is bound to h.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig, h s2s.Handlers) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = &Session{}
	}
	sess.bind(h)
	p.sessions = append(p.sessions, sess)
	return sess, nil
}

// Capabilities records the call and returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CapabilitiesCallCount++
	return p.ProviderCapabilities
}

// Sessions returns every session handed out by Connect, in order.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// LastSession returns the most recent session handed out by Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// ConnectCount returns the number of Connect calls. Thread-safe.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
	p.CapabilitiesCallCount = 0
	p.sessions = nil
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. The Open, Deliver,
// Fail and End helpers invoke the handlers passed to Connect the way a
// provider's receive goroutine would.
type Session struct {
	mu sync.Mutex

	handlers s2s.Handlers

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio []audio.Chunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

func (s *Session) bind(h s2s.Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
}

func (s *Session) handlersSnapshot() s2s.Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrClosed
	}
	s.SentAudio = append(s.SentAudio, chunk)
	return s.SendAudioErr
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	return s.CloseErr
}

// Sent returns a copy of the chunks passed to SendAudio. Thread-safe.
func (s *Session) Sent() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.SentAudio...)
}

// Closed reports whether Close was called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Open invokes OnOpen.
func (s *Session) Open() {
	if h := s.handlersSnapshot(); h.OnOpen != nil {
		h.OnOpen()
	}
}

// Deliver invokes OnMessage with m.
func (s *Session) Deliver(m s2s.Message) {
	if h := s.handlersSnapshot(); h.OnMessage != nil {
		h.OnMessage(m)
	}
}

// Fail invokes OnError with err.
func (s *Session) Fail(err error) {
	if h := s.handlersSnapshot(); h.OnError != nil {
		h.OnError(err)
	}
}

// End invokes OnClose with reason.
func (s *Session) End(reason string) {
	if h := s.handlersSnapshot(); h.OnClose != nil {
		h.OnClose(reason)
	}
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
