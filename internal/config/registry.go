package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/audio/device"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
	"github.com/MrWong99/wolfa/pkg/provider/s2s/gemini"
	"github.com/MrWong99/wolfa/pkg/provider/s2s/genai"
	"github.com/MrWong99/wolfa/pkg/provider/s2s/openai"
)

// ErrProviderNotRegistered is returned by [Registry.CreateS2S] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	s2s map[string]func(ProviderEntry) (s2s.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s: make(map[string]func(ProviderEntry) (s2s.Provider, error)),
	}
}

// NewDefaultRegistry returns a [Registry] with every built-in provider.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterS2S(ProviderGeminiLive, func(e ProviderEntry) (s2s.Provider, error) {
		return gemini.New(e.APIKey, gemini.WithModel(e.Model), gemini.WithBaseURL(e.BaseURL)), nil
	})
	r.RegisterS2S(ProviderGenAILive, func(e ProviderEntry) (s2s.Provider, error) {
		return genai.New(e.APIKey, genai.WithModel(e.Model), genai.WithBaseURL(e.BaseURL)), nil
	})
	r.RegisterS2S(ProviderOpenAIRealtime, func(e ProviderEntry) (s2s.Provider, error) {
		return openai.New(e.APIKey, openai.WithModel(e.Model), openai.WithBaseURL(e.BaseURL)), nil
	})
	return r
}

// RegisterS2S registers an S2S provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterS2S(name string, factory func(ProviderEntry) (s2s.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s[name] = factory
}

// CreateS2S instantiates an S2S provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	factory, ok := r.s2s[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: s2s/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.s2s))
	for name := range r.s2s {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SessionConfig returns the remote session settings of cfg.
func (cfg *Config) SessionConfig() s2s.SessionConfig {
	return s2s.SessionConfig{
		Model:               cfg.Provider.Model,
		Voice:               cfg.Persona.Voice,
		Instructions:        cfg.Persona.Instructions,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// Meter returns the loudness meter described by m.
func (m MeterConfig) Meter() audio.Meter {
	return audio.Meter{DeadZone: m.DeadZone, Gain: m.Gain}
}

// Platform returns the ffmpeg/ffplay backed device platform described by c.
// onError receives errors that end a device after it started.
func (c AudioConfig) Platform(onError func(error)) *device.System {
	return &device.System{
		Microphone: device.MicrophoneConfig{
			Path:        c.Capture.FFmpegPath,
			InputFormat: c.Capture.InputFormat,
			InputDevice: c.Capture.InputDevice,
			SampleRate:  c.Capture.SampleRate,
			FrameSize:   c.Capture.FrameSize,
			OnError:     onError,
		},
		Output: device.OutputConfig{
			Backend: c.Playback.Backend,
			Speaker: device.SpeakerConfig{
				Path:       c.Playback.FFplayPath,
				SampleRate: c.Playback.SampleRate,
				Volume:     c.Playback.Volume,
			},
			Tick:    time.Duration(c.Playback.TickMS) * time.Millisecond,
			OnError: onError,
		},
	}
}
