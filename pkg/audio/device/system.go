// Package device connects the voice session to the host's audio hardware
// through external ffmpeg (microphone) and ffplay (speaker) processes.
//
// Output is mixed in-process by [Output], which owns the playback sample
// clock, and streamed to the speaker as raw PCM. The "none" backend keeps
// the clock running without producing sound, which is useful on headless
// machines and in tests.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// Output backends.
const (
	BackendFFplay = "ffplay"
	BackendNone   = "none"
)

// ErrUnavailable is returned (wrapped) when a device cannot be opened.
var ErrUnavailable = audio.ErrDeviceUnavailable

// Compile-time check that *System satisfies audio.Platform.
var _ audio.Platform = (*System)(nil)

// OutputConfig configures the speaker side of a [System].
type OutputConfig struct {
	// Backend is [BackendFFplay] or [BackendNone].
	Backend string

	Speaker SpeakerConfig

	// Tick is the render period. Defaults to [DefaultTick].
	Tick time.Duration

	// OnError receives the error that ends the render loop.
	OnError func(error)
}

// System opens ffmpeg/ffplay backed devices.
type System struct {
	Microphone MicrophoneConfig
	Output     OutputConfig
}

// OpenCapture implements [audio.Platform].
func (s *System) OpenCapture(ctx context.Context) (audio.Capture, error) {
	m, err := OpenMicrophone(ctx, s.Microphone)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// OpenOutput implements [audio.Platform]. The returned output is already
// rendering.
func (s *System) OpenOutput(ctx context.Context) (audio.Output, error) {
	rate := s.Output.Speaker.SampleRate
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	opts := []OutputOption{WithTick(s.Output.Tick)}
	if s.Output.OnError != nil {
		opts = append(opts, WithErrorFunc(s.Output.OnError))
	}

	var out *Output
	switch s.Output.Backend {
	case BackendNone:
		out = NewOutput(rate, nil, opts...)
	case BackendFFplay, "":
		cfg := s.Output.Speaker
		cfg.SampleRate = rate
		sp, err := OpenSpeaker(cfg)
		if err != nil {
			return nil, err
		}
		out = NewOutput(rate, sp, opts...)
	default:
		return nil, fmt.Errorf("device: unknown output backend %q", s.Output.Backend)
	}

	// The render loop outlives the connect context.
	out.Start(context.WithoutCancel(ctx))
	return out, nil
}
