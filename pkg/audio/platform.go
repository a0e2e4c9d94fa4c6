// Package audio defines the audio types, codecs and device abstractions of the
// voice session.
//
// The device abstractions are:
//
//   - [Platform] opens the microphone and speaker of the host.
//   - [Capture] delivers fixed-size microphone frames to a tap callback.
//   - [Output] plays scheduled buffers against its own sample clock.
//
// Implementations live in adapter packages (audio/device for ffmpeg and
// ffplay, audio/mock for tests). The interfaces stay narrow so the session
// does not depend on how audio reaches the hardware.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable reports that a microphone or speaker could not be
// opened: missing binary, no such device, or access denied.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Capture is an open microphone stream.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Format reports the rate and channel count of delivered frames.
	Format() Format

	// Tap registers fn to receive every captured frame. fn runs on the
	// device's reader goroutine and must not block. Only one tap may be
	// active; a second call replaces the first.
	Tap(fn func(samples []float32))

	// Disconnect removes the tap. Frames captured afterwards are discarded.
	// Disconnect is idempotent.
	Disconnect()

	// Close stops the underlying device. It is safe to call Close more than
	// once; subsequent calls are no-ops and return nil.
	Close() error
}

// Output is an open speaker stream with a sample clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// SampleRate is the rate buffers must be supplied at.
	SampleRate() int

	// Now returns the current position of the output clock.
	Now() time.Duration

	// Play schedules buf at the clock position at, or at the current clock
	// position if at has already passed. onEnded is called from an
	// arbitrary goroutine when buf finishes playing naturally and never after
	// the returned voice was stopped.
	Play(buf *Buffer, at time.Duration, onEnded func()) Voice

	// Close silences all voices and releases the device. Close is idempotent.
	Close() error
}

// Platform is the entry point to the host's audio devices.
type Platform interface {
	// OpenCapture starts the microphone. Device access failures wrap
	// [ErrDeviceUnavailable].
	OpenCapture(ctx context.Context) (Capture, error)

	// OpenOutput starts the speaker. Device access failures wrap
	// [ErrDeviceUnavailable].
	OpenOutput(ctx context.Context) (Output, error)
}
