package audio

import "time"

// Default sample rates of the voice session. The remote model consumes 16 kHz
// microphone audio and produces 24 kHz speech.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Chunk is an encoded audio frame ready for transport. Data holds base64
// encoded 16-bit signed little-endian PCM; MIMEType declares the format, e.g.
// "audio/pcm;rate=16000".
type Chunk struct {
	MIMEType string
	Data     string
}

// Buffer is decoded audio ready for playback. Samples are normalised to
// [-1, 1] and stored per channel; every channel holds the same number of
// frames.
type Buffer struct {
	// Channels holds one sample slice per channel.
	Channels [][]float32

	// SampleRate in Hz (e.g., 24000 for model speech).
	SampleRate int
}

// Frames returns the number of sample frames in b.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(b.Frames(), b.SampleRate)
}

// FramesToDuration converts a frame count at rate into a duration.
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d into the nearest frame index at rate.
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	// Round to the nearest frame so cursor arithmetic truncated to whole
	// nanoseconds lands back on the exact sample.
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// Voice is a handle to a buffer scheduled on an output device.
type Voice interface {
	// Stop silences the voice immediately. A stopped voice never reports
	// natural completion. Stop is idempotent.
	Stop()

	// Start is the clock position at which the device actually begins the
	// voice. It is never earlier than the position requested from Play.
	Start() time.Duration
}
