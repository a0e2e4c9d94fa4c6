package device

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// DefaultTick is the render period of an [Output] when none is configured.
const DefaultTick = 20 * time.Millisecond

// Compile-time interface assertions.
var (
	_ audio.Voice  = (*voice)(nil)
	_ audio.Output = (*Output)(nil)
)

// voice is one buffer scheduled on the output clock.
type voice struct {
	start   int64 // absolute start frame on the output clock
	rate    int
	seq     uint64
	samples []float32 // mono mixdown at the output rate
	pos     int
	onEnded func()
	stopped atomic.Bool
}

// Stop silences the voice. A stopped voice never reports completion.
func (v *voice) Stop() { v.stopped.Store(true) }

// Start returns the clock position of the voice's first sample.
func (v *voice) Start() time.Duration { return audio.FramesToDuration(int(v.start), v.rate) }

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithTick sets the render period used by [Output.Run].
func WithTick(d time.Duration) OutputOption {
	return func(o *Output) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithGain scales every rendered sample by g (1 is unity).
func WithGain(g float32) OutputOption {
	return func(o *Output) { o.gain = g }
}

// WithErrorFunc registers fn to receive the error that ends a render loop
// started with [Output.Start].
func WithErrorFunc(fn func(error)) OutputOption {
	return func(o *Output) { o.onError = fn }
}

// Output is a software mixer with its own sample clock. Buffers are scheduled
// at absolute positions on that clock via [Output.Play]; [Output.Run] renders
// the mix in fixed ticks and writes it to the sink as s16le PCM.
//
// The clock only advances while rendering, so [Output.Now] is the position
// of the next sample to be written. All methods are safe for concurrent use.
type Output struct {
	rate    int
	tick    time.Duration
	gain    float32
	sink    io.WriteCloser
	onError func(error)

	stop context.CancelFunc
	done chan struct{}

	mu      sync.Mutex
	frame   int64
	seq     uint64
	pending voiceHeap
	playing []*voice
	closed  bool
}

// NewOutput creates an Output rendering mono audio at rate into sink. A nil
// sink renders silently and only advances the clock.
func NewOutput(rate int, sink io.WriteCloser, opts ...OutputOption) *Output {
	o := &Output{
		rate: rate,
		tick: DefaultTick,
		gain: 1,
		sink: sink,
	}
	for _, opt := range opts {
		opt(o)
	}
	heap.Init(&o.pending)
	return o
}

// SampleRate returns the output sample rate.
func (o *Output) SampleRate() int { return o.rate }

// Now returns the current position of the output clock.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return audio.FramesToDuration(int(o.frame), o.rate)
}

// Play schedules buf to start at the given clock position. A position the
// clock has already passed is moved to the next sample to be rendered; the
// returned voice reports the start it was given. onEnded runs on the render
// goroutine after the last sample of buf has been written.
func (o *Output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) audio.Voice {
	v := &voice{
		start:   audio.DurationToFrames(at, o.rate),
		rate:    o.rate,
		samples: o.mixdown(buf),
		onEnded: onEnded,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	v.start = max(v.start, o.frame)
	if o.closed {
		v.Stop()
		return v
	}
	o.seq++
	v.seq = o.seq
	heap.Push(&o.pending, v)
	return v
}

func (o *Output) mixdown(buf *audio.Buffer) []float32 {
	if buf == nil || len(buf.Channels) == 0 {
		return nil
	}
	if buf.SampleRate != o.rate {
		slog.Warn("device output: buffer rate differs from output rate",
			"buffer_rate", buf.SampleRate,
			"output_rate", o.rate,
		)
	}
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	n := buf.Frames()
	out := make([]float32, n)
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i := range n {
			out[i] += ch[i] * scale
		}
	}
	return out
}

// Render mixes the next len(dst) frames into dst and advances the clock.
// Completion callbacks for voices that finished inside this window run
// after the mix, outside the lock.
func (o *Output) Render(dst []float32) {
	clear(dst)

	o.mu.Lock()
	base := o.frame
	end := base + int64(len(dst))

	// Play never schedules behind the clock, so every popped voice starts
	// inside this window.
	for o.pending.Len() > 0 && o.pending[0].start < end {
		o.playing = append(o.playing, heap.Pop(&o.pending).(*voice))
	}

	var ended []func()
	kept := o.playing[:0]
	for _, v := range o.playing {
		if v.stopped.Load() {
			continue
		}
		off := int(v.start - base)
		if off < 0 {
			off = 0
		}
		for i := off; i < len(dst) && v.pos < len(v.samples); i++ {
			dst[i] += v.samples[v.pos] * o.gain
			v.pos++
		}
		if v.pos >= len(v.samples) {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(o.playing[len(kept):])
	o.playing = kept
	o.frame = end
	o.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Run renders one tick of audio per period and writes it to the sink until
// ctx is cancelled or the sink fails.
func (o *Output) Run(ctx context.Context) error {
	frames := int(audio.DurationToFrames(o.tick, o.rate))
	if frames <= 0 {
		return fmt.Errorf("device: output: tick %v too short for rate %d", o.tick, o.rate)
	}
	dst := make([]float32, frames)

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		o.Render(dst)
		if o.sink == nil {
			continue
		}
		if _, err := o.sink.Write(audio.EncodePCM(dst)); err != nil {
			if o.isClosed() {
				return nil
			}
			return fmt.Errorf("device: output: write: %w", err)
		}
	}
}

// Start runs [Output.Run] on a background goroutine. [Output.Close] stops it.
func (o *Output) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	o.mu.Lock()
	o.stop = cancel
	o.done = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		if err := o.Run(ctx); err != nil {
			slog.Error("device output: render loop stopped", "err", err)
			if o.onError != nil {
				o.onError(err)
			}
		}
	}()
}

func (o *Output) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close stops every scheduled voice, closes the sink and waits for a render
// loop started with [Output.Start] to exit. Close is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, v := range o.playing {
		v.Stop()
	}
	for _, v := range o.pending {
		v.Stop()
	}
	o.playing = nil
	o.pending = o.pending[:0]
	stop, done := o.stop, o.done
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	var err error
	if o.sink != nil {
		// Closing the sink first unblocks a render loop stuck in Write.
		if cerr := o.sink.Close(); cerr != nil {
			err = fmt.Errorf("device: output: close sink: %w", cerr)
		}
	}
	if done != nil {
		<-done
	}
	return err
}
