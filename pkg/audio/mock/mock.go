// Package mock provides in-memory implementations of the [audio.Platform],
// [audio.Capture] and [audio.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests
// can assert on them, and expose fields to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{}
//	output := mock.NewOutput(24000)
//	platform := &mock.Platform{CaptureResult: capture, OutputResult: output}
//	// ... run the code under test ...
//	capture.Emit(make([]float32, 512))   // deliver a microphone frame
//	output.Advance(100 * time.Millisecond) // finish voices that ended by now
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
type Capture struct {
	mu sync.Mutex
	fn func([]float32)

	// FormatResult is returned by Format. Defaults to 16 kHz mono.
	FormatResult audio.Format

	// CloseError is returned by Close.
	CloseError error

	// CallCountTap records how many times Tap was called.
	CallCountTap int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Calls records the order of lifecycle calls ("tap", "disconnect",
	// "close").
	Calls []string
}

// Format implements [audio.Capture].
func (c *Capture) Format() audio.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FormatResult.SampleRate == 0 {
		return audio.Format{SampleRate: audio.CaptureSampleRate, Channels: 1}
	}
	return c.FormatResult
}

// Tap implements [audio.Capture].
func (c *Capture) Tap(fn func(samples []float32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountTap++
	c.Calls = append(c.Calls, "tap")
	c.fn = fn
}

// Disconnect implements [audio.Capture].
func (c *Capture) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	c.Calls = append(c.Calls, "disconnect")
	c.fn = nil
}

// Close implements [audio.Capture]. Returns CloseError.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.Calls = append(c.Calls, "close")
	c.fn = nil
	return c.CloseError
}

// Tapped reports whether a tap is currently registered.
func (c *Capture) Tapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fn != nil
}

// Emit delivers samples to the registered tap, if any, on the caller's
// goroutine. It reports whether a tap received the frame.
func (c *Capture) Emit(samples []float32) bool {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(samples)
	return true
}

// CallsSnapshot returns a copy of Calls.
func (c *Capture) CallsSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayCall records one [Output.Play] invocation.
type PlayCall struct {
	Buffer *audio.Buffer
	At     time.Duration
}

// Voice is the handle returned by [Output.Play].
type Voice struct {
	mu      sync.Mutex
	start   time.Duration
	end     time.Duration
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Start implements [audio.Voice].
func (v *Voice) Start() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.start
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// Output is a mock implementation of [audio.Output] with a manually advanced
// clock.
type Output struct {
	mu     sync.Mutex
	rate   int
	now    time.Duration
	voices []*Voice

	// CloseError is returned by Close.
	CloseError error

	// PlayCalls records all Play invocations.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutput returns an Output reporting rate as its sample rate.
func NewOutput(rate int) *Output {
	return &Output{rate: rate}
}

// SampleRate implements [audio.Output].
func (o *Output) SampleRate() int { return o.rate }

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Play implements [audio.Output]. A past at is moved to the current clock.
// The voice ends once the clock passes its start plus buf.Duration().
func (o *Output) Play(buf *audio.Buffer, at time.Duration, onEnded func()) audio.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.PlayCalls = append(o.PlayCalls, PlayCall{Buffer: buf, At: at})
	start := max(at, o.now)
	v := &Voice{start: start, end: start + buf.Duration(), onEnded: onEnded}
	o.voices = append(o.voices, v)
	return v
}

// Advance moves the clock forward by d and fires onEnded, on the caller's
// goroutine, for every unstopped voice that has finished.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	now := o.now
	var ended []func()
	for _, v := range o.voices {
		v.mu.Lock()
		if !v.stopped && !v.ended && v.end <= now {
			v.ended = true
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
		v.mu.Unlock()
	}
	o.mu.Unlock()

	for _, fn := range ended {
		fn()
	}
}

// Voices returns every voice created by Play, in order.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Voice(nil), o.voices...)
}

// Plays returns a copy of PlayCalls.
func (o *Output) Plays() []PlayCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PlayCall(nil), o.PlayCalls...)
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose > 0
}

// Close implements [audio.Output]. Every voice is stopped.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	for _, v := range o.voices {
		v.Stop()
	}
	return o.CloseError
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// CaptureResult is returned by OpenCapture.
	CaptureResult audio.Capture

	// CaptureError is returned by OpenCapture.
	CaptureError error

	// OutputResult is returned by OpenOutput.
	OutputResult audio.Output

	// OutputError is returned by OpenOutput.
	OutputError error

	// Gate, when non-nil, blocks both Open calls until it is closed or the
	// context ends.
	Gate chan struct{}

	// CallCountOpenCapture records how many times OpenCapture was called.
	CallCountOpenCapture int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int
}

func (p *Platform) wait(ctx context.Context) error {
	p.mu.Lock()
	gate := p.Gate
	p.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpenCapture implements [audio.Platform].
func (p *Platform) OpenCapture(ctx context.Context) (audio.Capture, error) {
	p.mu.Lock()
	p.CallCountOpenCapture++
	p.mu.Unlock()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CaptureError != nil {
		return nil, p.CaptureError
	}
	return p.CaptureResult, nil
}

// OpenOutput implements [audio.Platform].
func (p *Platform) OpenOutput(ctx context.Context) (audio.Output, error) {
	p.mu.Lock()
	p.CallCountOpenOutput++
	p.mu.Unlock()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OutputError != nil {
		return nil, p.OutputError
	}
	return p.OutputResult, nil
}

// Compile-time interface assertions.
var (
	_ audio.Capture  = (*Capture)(nil)
	_ audio.Output   = (*Output)(nil)
	_ audio.Platform = (*Platform)(nil)
	_ audio.Voice    = (*Voice)(nil)
)
