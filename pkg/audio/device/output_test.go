package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/audio/playback"
)

func mono(samples ...float32) *audio.Buffer {
	return &audio.Buffer{Channels: [][]float32{samples}, SampleRate: 1000}
}

// frameAt returns the clock position of frame n at 1 kHz.
func frameAt(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestOutput_RendersAtScheduledFrame(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)

	o.Play(mono(0.5, 0.25), frameAt(3), nil)

	dst := make([]float32, 4)
	o.Render(dst)
	want := []float32{0, 0, 0, 0.5}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("window 1 = %v, want %v", dst, want)
		}
	}
	o.Render(dst)
	want = []float32{0.25, 0, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("window 2 = %v, want %v", dst, want)
		}
	}
	if got := o.Now(); got != frameAt(8) {
		t.Errorf("Now() = %v, want %v", got, frameAt(8))
	}
}

func TestOutput_MixesOverlappingVoices(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil, WithGain(0.5))

	o.Play(mono(0.2, 0.2, 0.2), 0, nil)
	o.Play(mono(0.4, 0.4), frameAt(1), nil)

	dst := make([]float32, 4)
	o.Render(dst)
	want := []float32{0.1, 0.3, 0.3, 0}
	for i := range want {
		if diff := dst[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Fatalf("mix = %v, want %v", dst, want)
		}
	}
}

func TestOutput_BackToBackVoicesAreGapless(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)

	o.Play(mono(1, 1, 1), 0, nil)
	o.Play(mono(-1, -1), frameAt(3), nil)

	dst := make([]float32, 6)
	o.Render(dst)
	want := []float32{1, 1, 1, -1, -1, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("render = %v, want %v", dst, want)
		}
	}
}

func TestOutput_CompletionFiresOnce(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)

	var calls int
	o.Play(mono(0.1, 0.1, 0.1), 0, func() { calls++ })

	dst := make([]float32, 2)
	o.Render(dst)
	if calls != 0 {
		t.Fatalf("completion fired early")
	}
	o.Render(dst)
	o.Render(dst)
	if calls != 1 {
		t.Errorf("completion calls = %d, want 1", calls)
	}
}

func TestOutput_StopSuppressesCompletion(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)

	var calls int
	v := o.Play(mono(0.1, 0.1, 0.1, 0.1), 0, func() { calls++ })

	dst := make([]float32, 2)
	o.Render(dst)
	v.Stop()
	o.Render(dst)
	o.Render(dst)
	if calls != 0 {
		t.Errorf("completion calls = %d, want 0", calls)
	}
	if dst[0] != 0 || dst[1] != 0 {
		t.Errorf("stopped voice still audible: %v", dst)
	}
}

func TestOutput_LateVoiceStartsImmediately(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)

	dst := make([]float32, 4)
	o.Render(dst)
	v := o.Play(mono(0.7), frameAt(1), nil)
	if got := v.Start(); got != frameAt(4) {
		t.Errorf("late voice Start() = %v, want %v", got, frameAt(4))
	}
	o.Render(dst)
	if dst[0] != 0.7 {
		t.Errorf("late voice rendered as %v, want first sample 0.7", dst)
	}
}

func TestOutput_ClockAdvanceBeforeEnqueueKeepsChunksApart(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)
	s := playback.New(o)

	// The render loop advances the clock between reading it and scheduling.
	now := o.Now()
	o.Render(make([]float32, 10))

	ones := func(n int) *audio.Buffer {
		b := mono(make([]float32, n)...)
		for i := range b.Channels[0] {
			b.Channels[0][i] = 1
		}
		return b
	}
	first := s.Enqueue(ones(20), now)
	second := s.Enqueue(ones(20), now)

	if first.Start() != frameAt(10) {
		t.Errorf("first chunk starts at %v, want %v", first.Start(), frameAt(10))
	}
	if second.Start() != first.End() {
		t.Errorf("second chunk starts at %v, first ends at %v", second.Start(), first.End())
	}

	dst := make([]float32, 50)
	o.Render(dst)
	for i, v := range dst {
		want := float32(0)
		if i < 40 {
			want = 1
		}
		if v != want {
			t.Fatalf("sample %d = %v, want %v (render %v)", i, v, want, dst)
		}
	}
}

func TestOutput_StereoMixdown(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)
	o.Play(&audio.Buffer{Channels: [][]float32{{1, 0}, {0, 1}}, SampleRate: 1000}, 0, nil)

	dst := make([]float32, 2)
	o.Render(dst)
	if dst[0] != 0.5 || dst[1] != 0.5 {
		t.Errorf("mixdown = %v, want [0.5 0.5]", dst)
	}
}

func TestOutput_PlayAfterCloseIsSilent(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil)
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var called bool
	o.Play(mono(1), 0, func() { called = true })
	dst := make([]float32, 2)
	o.Render(dst)
	if dst[0] != 0 || called {
		t.Errorf("voice played after close")
	}
}

// recordingSink collects written PCM.
type recordingSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	err    error
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.buf.Write(p)
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.buf.Bytes())
}

func TestOutput_StartWritesPCMToSink(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	o := NewOutput(1000, sink, WithTick(5*time.Millisecond))

	done := make(chan struct{})
	o.Play(mono(0.5), 0, func() { close(done) })
	o.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("voice never completed")
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	pcm := sink.bytes()
	if len(pcm) < 2 {
		t.Fatalf("sink received %d bytes", len(pcm))
	}
	if got := int16(binary.LittleEndian.Uint16(pcm)); got != 16384 {
		t.Errorf("first sample = %d, want 16384", got)
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
}

func TestOutput_SinkErrorReported(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("broken pipe")
	sink := &recordingSink{err: wantErr}

	errCh := make(chan error, 1)
	o := NewOutput(1000, sink, WithTick(5*time.Millisecond), WithErrorFunc(func(err error) { errCh <- err }))
	o.Start(context.Background())
	defer o.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, wantErr) {
			t.Errorf("err = %v, want wrapping %v", err, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink error not reported")
	}
}

func TestOutput_RunRejectsTinyTick(t *testing.T) {
	t.Parallel()
	o := NewOutput(1000, nil, WithTick(100*time.Microsecond))
	if err := o.Run(context.Background()); err == nil {
		t.Error("expected error for tick shorter than one frame")
	}
}
