package capture_test

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/audio/capture"
	"github.com/MrWong99/wolfa/pkg/audio/mock"
)

// chanSender forwards chunks to a channel and optionally blocks until
// released.
type chanSender struct {
	mu      sync.Mutex
	err     error
	release chan struct{}
	out     chan audio.Chunk
}

func newChanSender() *chanSender { return &chanSender{out: make(chan audio.Chunk, 64)} }

func (s *chanSender) SendAudio(c audio.Chunk) error {
	s.mu.Lock()
	release, err := s.release, s.err
	s.mu.Unlock()
	if release != nil {
		<-release
	}
	s.out <- c
	return err
}

func recv(t *testing.T, ch <-chan audio.Chunk) audio.Chunk {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for chunk")
		return audio.Chunk{}
	}
}

func TestPipeline_EncodesAndSendsFrames(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	s := newChanSender()
	var levels []float64
	p := capture.New(c, s, capture.WithIntensityFunc(func(v float64) { levels = append(levels, v) }))
	p.Start()
	defer p.Stop()

	if !c.Tapped() {
		t.Fatal("Start did not tap the capture")
	}

	frame := make([]float32, 4)
	for i := range frame {
		frame[i] = 0.5
	}
	c.Emit(frame)

	got := recv(t, s.out)
	want := audio.EncodeFrame(frame, audio.CaptureSampleRate)
	if got != want {
		t.Errorf("chunk = %+v; want %+v", got, want)
	}
	if got.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q", got.MIMEType)
	}
	if len(levels) != 1 || levels[0] != 6 {
		t.Errorf("intensity = %v; want [6]", levels)
	}
}

func TestPipeline_SilenceIsZeroIntensity(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	var levels []float64
	p := capture.New(c, newChanSender(),
		capture.WithMeter(audio.Meter{DeadZone: 0.01, Gain: 2}),
		capture.WithIntensityFunc(func(v float64) { levels = append(levels, v) }),
	)
	p.Start()
	defer p.Stop()

	c.Emit([]float32{0.005, -0.005})
	c.Emit([]float32{0.5, -0.5})
	if !slices.Equal(levels, []float64{0, 1}) {
		t.Errorf("levels = %v; want [0 1]", levels)
	}
}

func TestPipeline_FullQueueDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	s := newChanSender()
	s.release = make(chan struct{})
	p := capture.New(c, s, capture.WithQueueSize(2))
	p.Start()

	done := make(chan struct{})
	go func() {
		for range 10 {
			c.Emit([]float32{0.1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture callback blocked on a full queue")
	}

	st := p.Stats()
	if st.Frames != 10 {
		t.Errorf("Frames = %d; want 10", st.Frames)
	}
	// One chunk may be held by the blocked writer, two sit in the queue.
	if st.Dropped < 7 {
		t.Errorf("Dropped = %d; want at least 7", st.Dropped)
	}

	close(s.release)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPipeline_SendErrorsAreCounted(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	s := newChanSender()
	s.err = errors.New("link down")
	errCh := make(chan error, 1)
	p := capture.New(c, s, capture.WithSendErrorFunc(func(err error) { errCh <- err }))
	p.Start()
	defer p.Stop()

	c.Emit([]float32{0})
	recv(t, s.out)
	select {
	case err := <-errCh:
		if err.Error() != "link down" {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send error not reported")
	}
	if st := p.Stats(); st.SendErrors != 1 || st.Sent != 0 {
		t.Errorf("stats = %+v; want 1 send error", st)
	}
}

func TestPipeline_KickSendsGreeting(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	s := newChanSender()
	p := capture.New(c, s)
	p.Start()
	defer p.Stop()

	if !p.Kick() {
		t.Fatal("Kick was not queued")
	}
	got := recv(t, s.out)
	want := audio.Chunk{MIMEType: "audio/pcm;rate=16000", Data: "AAAA"}
	if got != want {
		t.Errorf("greeting = %+v; want %+v", got, want)
	}
	pcm, err := audio.DecodeBase64(got.Data)
	if err != nil || len(pcm) != 3 || slices.ContainsFunc(pcm, func(b byte) bool { return b != 0 }) {
		t.Errorf("greeting payload = %v, %v; want zero bytes", pcm, err)
	}
}

func TestPipeline_StopOrderAndIdempotence(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{CloseError: errors.New("busy")}
	p := capture.New(c, newChanSender())
	p.Start()

	if err := p.Stop(); err == nil || err.Error() != "busy" {
		t.Errorf("Stop = %v; want busy", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop = %v; want nil", err)
	}
	if got := c.CallsSnapshot(); !slices.Equal(got, []string{"tap", "disconnect", "close"}) {
		t.Errorf("calls = %v; want tap, disconnect, close", got)
	}
	if c.Emit([]float32{0}) {
		t.Error("frame delivered after Stop")
	}
	if p.Kick() {
		t.Error("Kick queued after Stop")
	}
}

// stuckSender holds every send until release is closed.
type stuckSender struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stuckSender) SendAudio(audio.Chunk) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestPipeline_StopDoesNotWaitForInFlightSend(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	s := &stuckSender{entered: make(chan struct{}, 4), release: make(chan struct{})}
	p := capture.New(c, s)
	p.Start()

	c.Emit([]float32{0.5})
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("send never started")
	}
	// Queued behind the stuck send; must be discarded.
	if !p.Kick() {
		t.Fatal("Kick not queued")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(time.Second):
		close(s.release)
		t.Fatal("Stop waited for the in-flight send")
	}

	close(s.release)
	select {
	case <-s.entered:
		t.Error("queued chunk sent after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_StopWithoutStartClosesDevice(t *testing.T) {
	t.Parallel()

	c := &mock.Capture{}
	p := capture.New(c, newChanSender())
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	p.Start()
	if got := c.CallsSnapshot(); !slices.Equal(got, []string{"disconnect", "close"}) {
		t.Errorf("calls = %v; want disconnect, close", got)
	}
}
