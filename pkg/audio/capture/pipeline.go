// Package capture turns microphone frames into outbound audio chunks.
//
// A [Pipeline] taps an [audio.Capture], measures the loudness of every frame
// for display, encodes the frame and queues it for a writer goroutine that
// hands it to a [Sender]. The capture callback never blocks: when the queue is
// full the frame is dropped and counted.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/wolfa/pkg/audio"
)

const (
	// DefaultFrameSize is the number of samples per capture frame.
	DefaultFrameSize = 512

	// DefaultQueueSize is the outbound queue depth. At 16 kHz and 512-sample
	// frames this covers about a second of audio.
	DefaultQueueSize = 32
)

// greetingData is two zero samples. Sending it right after the session opens
// prompts the model to speak first.
const greetingData = "AAAA"

// Sender accepts encoded chunks. [s2s.SessionHandle] satisfies it.
type Sender interface {
	SendAudio(chunk audio.Chunk) error
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Frames     int64
	Sent       int64
	Dropped    int64
	SendErrors int64
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithMeter sets the loudness meter. The default is [audio.DefaultMeter].
func WithMeter(m audio.Meter) Option {
	return func(p *Pipeline) { p.meter = m }
}

// WithQueueSize sets the outbound queue depth. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithIntensityFunc registers fn to receive the display intensity of every
// frame. fn runs on the capture goroutine and must not block.
func WithIntensityFunc(fn func(float64)) Option {
	return func(p *Pipeline) { p.onIntensity = fn }
}

// WithSendErrorFunc registers fn to observe failed sends. fn runs on the
// writer goroutine.
func WithSendErrorFunc(fn func(error)) Option {
	return func(p *Pipeline) { p.onSendError = fn }
}

// Pipeline streams microphone frames to a Sender.
//
// Start, Kick and Stop are safe for concurrent use.
type Pipeline struct {
	capture     audio.Capture
	sender      Sender
	meter       audio.Meter
	queueSize   int
	onIntensity func(float64)
	onSendError func(error)

	queue chan audio.Chunk
	stop  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool

	frames     atomic.Int64
	sent       atomic.Int64
	dropped    atomic.Int64
	sendErrors atomic.Int64

	dropWarn sync.Once
	sendWarn sync.Once
}

// New creates a Pipeline reading from c and writing to s. The pipeline does
// not tap the capture until [Pipeline.Start] is called.
func New(c audio.Capture, s Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		capture:   c,
		sender:    s,
		meter:     audio.DefaultMeter(),
		queueSize: DefaultQueueSize,
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.queue = make(chan audio.Chunk, p.queueSize)
	return p
}

// Start launches the writer goroutine and taps the capture. It is a no-op if
// the pipeline was already started or stopped.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	go p.writeLoop()
	p.capture.Tap(p.handleFrame)
}

// Kick queues the greeting chunk. It reports whether the chunk was queued.
func (p *Pipeline) Kick() bool {
	return p.offer(audio.Chunk{
		MIMEType: audio.PCMMIMEType(p.capture.Format().SampleRate),
		Data:     greetingData,
	})
}

// Stop disconnects the tap, closes the capture device and stops the writer,
// in that order. Queued chunks that were not sent yet are discarded. Stop
// does not wait for a send already in flight; no further send starts once it
// returns, and closing the sender unblocks the one in flight. Stop is
// idempotent and works on a pipeline that was never started; it returns the
// capture's close error from the first call.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.capture.Disconnect()
	err := p.capture.Close()
	close(p.stop)
	return err
}

// Stats returns the current counters. Sent and SendErrors may still move by
// one after Stop while an in-flight send finishes.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:     p.frames.Load(),
		Sent:       p.sent.Load(),
		Dropped:    p.dropped.Load(),
		SendErrors: p.sendErrors.Load(),
	}
}

// handleFrame runs on the capture goroutine.
func (p *Pipeline) handleFrame(samples []float32) {
	p.frames.Add(1)
	if p.onIntensity != nil {
		p.onIntensity(p.meter.Measure(samples))
	}
	p.offer(audio.EncodeFrame(samples, p.capture.Format().SampleRate))
}

// offer queues chunk without blocking.
func (p *Pipeline) offer(chunk audio.Chunk) bool {
	select {
	case <-p.stop:
		return false
	default:
	}
	select {
	case p.queue <- chunk:
		return true
	default:
		p.dropped.Add(1)
		p.dropWarn.Do(func() {
			slog.Warn("capture: outbound queue full, dropping frames", "queue_size", p.queueSize)
		})
		return false
	}
}

// writeLoop drains the queue into the sender until Stop.
func (p *Pipeline) writeLoop() {
	for {
		select {
		case <-p.stop:
			return
		case chunk := <-p.queue:
			// A Stop that raced the receive wins.
			select {
			case <-p.stop:
				return
			default:
			}
			if err := p.sender.SendAudio(chunk); err != nil {
				p.sendErrors.Add(1)
				p.sendWarn.Do(func() {
					slog.Warn("capture: failed to send audio", "err", err)
				})
				slog.Debug("capture: send failed", "err", err)
				if p.onSendError != nil {
					p.onSendError(err)
				}
				continue
			}
			p.sent.Add(1)
		}
	}
}
