// Package playback schedules decoded model speech onto an output device for
// gapless, interruptible playback.
//
// A [Scheduler] keeps a running cursor on the device clock. Every enqueued
// buffer starts exactly where the previous one ends (or now, if the queue
// has drained), so consecutive chunks play back to back without gaps or
// overlap. [Scheduler.Interrupt] silences everything in flight and resets the
// cursor so the next utterance starts from a clean state.
//
// A Scheduler is not safe for concurrent use. It is meant to be owned by a
// single goroutine (the session event loop); completion notifications from
// the device are marshalled onto that goroutine through the post function
// supplied with [WithPost].
package playback

import (
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// Output is the device capability the scheduler needs: start a buffer at a
// given point on the device clock. onEnded is invoked (from any goroutine)
// only when the buffer plays out naturally, never after Stop.
type Output interface {
	Play(buf *audio.Buffer, at time.Duration, onEnded func()) audio.Voice
}

// Handle identifies one scheduled buffer.
type Handle struct {
	voice audio.Voice
	start time.Duration
	end   time.Duration
}

// Start returns the device time at which the buffer begins playing.
func (h *Handle) Start() time.Duration { return h.start }

// End returns the device time at which the buffer finishes playing.
func (h *Handle) End() time.Duration { return h.end }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithPost sets the function used to deliver completion notifications back to
// the scheduler's owning goroutine. The default runs them inline, which is
// only correct when the output reports completion on the owner's goroutine.
func WithPost(post func(func())) Option {
	return func(s *Scheduler) { s.post = post }
}

// WithIntensityFunc registers fn to be called whenever the speaking intensity
// changes: 1 when the first buffer becomes active, 0 the moment the active set
// empties.
func WithIntensityFunc(fn func(float64)) Option {
	return func(s *Scheduler) { s.onIntensity = fn }
}

// Scheduler owns the playback cursor and the set of active voices.
type Scheduler struct {
	out         Output
	post        func(func())
	onIntensity func(float64)

	cursor time.Duration
	active map[*Handle]struct{}
}

// New creates a Scheduler that plays buffers on out.
func New(out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		post:   func(fn func()) { fn() },
		active: make(map[*Handle]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf to start at max(cursor, now) and advances the cursor
// by its duration. now is the current device time. If the device clock moved
// past that point before the buffer reached it, the device's start wins and
// the cursor follows it.
func (s *Scheduler) Enqueue(buf *audio.Buffer, now time.Duration) *Handle {
	startAt := max(s.cursor, now)
	h := &Handle{}

	wasIdle := len(s.active) == 0
	s.active[h] = struct{}{}
	h.voice = s.out.Play(buf, startAt, func() {
		s.post(func() { s.finished(h) })
	})
	h.start = max(startAt, h.voice.Start())
	h.end = h.start + buf.Duration()
	s.cursor = h.end

	if wasIdle {
		s.setIntensity(1)
	}
	return h
}

// finished removes h after natural completion. Handles already dropped by
// Interrupt are ignored.
func (s *Scheduler) finished(h *Handle) {
	if _, ok := s.active[h]; !ok {
		return
	}
	delete(s.active, h)
	if len(s.active) == 0 {
		s.setIntensity(0)
	}
}

// Interrupt stops every active voice, clears the active set and resets the
// cursor to zero. It is idempotent.
func (s *Scheduler) Interrupt() {
	wasActive := len(s.active) > 0
	for h := range s.active {
		if h.voice != nil {
			h.voice.Stop()
		}
	}
	clear(s.active)
	s.cursor = 0
	if wasActive {
		s.setIntensity(0)
	}
}

// Cursor returns the earliest device time at which the next buffer may start.
func (s *Scheduler) Cursor() time.Duration { return s.cursor }

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int { return len(s.active) }

// Intensity returns 1 while any buffer is active and 0 otherwise.
func (s *Scheduler) Intensity() float64 {
	if len(s.active) > 0 {
		return 1
	}
	return 0
}

func (s *Scheduler) setIntensity(v float64) {
	if s.onIntensity != nil {
		s.onIntensity(v)
	}
}
