// Package session runs one real-time voice conversation at a time.
//
// A [Session] owns the whole lifecycle: it opens the microphone, the speaker
// and the remote model session, streams captured frames out, schedules
// inbound speech for gapless playback, flushes playback on barge-in and
// records the transcript. All mutable state belongs to a single event-loop
// goroutine ([Session.Run]). Provider callbacks, playback completions and
// user commands are posted to it as closures, so no field below the loop
// marker needs a lock.
//
// Status moves Idle → Connecting → Connected and ends in Idle (local stop),
// Closed (remote close) or Error (any failure). Every exit runs the same
// teardown, which is idempotent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/wolfa/internal/observe"
	"github.com/MrWong99/wolfa/internal/ui"
	"github.com/MrWong99/wolfa/pkg/audio"
	"github.com/MrWong99/wolfa/pkg/audio/capture"
	"github.com/MrWong99/wolfa/pkg/audio/playback"
	"github.com/MrWong99/wolfa/pkg/provider/s2s"
)

var (
	// ErrNotResting is returned by Start while a session is connecting or
	// connected.
	ErrNotResting = errors.New("session: a session is already active")

	// ErrNotRunning is returned when the event loop is not running.
	ErrNotRunning = errors.New("session: event loop not running")

	// ErrSetupTimeout reports that the remote never acknowledged the setup.
	ErrSetupTimeout = errors.New("session: remote did not acknowledge setup")
)

const (
	// DefaultConnectTimeout bounds device start, dial and setup.
	DefaultConnectTimeout = 30 * time.Second

	eventQueueSize = 1024
)

// Config controls a Session.
type Config struct {
	// Remote is sent to the provider on every connect.
	Remote s2s.SessionConfig

	// Meter maps microphone loudness to display intensity.
	Meter audio.Meter

	// QueueSize is the outbound microphone queue depth.
	QueueSize int

	// HistoryLimit keeps at most this many transcript turns. Zero keeps all.
	HistoryLimit int

	// ConnectTimeout bounds the time from Start to the remote's setup
	// acknowledgement. Zero selects DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// Greeting sends one short silent chunk right after the session opens
	// so the model speaks first.
	Greeting bool
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Meter == (audio.Meter{}) {
		c.Meter = audio.DefaultMeter()
	}
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithStore sets the presentation store. The default is a private store.
func WithStore(st *ui.Store) Option {
	return func(s *Session) { s.store = st }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// resources are the handles of one connected session.
type resources struct {
	capture   audio.Capture
	output    audio.Output
	remote    s2s.SessionHandle
	pipeline  *capture.Pipeline
	scheduler *playback.Scheduler
}

// Session is the voice session state machine.
type Session struct {
	platform audio.Platform
	provider s2s.Provider
	cfg      Config
	store    *ui.Store
	metrics  *observe.Metrics

	events  chan func()
	done    chan struct{}
	running atomic.Bool

	decodeErrors atomic.Int64

	// Owned by the event loop.
	runCtx     context.Context
	closing    bool
	setupTimer *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
	status     ui.Status
	gen        uint64
	res        *resources
	opened     bool
	connected  bool
	startedAt  time.Time
	transcript *Transcript
	converter  *audio.RateConverter
}

// New creates a Session that opens devices on platform and talks to
// provider. Call [Session.Run] to start the event loop.
func New(platform audio.Platform, provider s2s.Provider, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		platform:   platform,
		provider:   provider,
		cfg:        cfg,
		events:     make(chan func(), eventQueueSize),
		done:       make(chan struct{}),
		transcript: NewTranscript(cfg.HistoryLimit),
		runCtx:     context.Background(),
		ctx:        context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = ui.NewStore()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Store returns the presentation store the session writes to.
func (s *Session) Store() *ui.Store { return s.store }

// DecodeErrors returns the number of inbound audio payloads skipped because
// they could not be decoded.
func (s *Session) DecodeErrors() int64 { return s.decodeErrors.Load() }

// Run processes events until ctx ends, then tears the session down. Run may
// be called only once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session: Run called twice")
	}

	s.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.events:
			fn()
		}
	}
}

// shutdown ends any session and runs what is still queued so that resources
// handed over by an in-flight connect are released.
func (s *Session) shutdown() {
	s.closing = true
	if s.res != nil || s.status == ui.StatusConnecting {
		s.endSession("shutdown")
		s.setStatus(ui.StatusIdle)
	}
	close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		default:
			return
		}
	}
}

// Start begins connecting. It returns [ErrNotResting] unless the session is
// Idle, Closed or in Error.
func (s *Session) Start() error {
	return s.call(s.start)
}

// Stop tears the session down and returns to Idle. It is safe in any state.
func (s *Session) Stop() error {
	return s.call(func() error {
		s.stop()
		return nil
	})
}

// Reconfigure replaces the session settings. A running session keeps its
// settings; the new ones apply from the next Start. The history limit
// applies from the next completed turn.
func (s *Session) Reconfigure(cfg Config) error {
	cfg.applyDefaults()
	return s.call(func() error {
		s.cfg = cfg
		s.transcript.SetLimit(cfg.HistoryLimit)
		return nil
	})
}

// DeviceFailed reports that an open microphone or speaker stopped. An
// active session fails with a device error; otherwise the report is
// dropped. It may be called from any goroutine.
func (s *Session) DeviceFailed(err error) {
	s.post(func() {
		if s.res == nil {
			return
		}
		s.fail(fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err))
	})
}

// Status returns the current status.
func (s *Session) Status() ui.Status { return s.store.Status() }

// History returns the completed transcript turns, oldest first.
func (s *Session) History() ([]Turn, error) {
	var h []Turn
	err := s.call(func() error {
		h = s.transcript.History()
		return nil
	})
	return h, err
}

// post queues fn on the event loop. It reports false once the loop exited.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the event loop and waits for its result.
func (s *Session) call(fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return ErrNotRunning
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrNotRunning
	}
}

// postGen returns a post function whose closures are dropped once the
// session generation gen has ended.
func (s *Session) postGen(gen uint64) func(func()) {
	return func(fn func()) {
		s.post(func() {
			if s.gen == gen {
				fn()
			}
		})
	}
}

func (s *Session) setStatus(st ui.Status) {
	s.status = st
	s.store.SetStatus(st)
}

func (s *Session) start() error {
	if s.closing {
		return ErrNotRunning
	}
	if !s.status.IsResting() {
		return fmt.Errorf("%w (status %s)", ErrNotResting, s.status)
	}
	s.teardown()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithSessionID(s.runCtx, id))
	s.ctx, s.cancel = ctx, cancel
	s.startedAt = time.Now()
	s.transcript.Reset()

	s.store.SetError(nil)
	s.store.ClearTranscript()
	s.setStatus(ui.StatusConnecting)
	s.metrics.SessionStarts.Add(ctx, 1)
	observe.Logger(ctx).Info("session: connecting")

	gen := s.gen
	s.setupTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		s.postGen(gen)(func() {
			if s.status == ui.StatusConnecting {
				s.fail(ErrSetupTimeout)
			}
		})
	})
	go s.connect(ctx, gen)
	return nil
}

// connect acquires devices and the remote session off the loop. On success
// it hands the resources to the loop; on failure it releases what it got.
func (s *Session) connect(ctx context.Context, gen uint64) {
	ctx, span := observe.StartSpan(ctx, "session.connect")
	defer span.End()

	res := &resources{}
	failed := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.release(ctx, res)
		s.post(func() {
			if s.gen == gen {
				s.fail(err)
			}
		})
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	c, err := s.platform.OpenCapture(dialCtx)
	if err != nil {
		failed(fmt.Errorf("session: open capture: %w", err))
		return
	}
	res.capture = c

	out, err := s.platform.OpenOutput(dialCtx)
	if err != nil {
		failed(fmt.Errorf("session: open output: %w", err))
		return
	}
	res.output = out

	remote, err := s.provider.Connect(dialCtx, s.cfg.Remote, s.handlers(gen))
	if err != nil {
		failed(fmt.Errorf("session: connect: %w", err))
		return
	}
	res.remote = remote
	span.SetAttributes(
		attribute.Int("capture.sample_rate", c.Format().SampleRate),
		attribute.Int("output.sample_rate", out.SampleRate()),
	)

	if !s.post(func() { s.attach(gen, res) }) {
		s.release(ctx, res)
	}
}

// handlers routes provider callbacks onto the loop for generation gen.
func (s *Session) handlers(gen uint64) s2s.Handlers {
	post := s.postGen(gen)
	return s2s.Handlers{
		OnOpen:    func() { post(s.onOpen) },
		OnMessage: func(m s2s.Message) { post(func() { s.onMessage(m) }) },
		OnError:   func(err error) { post(func() { s.fail(err) }) },
		OnClose:   func(reason string) { post(func() { s.onRemoteClose(reason) }) },
	}
}

// attach installs the resources of a finished connect.
func (s *Session) attach(gen uint64, res *resources) {
	if gen != s.gen || s.status != ui.StatusConnecting {
		observe.Logger(s.ctx).Debug("session: discarding resources of an abandoned connect")
		s.release(s.ctx, res)
		return
	}

	res.scheduler = playback.New(res.output,
		playback.WithPost(s.postGen(gen)),
		playback.WithIntensityFunc(s.store.SetModelIntensity),
	)
	res.pipeline = capture.New(res.capture, res.remote,
		capture.WithMeter(s.cfg.Meter),
		capture.WithQueueSize(s.cfg.QueueSize),
		capture.WithIntensityFunc(s.store.SetInputIntensity),
	)
	s.converter = &audio.RateConverter{Target: res.output.SampleRate()}
	s.res = res

	if s.opened {
		s.activate()
	}
}

func (s *Session) onOpen() {
	s.opened = true
	if s.res != nil && s.status == ui.StatusConnecting {
		s.activate()
	}
}

// activate starts streaming once both the resources and the remote's setup
// acknowledgement are in.
func (s *Session) activate() {
	s.stopSetupTimer()
	s.setStatus(ui.StatusConnected)
	s.connected = true
	s.res.pipeline.Start()
	if s.cfg.Greeting {
		s.res.pipeline.Kick()
	}

	elapsed := time.Since(s.startedAt)
	s.metrics.ConnectDuration.Record(s.ctx, elapsed.Seconds())
	s.metrics.ActiveSessions.Add(s.ctx, 1)
	observe.Logger(s.ctx).Info("session: connected", "elapsed", elapsed)
}

func (s *Session) onMessage(m s2s.Message) {
	if s.res == nil {
		observe.Logger(s.ctx).Debug("session: message before resources attached, dropping")
		return
	}

	if m.Interrupted {
		s.res.scheduler.Interrupt()
		s.converter.Reset()
		s.store.SetModelIntensity(0)
		s.metrics.Interruptions.Add(s.ctx, 1)
		observe.Logger(s.ctx).Debug("session: interrupted, playback flushed")
		return
	}

	for _, part := range m.Audio {
		s.play(part)
	}
	// Text parts are the model's own words. Output transcription stands in
	// only when a message carries none, so providers that send both do not
	// duplicate the turn.
	if len(m.Text) > 0 {
		for _, text := range m.Text {
			s.transcript.AddModel(text)
		}
	} else {
		s.transcript.AddModel(m.OutputTranscript)
	}
	s.transcript.AddUser(m.InputTranscript)

	if m.TurnComplete {
		if turn, ok := s.transcript.Flush(); ok {
			s.store.SetTranscript(turn.User, turn.Model)
			s.metrics.Turns.Add(s.ctx, 1)
			observe.Logger(s.ctx).Debug("session: turn complete", "turn_id", turn.ID, "user", turn.User, "model", turn.Model)
		}
	}
}

// play decodes one inline payload and schedules it after everything already
// queued. Undecodable payloads are skipped.
func (s *Session) play(part s2s.AudioPart) {
	pcm, err := audio.DecodeBase64(part.Data)
	if err != nil {
		s.decodeErrors.Add(1)
		s.metrics.DecodeErrors.Add(s.ctx, 1)
		observe.Logger(s.ctx).Warn("session: skipping undecodable audio chunk",
			"category", CategoryDecode, "mime_type", part.MIMEType, "err", err)
		return
	}

	rate, ok := audio.ParseRate(part.MIMEType)
	if !ok {
		rate = audio.PlaybackSampleRate
	}
	pcm = s.converter.Convert(pcm, rate)

	out := s.res.output
	buf, err := audio.DecodePCM(pcm, out.SampleRate(), 1)
	if err != nil {
		s.decodeErrors.Add(1)
		s.metrics.DecodeErrors.Add(s.ctx, 1)
		observe.Logger(s.ctx).Warn("session: skipping audio chunk", "err", err)
		return
	}
	if buf.Frames() == 0 {
		return
	}
	s.res.scheduler.Enqueue(buf, out.Now())
	s.metrics.AudioChunksIn.Add(s.ctx, 1)
}

// fail tears down and lands in Error with a categorized message.
func (s *Session) fail(err error) {
	e := newError(err)
	observe.Logger(s.ctx).Error("session: failed", "category", e.Category, "err", err)
	s.metrics.RecordSessionError(s.ctx, e.Category.String())
	s.endSession("error")
	s.setStatus(ui.StatusError)
	s.store.SetError(&ui.ErrorInfo{
		Category: e.Category.String(),
		Message:  e.Message(),
		Detail:   err.Error(),
	})
}

func (s *Session) onRemoteClose(reason string) {
	observe.Logger(s.ctx).Info("session: closed by remote", "reason", reason)
	s.endSession("remote_close")
	s.setStatus(ui.StatusClosed)
}

func (s *Session) stop() {
	if s.res != nil || s.status == ui.StatusConnecting {
		observe.Logger(s.ctx).Info("session: stopped")
		s.endSession("stop")
	} else {
		s.teardown()
	}
	s.setStatus(ui.StatusIdle)
}

// endSession records the end of an active or connecting session and tears
// it down.
func (s *Session) endSession(reason string) {
	s.metrics.RecordSessionEnd(s.ctx, reason)
	s.teardown()
}

// teardown releases every resource and resets playback and meters. It is
// idempotent and invalidates all callbacks of the current generation.
func (s *Session) teardown() {
	s.gen++
	s.stopSetupTimer()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.res != nil {
		s.release(s.ctx, s.res)
		s.res = nil
	}
	if s.connected {
		s.metrics.ActiveSessions.Add(s.ctx, -1)
		s.connected = false
	}
	s.opened = false
	s.converter = nil
	s.transcript.Reset()
	s.store.SetInputIntensity(0)
	s.store.SetModelIntensity(0)
}

func (s *Session) stopSetupTimer() {
	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
}

// release closes res in order: capture tap, capture device, playback,
// output device, remote session. A failing step is logged and never blocks
// the rest.
func (s *Session) release(ctx context.Context, res *resources) {
	_, span := observe.StartSpan(ctx, "session.teardown")
	defer span.End()

	var errs []error
	switch {
	case res.pipeline != nil:
		if err := res.pipeline.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
		st := res.pipeline.Stats()
		s.metrics.AudioFramesOut.Add(ctx, st.Sent)
		s.metrics.AudioFramesDropped.Add(ctx, st.Dropped)
	case res.capture != nil:
		res.capture.Disconnect()
		if err := res.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close capture: %w", err))
		}
	}
	if res.scheduler != nil {
		res.scheduler.Interrupt()
	}
	if res.output != nil {
		if err := res.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	if res.remote != nil {
		if err := res.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close remote: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Warn("session: teardown incomplete", "err", err)
	}
}
