package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// DefaultStartTimeout bounds how long OpenMicrophone waits for the first frame.
const DefaultStartTimeout = 3 * time.Second

// MicrophoneConfig configures an ffmpeg microphone capture.
type MicrophoneConfig struct {
	// Path is the ffmpeg binary. Defaults to "ffmpeg".
	Path string

	// InputFormat is the ffmpeg demuxer (-f), e.g. "pulse", "alsa",
	// "avfoundation" or "dshow". Defaults per OS.
	InputFormat string

	// InputDevice is the ffmpeg input (-i), e.g. "default" or ":0".
	InputDevice string

	// SampleRate of delivered frames.
	SampleRate int

	// FrameSize is the number of samples per delivered frame.
	FrameSize int

	// StartTimeout bounds the wait for the first frame. Defaults to
	// [DefaultStartTimeout].
	StartTimeout time.Duration

	// OnError receives the error that ends capture after a successful start.
	OnError func(error)
}

func (cfg *MicrophoneConfig) applyDefaults() {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.InputFormat == "" || cfg.InputDevice == "" {
		format, device := defaultInput(runtime.GOOS)
		if cfg.InputFormat == "" {
			cfg.InputFormat = format
		}
		if cfg.InputDevice == "" {
			cfg.InputDevice = device
		}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.CaptureSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 512
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
}

func defaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// ffmpegArgs builds the ffmpeg command line that converts the microphone to
// mono s16le on stdout.
func ffmpegArgs(cfg MicrophoneConfig) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", cfg.InputFormat, "-i", cfg.InputDevice,
		"-ac", "1", "-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le", "-",
	}
}

// Microphone captures audio through an ffmpeg subprocess and delivers it in
// fixed-size frames.
type Microphone struct {
	cfg    MicrophoneConfig
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	tap    atomic.Pointer[func([]float32)]
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// Compile-time check that *Microphone satisfies audio.Capture.
var _ audio.Capture = (*Microphone)(nil)

// OpenMicrophone starts ffmpeg and waits until the first frame arrives, so a
// missing or denied device is reported here rather than mid-session.
func OpenMicrophone(ctx context.Context, cfg MicrophoneConfig) (*Microphone, error) {
	cfg.applyDefaults()

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("device: microphone: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	cmd := exec.Command(path, ffmpegArgs(cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("device: microphone: stdout: %w", err)
	}
	m := &Microphone{
		cfg:    cfg,
		cmd:    cmd,
		stdout: stdout,
		stderr: &tailBuffer{max: 2048},
		done:   make(chan struct{}),
	}
	cmd.Stderr = m.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("device: microphone: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	ready := make(chan struct{})
	go m.read(ready)

	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		slog.Debug("device microphone: capturing",
			"format", cfg.InputFormat,
			"device", cfg.InputDevice,
			"sample_rate", cfg.SampleRate,
		)
		return m, nil
	case <-m.done:
		_ = m.Close()
		return nil, fmt.Errorf("device: microphone: %w: ffmpeg exited: %s",
			audio.ErrDeviceUnavailable, m.stderr.String())
	case <-timer.C:
		_ = m.Close()
		return nil, fmt.Errorf("device: microphone: %w: no audio within %v",
			audio.ErrDeviceUnavailable, cfg.StartTimeout)
	case <-ctx.Done():
		_ = m.Close()
		return nil, fmt.Errorf("device: microphone: %w", ctx.Err())
	}
}

// read frames stdout until EOF. ready is closed after the first full frame.
func (m *Microphone) read(ready chan struct{}) {
	defer close(m.done)

	raw := make([]byte, m.cfg.FrameSize*2)
	first := true
	for {
		if _, err := io.ReadFull(m.stdout, raw); err != nil {
			if m.closed.Load() {
				return
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			err = fmt.Errorf("device: microphone: read: %w (%s)", err, m.stderr.String())
			if !first {
				slog.Error("device microphone: capture stopped", "err", err)
				if m.cfg.OnError != nil {
					m.cfg.OnError(err)
				}
			}
			return
		}
		if first {
			first = false
			close(ready)
		}

		fn := m.tap.Load()
		if fn == nil {
			continue
		}
		buf, err := audio.DecodePCM(raw, m.cfg.SampleRate, 1)
		if err != nil {
			continue
		}
		(*fn)(buf.Channels[0])
	}
}

// Format implements [audio.Capture].
func (m *Microphone) Format() audio.Format {
	return audio.Format{SampleRate: m.cfg.SampleRate, Channels: 1}
}

// Tap implements [audio.Capture].
func (m *Microphone) Tap(fn func(samples []float32)) {
	if fn == nil {
		m.tap.Store(nil)
		return
	}
	m.tap.Store(&fn)
}

// Disconnect implements [audio.Capture].
func (m *Microphone) Disconnect() { m.tap.Store(nil) }

// Close implements [audio.Capture]. It kills ffmpeg and waits for the reader
// goroutine to exit.
func (m *Microphone) Close() error {
	m.once.Do(func() {
		m.closed.Store(true)
		m.tap.Store(nil)
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		_ = m.stdout.Close()
		<-m.done
		_ = m.cmd.Wait()
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
