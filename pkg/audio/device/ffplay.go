package device

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// SpeakerConfig configures an ffplay speaker sink.
type SpeakerConfig struct {
	// Path is the ffplay binary. Defaults to "ffplay".
	Path string

	// SampleRate of the s16le stream written to ffplay's stdin.
	SampleRate int

	// Volume in the range 0-100. Zero uses ffplay's default.
	Volume int

	// LogLevel passed to ffplay. Defaults to "error".
	LogLevel string
}

// Speaker writes mono s16le PCM to an ffplay subprocess.
type Speaker struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan struct{}
}

// Compile-time check that *Speaker satisfies io.WriteCloser.
var _ io.WriteCloser = (*Speaker)(nil)

// ffplayArgs builds the ffplay command line for a raw mono PCM stdin stream.
// ffplay does not accept ffmpeg-style -ac; it needs -ch_layout.
func ffplayArgs(cfg SpeakerConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", cfg.LogLevel,
		"-nostats",
		"-nodisp",
	}
	if cfg.Volume > 0 {
		args = append(args, "-volume", strconv.Itoa(cfg.Volume))
	}
	return append(args,
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-i", "-",
	)
}

// OpenSpeaker starts ffplay reading PCM from stdin.
func OpenSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if cfg.Path == "" {
		cfg.Path = "ffplay"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "error"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.PlaybackSampleRate
	}

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("device: speaker: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	cmd := exec.Command(path, ffplayArgs(cfg)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may pick a dummy backend on macOS.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("device: speaker: stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("device: speaker: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	s := &Speaker{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

// Write sends PCM to ffplay.
func (s *Speaker) Write(p []byte) (int, error) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return 0, fmt.Errorf("device: speaker: %w", io.ErrClosedPipe)
	}
	select {
	case <-s.done:
		return 0, fmt.Errorf("device: speaker: ffplay exited")
	default:
	}
	return stdin.Write(p)
}

// Close stops ffplay. Close is idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	stdin, cmd := s.stdin, s.cmd
	s.stdin, s.cmd = nil, nil
	s.mu.Unlock()

	if stdin == nil {
		return nil
	}
	_ = stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-s.done
	return nil
}
