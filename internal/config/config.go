// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for wolfa.
package config

import "log/slog"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Provider names understood by [NewDefaultRegistry].
const (
	ProviderGeminiLive     = "gemini-live"
	ProviderGenAILive      = "genai-live"
	ProviderOpenAIRealtime = "openai-realtime"
)

// Output backends for [PlaybackConfig.Backend].
const (
	BackendFFplay = "ffplay"
	BackendNone   = "none"
)

// Config is the root configuration structure for wolfa.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderEntry    `yaml:"provider"`
	Persona    PersonaConfig    `yaml:"persona"`
	Audio      AudioConfig      `yaml:"audio"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds the HTTP surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the state, health and metrics
	// endpoints (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry selects and configures the remote voice model. The Name
// field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "gemini-live", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey is the authentication key. When empty, [ApplyDefaults] reads
	// it from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`
}

// PersonaConfig describes who the model is.
type PersonaConfig struct {
	// Name labels the model in the console (e.g., "WOLFA").
	Name string `yaml:"name"`

	// Voice is the provider voice name (e.g., "Fenrir").
	Voice string `yaml:"voice"`

	// Instructions is the system instruction sent at session setup.
	Instructions string `yaml:"instructions"`

	// SpeakFirst sends a short silent chunk right after the session opens
	// so the model greets the user. Defaults to true.
	SpeakFirst *bool `yaml:"speak_first"`
}

// AudioConfig groups the device and meter settings.
type AudioConfig struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Meter    MeterConfig    `yaml:"meter"`
}

// CaptureConfig configures the microphone.
type CaptureConfig struct {
	// SampleRate of captured frames. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per frame. Default 512.
	FrameSize int `yaml:"frame_size"`

	// FFmpegPath is the ffmpeg binary. Default "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// InputFormat is the ffmpeg demuxer. Empty selects the OS default.
	InputFormat string `yaml:"input_format"`

	// InputDevice is the ffmpeg input. Empty selects the OS default.
	InputDevice string `yaml:"input_device"`

	// QueueSize is the outbound frame queue depth. Default 32.
	QueueSize int `yaml:"queue_size"`
}

// PlaybackConfig configures the speaker.
type PlaybackConfig struct {
	// SampleRate of the output clock. Default 24000.
	SampleRate int `yaml:"sample_rate"`

	// Backend is "ffplay" or "none". Default "ffplay".
	Backend string `yaml:"backend"`

	// FFplayPath is the ffplay binary. Default "ffplay".
	FFplayPath string `yaml:"ffplay_path"`

	// Volume in the range 0-100. Zero keeps ffplay's default.
	Volume int `yaml:"volume"`

	// TickMS is the render period in milliseconds. Default 20.
	TickMS int `yaml:"tick_ms"`
}

// MeterConfig configures the microphone loudness meter.
type MeterConfig struct {
	// DeadZone is the RMS at or below which intensity is zero.
	DeadZone float64 `yaml:"dead_zone"`

	// Gain scales RMS above the dead zone.
	Gain float64 `yaml:"gain"`
}

// TranscriptConfig configures transcript history.
type TranscriptConfig struct {
	// HistoryLimit keeps at most this many turns. Zero keeps all.
	HistoryLimit int `yaml:"history_limit"`
}

// SpeaksFirst reports whether the model should greet the user.
func (p PersonaConfig) SpeaksFirst() bool {
	return p.SpeakFirst == nil || *p.SpeakFirst
}
