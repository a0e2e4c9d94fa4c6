package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known remote providers. Used by [Validate]
// to warn about unrecognised provider names.
var ValidProviderNames = []string{ProviderGeminiLive, ProviderGenAILive, ProviderOpenAIRealtime}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty and no key was found in the environment; sessions will fail with a permission error",
			"provider", cfg.Provider.Name,
		)
	}

	// Audio
	c := cfg.Audio.Capture
	if c.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate %d must be positive", c.SampleRate))
	} else if c.SampleRate != 0 && c.SampleRate != DefaultCaptureRate {
		slog.Warn("audio.capture.sample_rate differs from 16000; frames are resampled where the provider requires it",
			"sample_rate", c.SampleRate,
		)
	}
	if c.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.frame_size %d must be positive", c.FrameSize))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.capture.queue_size %d must be positive", c.QueueSize))
	}

	pb := cfg.Audio.Playback
	if pb.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback.sample_rate %d must be positive", pb.SampleRate))
	}
	switch pb.Backend {
	case "", BackendFFplay, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("audio.playback.backend %q is invalid; valid values: ffplay, none", pb.Backend))
	}
	if pb.Volume < 0 || pb.Volume > 100 {
		errs = append(errs, fmt.Errorf("audio.playback.volume %d is out of range [0, 100]", pb.Volume))
	}
	if pb.TickMS < 0 {
		errs = append(errs, fmt.Errorf("audio.playback.tick_ms %d must be positive", pb.TickMS))
	}

	m := cfg.Audio.Meter
	if m.DeadZone < 0 || m.DeadZone >= 1 {
		errs = append(errs, fmt.Errorf("audio.meter.dead_zone %.4f is out of range [0, 1)", m.DeadZone))
	}
	if m.Gain < 0 {
		errs = append(errs, fmt.Errorf("audio.meter.gain %.2f must not be negative", m.Gain))
	}

	// Transcript
	if cfg.Transcript.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("transcript.history_limit %d must not be negative", cfg.Transcript.HistoryLimit))
	}

	return errors.Join(errs...)
}
