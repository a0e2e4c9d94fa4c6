package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is true if the persona name, voice, instructions or
	// greeting changed. It takes effect on the next session start.
	PersonaChanged bool

	// MeterChanged is true if the loudness meter settings changed.
	MeterChanged bool

	// HistoryLimitChanged is true if the transcript history limit changed.
	HistoryLimitChanged bool

	// RestartRequired lists the sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether d holds any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PersonaChanged || d.MeterChanged ||
		d.HistoryLimitChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Persona, new.Persona
	if op.Name != np.Name || op.Voice != np.Voice || op.Instructions != np.Instructions ||
		op.SpeaksFirst() != np.SpeaksFirst() {
		d.PersonaChanged = true
	}

	if old.Audio.Meter != new.Audio.Meter {
		d.MeterChanged = true
	}

	if old.Transcript.HistoryLimit != new.Transcript.HistoryLimit {
		d.HistoryLimitChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Provider != new.Provider {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	if old.Audio.Capture != new.Audio.Capture || old.Audio.Playback != new.Audio.Playback {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
