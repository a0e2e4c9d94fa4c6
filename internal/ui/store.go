package ui

import "sync"

// ErrorInfo is the content of the error panel.
type ErrorInfo struct {
	// Category names the failure class, e.g. "permission".
	Category string `json:"category"`

	// Message is the user-facing text.
	Message string `json:"message"`

	// Detail carries the underlying cause for diagnostics.
	Detail string `json:"detail,omitempty"`
}

// TranscriptLine is the one-line transcript display.
type TranscriptLine struct {
	User  string `json:"user"`
	Model string `json:"model"`
}

// Snapshot is a point-in-time copy of the presentation state.
type Snapshot struct {
	Status         Status          `json:"status"`
	InputIntensity float64         `json:"input_intensity"`
	ModelIntensity float64         `json:"model_intensity"`
	Transcript     *TranscriptLine `json:"transcript,omitempty"`
	Error          *ErrorInfo      `json:"error,omitempty"`
}

// CanStart reports whether the start control is enabled.
func (s Snapshot) CanStart() bool { return s.Status.IsResting() }

// CanStop reports whether the stop control is enabled.
func (s Snapshot) CanStop() bool { return s.Status == StatusConnected }

// Store is the concurrency-safe presentation state. The zero value is not
// usable; create one with [NewStore].
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[int]chan struct{}
	next int
}

// NewStore returns a Store in [StatusIdle].
func NewStore() *Store {
	return &Store{subs: make(map[int]chan struct{})}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.Transcript != nil {
		t := *snap.Transcript
		snap.Transcript = &t
	}
	if snap.Error != nil {
		e := *snap.Error
		snap.Error = &e
	}
	return snap
}

// Status returns the current status.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Status
}

// CanStart reports whether the start control is enabled.
func (s *Store) CanStart() bool { return s.Status().IsResting() }

// CanStop reports whether the stop control is enabled.
func (s *Store) CanStop() bool { return s.Status() == StatusConnected }

// SetStatus sets the connection status.
func (s *Store) SetStatus(st Status) {
	s.update(func(snap *Snapshot) bool {
		if snap.Status == st {
			return false
		}
		snap.Status = st
		return true
	})
}

// SetInputIntensity sets the microphone intensity.
func (s *Store) SetInputIntensity(v float64) {
	s.update(func(snap *Snapshot) bool {
		if snap.InputIntensity == v {
			return false
		}
		snap.InputIntensity = v
		return true
	})
}

// SetModelIntensity sets the model speech intensity.
func (s *Store) SetModelIntensity(v float64) {
	s.update(func(snap *Snapshot) bool {
		if snap.ModelIntensity == v {
			return false
		}
		snap.ModelIntensity = v
		return true
	})
}

// SetTranscript replaces the one-line transcript.
func (s *Store) SetTranscript(user, model string) {
	s.update(func(snap *Snapshot) bool {
		snap.Transcript = &TranscriptLine{User: user, Model: model}
		return true
	})
}

// ClearTranscript removes the transcript line.
func (s *Store) ClearTranscript() {
	s.update(func(snap *Snapshot) bool {
		if snap.Transcript == nil {
			return false
		}
		snap.Transcript = nil
		return true
	})
}

// SetError sets the error panel. A nil info clears it.
func (s *Store) SetError(info *ErrorInfo) {
	s.update(func(snap *Snapshot) bool {
		if info == nil {
			if snap.Error == nil {
				return false
			}
			snap.Error = nil
			return true
		}
		e := *info
		snap.Error = &e
		return true
	})
}

// Subscribe returns a channel that receives a value after every change and
// a cancel function that releases it. Notifications coalesce: a slow reader
// sees one pending signal, never a backlog, and must read the current
// Snapshot.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) update(fn func(*Snapshot) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !fn(&s.snap) {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
