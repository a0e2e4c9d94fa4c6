package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Placeholder stands in for the side of a turn that produced no text.
const Placeholder = "..."

// Turn is one completed exchange.
type Turn struct {
	ID          uuid.UUID
	User        string
	Model       string
	CompletedAt time.Time
}

// Transcript accumulates transcription fragments and flushes them into
// history on turn completion. It is owned by the session loop and not safe
// for concurrent use.
type Transcript struct {
	user    strings.Builder
	model   strings.Builder
	history []Turn
	limit   int
	now     func() time.Time
}

// NewTranscript returns a Transcript keeping at most limit turns. A limit of
// zero or less keeps every turn.
func NewTranscript(limit int) *Transcript {
	return &Transcript{limit: limit, now: time.Now}
}

// SetLimit changes the history limit. Excess turns are dropped on the next
// Flush.
func (t *Transcript) SetLimit(limit int) { t.limit = limit }

// AddUser appends a fragment of the user's speech.
func (t *Transcript) AddUser(text string) { t.user.WriteString(text) }

// AddModel appends a fragment of the model's speech or text.
func (t *Transcript) AddModel(text string) { t.model.WriteString(text) }

// Pending returns the accumulated, not yet flushed text.
func (t *Transcript) Pending() (user, model string) {
	return t.user.String(), t.model.String()
}

// Flush completes the current turn. If both accumulators are empty nothing
// is recorded and ok is false. Otherwise an empty side is replaced by
// [Placeholder], the turn is appended to history and both accumulators are
// reset.
func (t *Transcript) Flush() (turn Turn, ok bool) {
	user, model := t.Pending()
	if user == "" && model == "" {
		return Turn{}, false
	}
	if user == "" {
		user = Placeholder
	}
	if model == "" {
		model = Placeholder
	}
	turn = Turn{ID: uuid.New(), User: user, Model: model, CompletedAt: t.now()}
	t.history = append(t.history, turn)
	if t.limit > 0 && len(t.history) > t.limit {
		t.history = append(t.history[:0:0], t.history[len(t.history)-t.limit:]...)
	}
	t.Reset()
	return turn, true
}

// Reset discards the accumulators. History is kept.
func (t *Transcript) Reset() {
	t.user.Reset()
	t.model.Reset()
}

// History returns a copy of the completed turns, oldest first.
func (t *Transcript) History() []Turn {
	return append([]Turn(nil), t.history...)
}

// Latest returns the newest completed turn.
func (t *Transcript) Latest() (Turn, bool) {
	if len(t.history) == 0 {
		return Turn{}, false
	}
	return t.history[len(t.history)-1], true
}
