package scoring

import (
	"math"
	"sort"
	"time"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
)

// DefaultMaxSkew bounds how far a tick timestamp may run ahead of the room
// clock.
const DefaultMaxSkew = 5 * time.Second

type Config struct {
	Coefficient   float64
	MinConfidence float64
	MaxSkew       time.Duration
}

// Tick is one focus score sample from the external analysis service.
type Tick struct {
	ParticipantID string
	Score         float64
	Confidence    float64
	Timestamp     time.Time
}

func (t Tick) Validate() error {
	switch {
	case t.ParticipantID == "":
		return apperrors.Validation("participant_id", "required")
	case math.IsNaN(t.Score) || t.Score < 0 || t.Score > 100:
		return apperrors.Validationf("score", "must be within [0,100], got %v", t.Score)
	case math.IsNaN(t.Confidence) || t.Confidence < 0 || t.Confidence > 1:
		return apperrors.Validationf("confidence", "must be within [0,1], got %v", t.Confidence)
	case t.Timestamp.IsZero():
		return apperrors.Validation("timestamp", "required")
	}
	return nil
}

// Entry is a participant's cumulative score in the current competition.
type Entry struct {
	ParticipantID string
	Score         int64
	UpdatedAt     time.Time
	ReachedAt     time.Time // when Score was first reached
	LastTick      time.Time
}

type Reason string

const (
	Applied       Reason = "applied"
	NotScoring    Reason = "not_scoring"
	NotEligible   Reason = "not_eligible"
	LowConfidence Reason = "low_confidence"
	StaleTick     Reason = "stale_tick"
)

type Outcome struct {
	Reason Reason
	Delta  int64
	Entry  Entry
}

func (o Outcome) Applied() bool { return o.Reason == Applied }

// Aggregator turns ticks into additive score increments. Access is
// serialized by the room actor.
type Aggregator struct {
	cfg     Config
	entries map[string]*Entry
}

func NewAggregator(cfg Config) *Aggregator {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = DefaultMaxSkew
	}
	return &Aggregator{cfg: cfg, entries: make(map[string]*Entry)}
}

// Delta converts a raw score to its increment.
func (a *Aggregator) Delta(raw float64) int64 {
	return int64(math.Round(raw * a.cfg.Coefficient))
}

// Reset zeroes the board for a new competition.
func (a *Aggregator) Reset(participants []string, now time.Time) {
	a.entries = make(map[string]*Entry, len(participants))
	for _, id := range participants {
		a.entries[id] = &Entry{ParticipantID: id, UpdatedAt: now, ReachedAt: now}
	}
}

// Restore replaces the board with previously persisted entries.
func (a *Aggregator) Restore(entries []Entry) {
	a.entries = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		a.entries[e.ParticipantID] = &e
	}
}

// Ingest applies t when scoring is active and the participant is eligible.
// Ticks at or before the last applied timestamp are dropped, which keeps
// retransmissions idempotent and the cumulative score monotonic. A tick
// stamped more than MaxSkew past now is rejected.
func (a *Aggregator) Ingest(t Tick, now time.Time, scoring, eligible bool) (Outcome, error) {
	if err := t.Validate(); err != nil {
		return Outcome{}, err
	}
	if t.Timestamp.After(now.Add(a.cfg.MaxSkew)) {
		return Outcome{}, apperrors.Validationf("timestamp", "%s is ahead of the room clock", t.Timestamp.Format(time.RFC3339))
	}
	if !scoring {
		return Outcome{Reason: NotScoring}, nil
	}
	if !eligible {
		return Outcome{Reason: NotEligible}, nil
	}
	if t.Confidence < a.cfg.MinConfidence {
		return Outcome{Reason: LowConfidence}, nil
	}

	e, ok := a.entries[t.ParticipantID]
	if !ok {
		e = &Entry{ParticipantID: t.ParticipantID, ReachedAt: t.Timestamp}
		a.entries[t.ParticipantID] = e
	}
	if !e.LastTick.IsZero() && !t.Timestamp.After(e.LastTick) {
		return Outcome{Reason: StaleTick, Entry: *e}, nil
	}

	delta := a.Delta(t.Score)
	e.LastTick = t.Timestamp
	e.UpdatedAt = t.Timestamp
	if delta > 0 {
		e.Score += delta
		e.ReachedAt = t.Timestamp
	}
	return Outcome{Reason: Applied, Delta: delta, Entry: *e}, nil
}

func (a *Aggregator) Get(id string) (Entry, bool) {
	e, ok := a.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a copy of the board in participant id order.
func (a *Aggregator) Entries() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
