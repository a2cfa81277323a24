package competition

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/presence"
)

// Outcome describes what Advance did.
type Outcome int

const (
	Unchanged Outcome = iota
	PhaseChanged
	Expired
)

// Engine is the per-room competition state machine. It keeps the most
// recent competition, ended or not, so results stay visible until the next
// start.
type Engine struct {
	roomID  string
	current *Competition
	newID   func() string
}

func NewEngine(roomID string) *Engine {
	return &Engine{roomID: roomID, newID: uuid.NewString}
}

func (e *Engine) Current() *Competition { return e.current }

func (e *Engine) Live() bool { return e.current != nil && e.current.Live() }

func (e *Engine) Scoring() bool { return e.current != nil && e.current.Scoring() }

// Start opens a new competition in active_work.
func (e *Engine) Start(cfg Config, elig presence.Eligibility, now time.Time) (*Competition, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if e.Live() {
		return nil, apperrors.Conflictf("competition", "competition %s is already running", e.current.ID)
	}
	if err := elig.Err(); err != nil {
		return nil, err
	}

	c := &Competition{
		ID:             e.newID(),
		RoomID:         e.roomID,
		Config:         cfg,
		State:          StateActiveWork,
		StartedAt:      now,
		PhaseStartedAt: now,
		PhaseDeadline:  now.Add(cfg.work()),
		Cycle:          1,
	}
	e.current = c
	return c, nil
}

// Advance catches the phase up with now.
func (e *Engine) Advance(now time.Time) Outcome {
	if !e.Live() {
		return Unchanged
	}
	if !e.current.advance(now) {
		return Unchanged
	}
	if e.current.State == StateEnded {
		return Expired
	}
	return PhaseChanged
}

// End stops the competition with id. Ending one that already ended is a
// conflict; an unknown id is not found.
func (e *Engine) End(id string, now time.Time, reason string) (*Competition, error) {
	if e.current == nil || e.current.ID != id {
		return nil, apperrors.NotFound("competition", id)
	}
	if !e.current.Live() {
		return nil, apperrors.Conflictf("competition", "competition %s already ended", id)
	}
	e.current.State = StateEnded
	e.current.EndedAt = now
	e.current.EndReason = reason
	return e.current, nil
}

// Restore installs a persisted competition. The caller follows up with
// Advance so the phase is recomputed from the stored deadline.
func (e *Engine) Restore(c *Competition) {
	e.current = c
}
