package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/presence"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

const (
	EndReasonStopped    = "stopped"
	EndReasonRoomClosed = "room_closed"
)

const maxGoalMinutes = 24 * 60

// FocusSession is one participant's tracked study interval.
type FocusSession struct {
	ID            string
	ParticipantID string
	RoomID        string
	StartedAt     time.Time
	GoalMinutes   int
	State         State
	PausedAt      time.Time
	EndedAt       time.Time
	EndReason     string
}

func (s *FocusSession) View() types.Session {
	return types.Session{
		ID:            s.ID,
		ParticipantID: s.ParticipantID,
		RoomID:        s.RoomID,
		StartedAt:     s.StartedAt,
		GoalMinutes:   s.GoalMinutes,
		State:         string(s.State),
	}
}

// Coordinator owns the open sessions of one room and the derived
// SessionParticipantSet. Access is serialized by the room actor.
type Coordinator struct {
	roomID        string
	defaultGoal   int
	sessions      map[string]*FocusSession
	byParticipant map[string]string
	newID         func() string
}

func NewCoordinator(roomID string, defaultGoalMinutes int) *Coordinator {
	return &Coordinator{
		roomID:        roomID,
		defaultGoal:   defaultGoalMinutes,
		sessions:      make(map[string]*FocusSession),
		byParticipant: make(map[string]string),
		newID:         uuid.NewString,
	}
}

// Start opens a session after the room gate and the participant's own
// presence have been checked.
func (c *Coordinator) Start(participantID string, goalMinutes int, elig presence.Eligibility, participantEligible bool, now time.Time) (*FocusSession, error) {
	if goalMinutes == 0 {
		goalMinutes = c.defaultGoal
	}
	if goalMinutes < 0 || goalMinutes > maxGoalMinutes {
		return nil, apperrors.Validationf("goal_minutes", "must be within 1..%d", maxGoalMinutes)
	}
	if err := elig.Err(); err != nil {
		return nil, err
	}
	if !participantEligible {
		return nil, apperrors.Ineligible(elig.OnlineAndPresent, elig.Required,
			"participant "+participantID+" must be present and online to start a session")
	}
	if id, ok := c.byParticipant[participantID]; ok {
		return nil, apperrors.Conflictf("session", "participant %s already has active session %s", participantID, id)
	}

	s := &FocusSession{
		ID:            c.newID(),
		ParticipantID: participantID,
		RoomID:        c.roomID,
		StartedAt:     now,
		GoalMinutes:   goalMinutes,
		State:         StateRunning,
	}
	c.sessions[s.ID] = s
	c.byParticipant[participantID] = s.ID
	return s, nil
}

func (c *Coordinator) Stop(id string, now time.Time, reason string) (*FocusSession, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	s.State = StateEnded
	s.EndedAt = now
	s.EndReason = reason
	delete(c.sessions, id)
	delete(c.byParticipant, s.ParticipantID)
	return s, nil
}

func (c *Coordinator) Pause(id string, now time.Time) (*FocusSession, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	if s.State != StateRunning {
		return nil, apperrors.Conflictf("session", "session %s is %s", id, s.State)
	}
	s.State = StatePaused
	s.PausedAt = now
	return s, nil
}

func (c *Coordinator) Resume(id string) (*FocusSession, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	if s.State != StatePaused {
		return nil, apperrors.Conflictf("session", "session %s is %s", id, s.State)
	}
	s.State = StateRunning
	s.PausedAt = time.Time{}
	return s, nil
}

// CloseAll ends every open session, oldest first.
func (c *Coordinator) CloseAll(now time.Time, reason string) []*FocusSession {
	open := c.Active()
	closed := make([]*FocusSession, 0, len(open))
	for _, s := range open {
		ended, err := c.Stop(s.ID, now, reason)
		if err == nil {
			closed = append(closed, ended)
		}
	}
	return closed
}

// Active lists open sessions ordered by start time, then id.
func (c *Coordinator) Active() []*FocusSession {
	out := make([]*FocusSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

