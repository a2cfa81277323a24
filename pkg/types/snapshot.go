package types

import "time"

// Participant is the wire view of a room member. LastSeen is deliberately
// absent: heartbeats do not produce events, so it would never reconcile.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Present     bool   `json:"present"`
	Online      bool   `json:"online"`
}

type Session struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participant_id"`
	RoomID        string    `json:"room_id"`
	StartedAt     time.Time `json:"started_at"`
	GoalMinutes   int       `json:"goal_minutes"`
	State         string    `json:"state"` // "running" | "paused" | "ended"
}

type CompetitionConfig struct {
	Mode            string `json:"mode"` // "pomodoro" | "custom"
	WorkMinutes     int    `json:"work_minutes,omitempty"`
	BreakMinutes    int    `json:"break_minutes,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

type Competition struct {
	ID            string            `json:"id"`
	RoomID        string            `json:"room_id"`
	Config        CompetitionConfig `json:"config"`
	State         string            `json:"state"` // "idle" | "active_work" | "active_break" | "ended"
	StartedAt     time.Time         `json:"started_at"`
	PhaseDeadline time.Time         `json:"phase_deadline"`
	Cycle         int               `json:"cycle"`
	EndReason     string            `json:"end_reason,omitempty"`
	Results       *Results          `json:"results,omitempty"`
}

// Standing is one row of a ranking.
type Standing struct {
	ParticipantID string `json:"participant_id"`
	Score         int64  `json:"score"`
	Rank          int    `json:"rank"`
}

type Results struct {
	Winner    string            `json:"winner,omitempty"`
	Standings []Standing        `json:"standings"`
	Badges    map[string]string `json:"badges"`
}

// RoomState is everything a client mirrors. It is built identically from a
// snapshot or from applying events in sequence.
type RoomState struct {
	Presence           map[string]Participant `json:"presence"`
	Sessions           map[string]Session     `json:"sessions"`
	Competition        *Competition           `json:"competition,omitempty"`
	Ranking            []Standing             `json:"ranking"`
	LastSequenceNumber uint64                 `json:"last_sequence_number"`
}

func NewRoomState() RoomState {
	return RoomState{
		Presence: map[string]Participant{},
		Sessions: map[string]Session{},
		Ranking:  []Standing{},
	}
}

// Clone deep-copies the state so callers never share maps or slices.
func (s RoomState) Clone() RoomState {
	out := RoomState{
		Presence:           make(map[string]Participant, len(s.Presence)),
		Sessions:           make(map[string]Session, len(s.Sessions)),
		Ranking:            append([]Standing{}, s.Ranking...),
		LastSequenceNumber: s.LastSequenceNumber,
	}
	for k, v := range s.Presence {
		out.Presence[k] = v
	}
	for k, v := range s.Sessions {
		out.Sessions[k] = v
	}
	if s.Competition != nil {
		c := s.Competition.Clone()
		out.Competition = &c
	}
	return out
}

func (c Competition) Clone() Competition {
	if c.Results != nil {
		r := Results{
			Winner:    c.Results.Winner,
			Standings: append([]Standing{}, c.Results.Standings...),
			Badges:    make(map[string]string, len(c.Results.Badges)),
		}
		for k, v := range c.Results.Badges {
			r.Badges[k] = v
		}
		c.Results = &r
	}
	return c
}

// Snapshot is the polling fallback response.
type Snapshot struct {
	RoomID string `json:"room_id"`
	RoomState
	ServerTime time.Time `json:"server_time"`
}
