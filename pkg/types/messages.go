package types

import "time"

// Client -> Server (HTTP bodies)

type PresenceRequest struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
}

type SessionStartRequest struct {
	RoomID        string `json:"room_id"`
	ParticipantID string `json:"participant_id"`
	GoalMinutes   int    `json:"goal_minutes"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type CompetitionStartRequest struct {
	RoomID string            `json:"room_id"`
	Mode   string            `json:"mode"`
	Config CompetitionConfig `json:"config"`
}

type CompetitionEndRequest struct {
	CompetitionID string `json:"competition_id"`
}

type ScoreRequest struct {
	RoomID        string    `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	Score         float64   `json:"score"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// Server -> Client (HTTP bodies)

type SessionStartResponse struct {
	SessionID string  `json:"session_id"`
	Session   Session `json:"session"`
}

type CompetitionStartResponse struct {
	CompetitionID string      `json:"competition_id"`
	Competition   Competition `json:"competition"`
}

type ScoreResponse struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
	Score   int64  `json:"score"`
}

type EligibilityResponse struct {
	CanStart         bool   `json:"can_start"`
	OnlineAndPresent int    `json:"online_and_present"`
	Required         int    `json:"required"`
	Message          string `json:"message"`
}

// EventsResponse carries replayed room events in sequence order.
type EventsResponse struct {
	RoomID string  `json:"room_id"`
	Events []Event `json:"events"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	// Set for ineligibility so clients can render "1 of 2 online".
	Online   int `json:"online,omitempty"`
	Required int `json:"required,omitempty"`
}
