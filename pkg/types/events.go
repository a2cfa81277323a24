package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EvtPresenceChanged    EventType = "presence_changed"
	EvtSessionStarted     EventType = "session_started"
	EvtSessionEnded       EventType = "session_ended"
	EvtSessionPaused      EventType = "session_paused"
	EvtSessionResumed     EventType = "session_resumed"
	EvtCompetitionStarted EventType = "competition_started"
	EvtPhaseChanged       EventType = "phase_changed"
	EvtScoreUpdated       EventType = "score_updated"
	EvtCompetitionEnded   EventType = "competition_ended"
)

// Payload is the sealed set of event bodies. The discriminant is derived
// from the concrete type, never set by hand.
type Payload interface {
	EventType() EventType
}

type PresenceChanged struct {
	Participant Participant `json:"participant"`
}

type SessionStarted struct {
	Session Session `json:"session"`
}

type SessionEnded struct {
	Session Session `json:"session"`
	Reason  string  `json:"reason"`
}

type SessionPaused struct {
	Session Session `json:"session"`
}

type SessionResumed struct {
	Session Session `json:"session"`
}

type CompetitionStarted struct {
	Competition Competition `json:"competition"`
	Ranking     []Standing  `json:"ranking"`
}

type PhaseChanged struct {
	Competition Competition `json:"competition"`
}

// ScoreUpdated carries the tick timestamp and the time the score was
// reached so the board can be rebuilt exactly from the log.
type ScoreUpdated struct {
	ParticipantID string     `json:"participant_id"`
	Delta         int64      `json:"delta"`
	Score         int64      `json:"score"`
	TickAt        time.Time  `json:"tick_at"`
	ReachedAt     time.Time  `json:"reached_at"`
	Ranking       []Standing `json:"ranking"`
}

type CompetitionEnded struct {
	Competition Competition `json:"competition"`
	Ranking     []Standing  `json:"ranking"`
}

func (PresenceChanged) EventType() EventType    { return EvtPresenceChanged }
func (SessionStarted) EventType() EventType     { return EvtSessionStarted }
func (SessionEnded) EventType() EventType       { return EvtSessionEnded }
func (SessionPaused) EventType() EventType      { return EvtSessionPaused }
func (SessionResumed) EventType() EventType     { return EvtSessionResumed }
func (CompetitionStarted) EventType() EventType { return EvtCompetitionStarted }
func (PhaseChanged) EventType() EventType       { return EvtPhaseChanged }
func (ScoreUpdated) EventType() EventType       { return EvtScoreUpdated }
func (CompetitionEnded) EventType() EventType   { return EvtCompetitionEnded }

// Event is the unit of reconciliation.
type Event struct {
	RoomID    string
	Seq       uint64
	Timestamp time.Time
	Payload   Payload
}

func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

type eventEnvelope struct {
	RoomID    string          `json:"room_id"`
	Seq       uint64          `json:"sequence_number"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type(), err)
	}
	return json.Marshal(eventEnvelope{
		RoomID:    e.RoomID,
		Seq:       e.Seq,
		Type:      e.Type(),
		Timestamp: e.Timestamp,
		Payload:   body,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	p, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	*e = Event{RoomID: env.RoomID, Seq: env.Seq, Timestamp: env.Timestamp, Payload: p}
	return nil
}

// DecodePayload picks the concrete payload type for t.
func DecodePayload(t EventType, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case EvtPresenceChanged:
		p = &PresenceChanged{}
	case EvtSessionStarted:
		p = &SessionStarted{}
	case EvtSessionEnded:
		p = &SessionEnded{}
	case EvtSessionPaused:
		p = &SessionPaused{}
	case EvtSessionResumed:
		p = &SessionResumed{}
	case EvtCompetitionStarted:
		p = &CompetitionStarted{}
	case EvtPhaseChanged:
		p = &PhaseChanged{}
	case EvtScoreUpdated:
		p = &ScoreUpdated{}
	case EvtCompetitionEnded:
		p = &CompetitionEnded{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return deref(p), nil
}

// deref stores payloads by value so type switches match one form only.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *PresenceChanged:
		return *v
	case *SessionStarted:
		return *v
	case *SessionEnded:
		return *v
	case *SessionPaused:
		return *v
	case *SessionResumed:
		return *v
	case *CompetitionStarted:
		return *v
	case *PhaseChanged:
		return *v
	case *ScoreUpdated:
		return *v
	case *CompetitionEnded:
		return *v
	}
	return p
}
