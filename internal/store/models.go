package store

import "time"

// EventRecord is one emitted room event. (room_id, seq) is unique so a
// replayed publish is a no-op.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RoomID    string    `gorm:"size:64;not null;uniqueIndex:idx_room_seq"`
	Seq       uint64    `gorm:"not null;uniqueIndex:idx_room_seq"`
	Type      string    `gorm:"size:32;not null"`
	Timestamp time.Time `gorm:"not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time
}

// CompetitionRecord is the latest known state of a competition.
type CompetitionRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	RoomID          string `gorm:"size:64;not null;index"`
	Mode            string `gorm:"size:16;not null"`
	WorkMinutes     int
	BreakMinutes    int
	DurationMinutes int
	State           string    `gorm:"size:16;not null;index"`
	StartedAt       time.Time `gorm:"not null"`
	PhaseDeadline   time.Time
	Cycle           int
	EndReason       string `gorm:"size:32"`
	Winner          string `gorm:"size:64"`
	UpdatedAt       time.Time
}

// ScoreRecord is a participant's cumulative score in one competition.
type ScoreRecord struct {
	CompetitionID string `gorm:"primaryKey;size:64"`
	ParticipantID string `gorm:"primaryKey;size:64"`
	RoomID        string `gorm:"size:64;not null;index"`
	Score         int64  `gorm:"not null;default:0"`
	ReachedAt     time.Time
	LastTick      time.Time
	UpdatedAt     time.Time
}

// SessionRecord keeps the history of focus sessions.
type SessionRecord struct {
	ID            string    `gorm:"primaryKey;size:64"`
	RoomID        string    `gorm:"size:64;not null;index"`
	ParticipantID string    `gorm:"size:64;not null;index"`
	StartedAt     time.Time `gorm:"not null"`
	GoalMinutes   int       `gorm:"not null"`
	State         string    `gorm:"size:16;not null"`
	EndedAt       *time.Time
	EndReason     string `gorm:"size:32"`
}
