package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

var liveStates = []string{string(competition.StateActiveWork), string(competition.StateActiveBreak)}

// Store persists room events and the projections needed to recover live
// competitions after a restart.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects with driver "postgres" or "sqlite".
func Open(driver, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	log.Info("database connected", zap.String("driver", driver))
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("store")}
}

func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(
		&EventRecord{},
		&CompetitionRecord{},
		&ScoreRecord{},
		&SessionRecord{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	s.log.Info("database migrated")
	return nil
}

func (s *Store) Name() string { return "store" }

// Publish records ev and updates the projections in one transaction.
// Publishing the same (room, seq) twice is a no-op.
func (s *Store) Publish(ctx context.Context, ev types.Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type(), err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := EventRecord{
			RoomID:    ev.RoomID,
			Seq:       ev.Seq,
			Type:      string(ev.Type()),
			Timestamp: ev.Timestamp,
			Payload:   body,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return fmt.Errorf("insert event %s/%d: %w", ev.RoomID, ev.Seq, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return project(tx, ev)
	})
}

func project(tx *gorm.DB, ev types.Event) error {
	switch p := ev.Payload.(type) {
	case types.SessionStarted:
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&SessionRecord{
			ID:            p.Session.ID,
			RoomID:        p.Session.RoomID,
			ParticipantID: p.Session.ParticipantID,
			StartedAt:     p.Session.StartedAt,
			GoalMinutes:   p.Session.GoalMinutes,
			State:         p.Session.State,
		}).Error

	case types.SessionPaused:
		return updateSession(tx, p.Session.ID, map[string]any{"state": p.Session.State})

	case types.SessionResumed:
		return updateSession(tx, p.Session.ID, map[string]any{"state": p.Session.State})

	case types.SessionEnded:
		return updateSession(tx, p.Session.ID, map[string]any{
			"state":      p.Session.State,
			"ended_at":   ev.Timestamp,
			"end_reason": p.Reason,
		})

	case types.CompetitionStarted:
		if err := saveCompetition(tx, p.Competition); err != nil {
			return err
		}
		return saveScores(tx, ev.RoomID, p.Competition.ID, p.Ranking, nil, p.Competition.StartedAt)

	case types.PhaseChanged:
		return saveCompetition(tx, p.Competition)

	case types.ScoreUpdated:
		var comp CompetitionRecord
		err := tx.Where("room_id = ? AND state IN ?", ev.RoomID, liveStates).
			Order("started_at DESC").
			First(&comp).Error
		if err != nil {
			return fmt.Errorf("score for room %s without live competition: %w", ev.RoomID, err)
		}
		rec := ScoreRecord{
			CompetitionID: comp.ID,
			ParticipantID: p.ParticipantID,
			RoomID:        ev.RoomID,
			Score:         p.Score,
			ReachedAt:     p.ReachedAt,
			LastTick:      p.TickAt,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "competition_id"}, {Name: "participant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "reached_at", "last_tick", "updated_at"}),
		}).Create(&rec).Error

	case types.CompetitionEnded:
		if err := saveCompetition(tx, p.Competition); err != nil {
			return err
		}
		return saveScores(tx, ev.RoomID, p.Competition.ID, p.Ranking, []string{"score", "updated_at"}, ev.Timestamp)
	}
	// presence is only kept in the event log
	return nil
}

func updateSession(tx *gorm.DB, id string, fields map[string]any) error {
	return tx.Model(&SessionRecord{}).Where("id = ?", id).Updates(fields).Error
}

func saveCompetition(tx *gorm.DB, c types.Competition) error {
	rec := CompetitionRecord{
		ID:              c.ID,
		RoomID:          c.RoomID,
		Mode:            c.Config.Mode,
		WorkMinutes:     c.Config.WorkMinutes,
		BreakMinutes:    c.Config.BreakMinutes,
		DurationMinutes: c.Config.DurationMinutes,
		State:           c.State,
		StartedAt:       c.StartedAt,
		PhaseDeadline:   c.PhaseDeadline,
		Cycle:           c.Cycle,
		EndReason:       c.EndReason,
	}
	if c.Results != nil {
		rec.Winner = c.Results.Winner
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// saveScores upserts the ranking rows. A nil update list keeps rows that
// already exist untouched. New rows get reachedAt.
func saveScores(tx *gorm.DB, roomID, competitionID string, ranking []types.Standing, update []string, reachedAt time.Time) error {
	if len(ranking) == 0 {
		return nil
	}
	recs := make([]ScoreRecord, 0, len(ranking))
	for _, st := range ranking {
		recs = append(recs, ScoreRecord{
			CompetitionID: competitionID,
			ParticipantID: st.ParticipantID,
			RoomID:        roomID,
			Score:         st.Score,
			ReachedAt:     reachedAt,
		})
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "competition_id"}, {Name: "participant_id"}},
	}
	if update == nil {
		conflict.DoNothing = true
	} else {
		conflict.DoUpdates = clause.AssignmentColumns(update)
	}
	return tx.Clauses(conflict).Create(&recs).Error
}

// LoadRoom returns what a room needs to resume: its last sequence number
// and, when one is live, its competition and scores. It returns nil for a
// room that never emitted anything.
func (s *Store) LoadRoom(ctx context.Context, roomID string) (*room.Restore, error) {
	db := s.db.WithContext(ctx)

	var last uint64
	if err := db.Model(&EventRecord{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("load last seq for %s: %w", roomID, err)
	}
	if last == 0 {
		return nil, nil
	}
	rs := &room.Restore{LastSeq: last}

	var comps []CompetitionRecord
	if err := db.Where("room_id = ? AND state IN ?", roomID, liveStates).
		Order("started_at DESC").
		Limit(1).
		Find(&comps).Error; err != nil {
		return nil, fmt.Errorf("load competition for %s: %w", roomID, err)
	}
	if len(comps) == 0 {
		return rs, nil
	}

	c, err := competition.FromView(comps[0].view())
	if err != nil {
		return nil, fmt.Errorf("restore competition %s: %w", comps[0].ID, err)
	}

	var scores []ScoreRecord
	if err := db.Where("competition_id = ?", c.ID).Find(&scores).Error; err != nil {
		return nil, fmt.Errorf("load scores for %s: %w", c.ID, err)
	}
	rs.Competition = c
	rs.Scores = make([]scoring.Entry, 0, len(scores))
	for _, sr := range scores {
		rs.Scores = append(rs.Scores, scoring.Entry{
			ParticipantID: sr.ParticipantID,
			Score:         sr.Score,
			UpdatedAt:     sr.UpdatedAt,
			ReachedAt:     sr.ReachedAt,
			LastTick:      sr.LastTick,
		})
	}

	s.log.Info("loaded room state",
		zap.String("room_id", roomID),
		zap.Uint64("last_seq", last),
		zap.String("competition_id", c.ID))
	return rs, nil
}

// Events returns up to limit of the room's events after seq, in order.
// A limit of zero or less returns all of them. It backs replay for clients
// that fell behind.
func (s *Store) Events(ctx context.Context, roomID string, after uint64, limit int) ([]types.Event, error) {
	var recs []EventRecord
	q := s.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, after).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load events for %s: %w", roomID, err)
	}
	out := make([]types.Event, 0, len(recs))
	for _, r := range recs {
		p, err := types.DecodePayload(types.EventType(r.Type), r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Event{RoomID: r.RoomID, Seq: r.Seq, Timestamp: r.Timestamp, Payload: p})
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (c CompetitionRecord) view() types.Competition {
	return types.Competition{
		ID:     c.ID,
		RoomID: c.RoomID,
		Config: types.CompetitionConfig{
			Mode:            c.Mode,
			WorkMinutes:     c.WorkMinutes,
			BreakMinutes:    c.BreakMinutes,
			DurationMinutes: c.DurationMinutes,
		},
		State:         c.State,
		StartedAt:     c.StartedAt,
		PhaseDeadline: c.PhaseDeadline,
		Cycle:         c.Cycle,
		EndReason:     c.EndReason,
	}
}
