package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open("sqlite", dsn, nil)
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func competitionView(state string, deadline time.Time, cycle int) types.Competition {
	return types.Competition{
		ID:            "c1",
		RoomID:        "r1",
		Config:        types.CompetitionConfig{Mode: "pomodoro", WorkMinutes: 25, BreakMinutes: 5},
		State:         state,
		StartedAt:     t0,
		PhaseDeadline: deadline,
		Cycle:         cycle,
	}
}

func publishAll(t *testing.T, s *Store, payloads ...types.Payload) {
	t.Helper()
	for i, p := range payloads {
		ev := types.Event{RoomID: "r1", Seq: uint64(i + 1), Timestamp: t0.Add(time.Duration(i) * time.Second), Payload: p}
		require.NoError(t, s.Publish(context.Background(), ev))
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", nil)
	assert.Error(t, err)
}

func TestStore_LoadRoomWithoutEvents(t *testing.T) {
	s := newTestStore(t)
	rs, err := s.LoadRoom(context.Background(), "empty")
	require.NoError(t, err)
	assert.Nil(t, rs)
}

func TestStore_RecoversLiveCompetition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	publishAll(t, s,
		types.PresenceChanged{Participant: types.Participant{ID: "A", Present: true, Online: true}},
		types.PresenceChanged{Participant: types.Participant{ID: "B", Present: true, Online: true}},
		types.CompetitionStarted{
			Competition: competitionView("active_work", t0.Add(25*time.Minute), 1),
			Ranking: []types.Standing{
				{ParticipantID: "A", Rank: 1},
				{ParticipantID: "B", Rank: 2},
			},
		},
		types.ScoreUpdated{ParticipantID: "A", Delta: 8, Score: 8},
		types.ScoreUpdated{ParticipantID: "B", Delta: 6, Score: 6},
		types.PhaseChanged{Competition: competitionView("active_break", t0.Add(30*time.Minute), 1)},
	)

	rs, err := s.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.EqualValues(t, 6, rs.LastSeq)
	require.NotNil(t, rs.Competition)
	assert.Equal(t, "c1", rs.Competition.ID)
	assert.EqualValues(t, "active_break", rs.Competition.State)
	assert.True(t, rs.Competition.PhaseDeadline.Equal(t0.Add(30*time.Minute)))

	scores := map[string]int64{}
	for _, e := range rs.Scores {
		scores[e.ParticipantID] = e.Score
	}
	assert.Equal(t, map[string]int64{"A": 8, "B": 6}, scores)
}

func TestStore_EndedCompetitionIsNotRestored(t *testing.T) {
	s := newTestStore(t)

	ended := competitionView("ended", t0.Add(25*time.Minute), 1)
	ended.EndReason = "manual"
	ended.Results = &types.Results{Winner: "A", Standings: []types.Standing{{ParticipantID: "A", Score: 3, Rank: 1}}, Badges: map[string]string{}}

	publishAll(t, s,
		types.CompetitionStarted{Competition: competitionView("active_work", t0.Add(25*time.Minute), 1)},
		types.CompetitionEnded{Competition: ended, Ranking: ended.Results.Standings},
	)

	rs, err := s.LoadRoom(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, rs)
	assert.EqualValues(t, 2, rs.LastSeq)
	assert.Nil(t, rs.Competition)

	var rec CompetitionRecord
	require.NoError(t, s.db.First(&rec, "id = ?", "c1").Error)
	assert.Equal(t, "A", rec.Winner)
	assert.Equal(t, "ended", rec.State)
}

func TestStore_PublishIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := types.Event{RoomID: "r1", Seq: 1, Timestamp: t0, Payload: types.SessionStarted{Session: types.Session{
		ID: "s1", ParticipantID: "A", RoomID: "r1", StartedAt: t0, GoalMinutes: 25, State: "running",
	}}}
	require.NoError(t, s.Publish(ctx, ev))
	require.NoError(t, s.Publish(ctx, ev))

	var n int64
	require.NoError(t, s.db.Model(&EventRecord{}).Where("room_id = ?", "r1").Count(&n).Error)
	assert.EqualValues(t, 1, n)

	end := types.Event{RoomID: "r1", Seq: 2, Timestamp: t0.Add(time.Minute), Payload: types.SessionEnded{
		Session: types.Session{ID: "s1", ParticipantID: "A", RoomID: "r1", State: "ended"},
		Reason:  "stopped",
	}}
	require.NoError(t, s.Publish(ctx, end))

	var rec SessionRecord
	require.NoError(t, s.db.First(&rec, "id = ?", "s1").Error)
	assert.Equal(t, "ended", rec.State)
	assert.Equal(t, "stopped", rec.EndReason)
	require.NotNil(t, rec.EndedAt)
}

func TestStore_EventsReplayInOrder(t *testing.T) {
	s := newTestStore(t)
	publishAll(t, s,
		types.PresenceChanged{Participant: types.Participant{ID: "A", Present: true, Online: true}},
		types.PresenceChanged{Participant: types.Participant{ID: "B", Present: true, Online: true}},
		types.PresenceChanged{Participant: types.Participant{ID: "A", Present: true, Online: false}},
	)

	evs, err := s.Events(context.Background(), "r1", 1, 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 2, evs[0].Seq)
	assert.EqualValues(t, 3, evs[1].Seq)
	last, ok := evs[1].Payload.(types.PresenceChanged)
	require.True(t, ok)
	assert.False(t, last.Participant.Online)

	evs, err = s.Events(context.Background(), "r1", 0, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 1, evs[0].Seq)
	assert.EqualValues(t, 2, evs[1].Seq)

	evs, err = s.Events(context.Background(), "other", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

// syncSink writes every event before the room replies, like a relay that
// has fully drained.
type syncSink struct {
	t *testing.T
	s *Store
}

func (k syncSink) Publish(ev types.Event) {
	assert.NoError(k.t, k.s.Publish(context.Background(), ev))
}

func startRoom(t *testing.T, s *Store, at time.Time, rs *room.Restore) (*room.Room, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := room.New(ctx, "r1", room.Config{
		MaxParticipants:    12,
		DefaultGoalMinutes: 50,
		MinParticipants:    2,
		HeartbeatInterval:  time.Hour,
		MissedHeartbeats:   2,
		Scoring:            scoring.Config{Coefficient: 0.1},
	}, room.Options{Clock: clockwork.NewFakeClockAt(at), Sink: syncSink{t: t, s: s}, Restore: rs})
	stop := func() {
		cancel()
		<-r.Done()
	}
	t.Cleanup(stop)
	return r, stop
}

func TestStore_RestartKeepsTieBreakAndTickDedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, stop := startRoom(t, s, t0, nil)
	for _, id := range []string{"A", "B"} {
		_, err := before.Join(ctx, id, id)
		require.NoError(t, err)
	}
	_, err := before.StartCompetition(ctx, competition.Config{Mode: competition.ModePomodoro, WorkMinutes: 25, BreakMinutes: 5})
	require.NoError(t, err)

	// A's tick arrives first but was sampled later than B's.
	tickA := scoring.Tick{ParticipantID: "A", Score: 80, Confidence: 0.9, Timestamp: t0.Add(4 * time.Second)}
	tickB := scoring.Tick{ParticipantID: "B", Score: 80, Confidence: 0.9, Timestamp: t0.Add(2 * time.Second)}
	for _, tk := range []scoring.Tick{tickA, tickB} {
		out, err := before.IngestScore(ctx, tk)
		require.NoError(t, err)
		require.True(t, out.Applied())
	}
	snap, err := before.Snapshot(ctx)
	require.NoError(t, err)
	want := []types.Standing{
		{ParticipantID: "B", Score: 8, Rank: 1},
		{ParticipantID: "A", Score: 8, Rank: 2},
	}
	require.Equal(t, want, snap.Ranking)
	stop()

	rs, err := s.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, rs)
	require.NotNil(t, rs.Competition)
	for _, e := range rs.Scores {
		if e.ParticipantID == "A" {
			assert.True(t, e.LastTick.Equal(tickA.Timestamp))
			assert.True(t, e.ReachedAt.Equal(tickA.Timestamp))
		}
	}

	after, _ := startRoom(t, s, t0.Add(10*time.Second), rs)
	snap, err = after.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, snap.Ranking)

	for _, id := range []string{"A", "B"} {
		_, err := after.Join(ctx, id, id)
		require.NoError(t, err)
	}
	out, err := after.IngestScore(ctx, tickA)
	require.NoError(t, err)
	assert.Equal(t, scoring.StaleTick, out.Reason)
	assert.EqualValues(t, 8, out.Entry.Score)
}
