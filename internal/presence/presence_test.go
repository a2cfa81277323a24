package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newTracker() *Tracker {
	return NewTracker(Config{MaxParticipants: 3, HeartbeatInterval: 15 * time.Second, MissedHeartbeats: 2})
}

func TestTracker_JoinIsIdempotent(t *testing.T) {
	tr := newTracker()

	p, changed, err := tr.Join("a", "Ada", t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, p.Eligible())

	_, changed, err = tr.Join("a", "Ada", t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed, "second join must not report a change")
	assert.Equal(t, 1, tr.Count())
}

func TestTracker_JoinRejectsFullRoom(t *testing.T) {
	tr := newTracker()
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := tr.Join(id, "", t0)
		require.NoError(t, err)
	}
	_, _, err := tr.Join("d", "", t0)
	assert.True(t, apperrors.IsConflict(err), "got %v", err)

	// existing members can still re-join
	_, _, err = tr.Join("a", "", t0)
	assert.NoError(t, err)
}

func TestTracker_LeaveIsIdempotent(t *testing.T) {
	tr := newTracker()
	_, _, _ = tr.Join("a", "", t0)

	p, changed := tr.Leave("a")
	assert.True(t, changed)
	assert.False(t, p.Present)

	_, changed = tr.Leave("a")
	assert.False(t, changed)
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_HeartbeatNoopWhenAbsent(t *testing.T) {
	tr := newTracker()
	_, changed := tr.Heartbeat("ghost", t0)
	assert.False(t, changed)
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_MissedHeartbeatsGoOfflineButStayPresent(t *testing.T) {
	tr := newTracker()
	_, _, _ = tr.Join("a", "", t0)
	_, _, _ = tr.Join("b", "", t0)

	// exactly two windows is still within the grace
	assert.Empty(t, tr.Expire(t0.Add(30*time.Second)))

	_, _ = tr.Heartbeat("b", t0.Add(25*time.Second))
	expired := tr.Expire(t0.Add(40 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].ID)

	a, ok := tr.Get("a")
	require.True(t, ok)
	assert.True(t, a.Present)
	assert.False(t, a.Online)
	assert.Equal(t, []string{"b"}, tr.EligibleIDs())

	// a heartbeat brings the participant back online
	_, changed := tr.Heartbeat("a", t0.Add(41*time.Second))
	assert.True(t, changed)
	assert.True(t, tr.IsEligible("a"))
}

func TestTracker_Eligibility(t *testing.T) {
	tr := newTracker()
	_, _, _ = tr.Join("a", "", t0)

	e := tr.Eligibility(2)
	assert.False(t, e.CanStart)
	assert.Equal(t, 1, e.OnlineAndPresent)
	assert.Equal(t, "Need at least 2 online participants to start (1 of 2 online)", e.Message)

	err := e.Err()
	require.Error(t, err)
	assert.True(t, apperrors.IsIneligible(err))

	_, _, _ = tr.Join("b", "", t0)
	e = tr.Eligibility(2)
	assert.True(t, e.CanStart)
	assert.NoError(t, e.Err())
}
