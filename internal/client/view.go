package client

import (
	"sort"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// View is a client's mirror of one room. Events apply strictly in sequence
// order; a gap parks later events until the missing ones or a newer
// snapshot arrive. View is not safe for concurrent use.
type View struct {
	state   types.RoomState
	pending map[uint64]types.Event
}

func NewView() *View {
	return &View{state: types.NewRoomState(), pending: make(map[uint64]types.Event)}
}

// State returns a deep copy of the mirrored state.
func (v *View) State() types.RoomState { return v.state.Clone() }

func (v *View) LastSeq() uint64 { return v.state.LastSequenceNumber }

// Pending is the number of events parked behind a gap.
func (v *View) Pending() int { return len(v.pending) }

// Apply folds ev into the view. It reports a gap when ev is ahead of the
// next expected sequence number; the caller should fetch a snapshot.
// Events at or below the last applied number return a StaleEventError.
func (v *View) Apply(ev types.Event) (applied []types.Event, gap bool, err error) {
	last := v.state.LastSequenceNumber
	switch {
	case ev.Seq <= last:
		return nil, false, &apperrors.StaleEventError{Seq: ev.Seq, Last: last}
	case ev.Seq > last+1:
		v.pending[ev.Seq] = ev
		return nil, true, nil
	}
	reduce(&v.state, ev)
	applied = append(applied, ev)
	return append(applied, v.drain()...), false, nil
}

// ApplySnapshot replaces the view when snap is at least as new. Parked
// events past the snapshot are applied afterwards. It reports whether the
// snapshot was taken.
func (v *View) ApplySnapshot(snap types.Snapshot) (taken bool, applied []types.Event) {
	if snap.LastSequenceNumber < v.state.LastSequenceNumber {
		return false, nil
	}
	v.state = snap.RoomState.Clone()
	for seq := range v.pending {
		if seq <= snap.LastSequenceNumber {
			delete(v.pending, seq)
		}
	}
	return true, v.drain()
}

// Gap reports whether events are parked waiting for a missing one.
func (v *View) Gap() bool { return len(v.pending) > 0 }

func (v *View) drain() []types.Event {
	var out []types.Event
	for {
		next, ok := v.pending[v.state.LastSequenceNumber+1]
		if !ok {
			return out
		}
		delete(v.pending, next.Seq)
		reduce(&v.state, next)
		out = append(out, next)
	}
}

// InSession lists participants with an open session, the room's
// SessionParticipantSet.
func (v *View) InSession() []string {
	seen := make(map[string]struct{}, len(v.state.Sessions))
	for _, s := range v.state.Sessions {
		seen[s.ParticipantID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reduce is the single state transition shared by every event type. The
// result matches what the server reports in a snapshot at the same
// sequence number.
func reduce(st *types.RoomState, ev types.Event) {
	switch p := ev.Payload.(type) {
	case types.PresenceChanged:
		if p.Participant.Present {
			st.Presence[p.Participant.ID] = p.Participant
		} else {
			delete(st.Presence, p.Participant.ID)
		}
	case types.SessionStarted:
		st.Sessions[p.Session.ID] = p.Session
	case types.SessionPaused:
		st.Sessions[p.Session.ID] = p.Session
	case types.SessionResumed:
		st.Sessions[p.Session.ID] = p.Session
	case types.SessionEnded:
		delete(st.Sessions, p.Session.ID)
	case types.CompetitionStarted:
		c := p.Competition.Clone()
		st.Competition = &c
		st.Ranking = append([]types.Standing{}, p.Ranking...)
	case types.PhaseChanged:
		c := p.Competition.Clone()
		st.Competition = &c
	case types.ScoreUpdated:
		st.Ranking = append([]types.Standing{}, p.Ranking...)
	case types.CompetitionEnded:
		c := p.Competition.Clone()
		st.Competition = &c
		st.Ranking = append([]types.Standing{}, p.Ranking...)
	}
	st.LastSequenceNumber = ev.Seq
}
