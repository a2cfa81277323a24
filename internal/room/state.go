package room

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	"github.com/DoyleJ11/focus-room-backend/internal/presence"
	"github.com/DoyleJ11/focus-room-backend/internal/ranking"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/internal/session"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// handle applies one message. It returns true when the actor must exit.
func (r *Room) handle(m Msg) bool {
	now := r.clock.Now()

	switch msg := m.(type) {
	case Join:
		p, changed, err := r.presence.Join(msg.ParticipantID, msg.DisplayName, now)
		if err == nil && changed {
			r.log.Info("participant joined", zap.String("participant_id", p.ID))
			r.emit(types.PresenceChanged{Participant: participantView(p)})
		}
		msg.Reply <- Result[types.Participant]{Val: participantView(p), Err: err}

	case Leave:
		p, changed := r.presence.Leave(msg.ParticipantID)
		if changed {
			r.log.Info("participant left", zap.String("participant_id", p.ID))
			r.emit(types.PresenceChanged{Participant: participantView(p)})
		}
		msg.Reply <- Result[bool]{Val: changed}

	case Heartbeat:
		p, changed := r.presence.Heartbeat(msg.ParticipantID, now)
		if changed {
			r.emit(types.PresenceChanged{Participant: participantView(p)})
		}
		_, present := r.presence.Get(msg.ParticipantID)
		msg.Reply <- Result[bool]{Val: present}

	case GetEligibility:
		msg.Reply <- Result[presence.Eligibility]{Val: r.eligibility()}

	case StartSession:
		s, err := r.sessions.Start(msg.ParticipantID, msg.GoalMinutes, r.eligibility(), r.presence.IsEligible(msg.ParticipantID), now)
		if err != nil {
			msg.Reply <- Result[types.Session]{Err: err}
			break
		}
		r.bind(BindSession, s.ID)
		r.log.Info("session started", zap.String("session_id", s.ID), zap.String("participant_id", s.ParticipantID))
		r.emit(types.SessionStarted{Session: s.View()})
		msg.Reply <- Result[types.Session]{Val: s.View()}

	case StopSession:
		s, err := r.sessions.Stop(msg.SessionID, now, session.EndReasonStopped)
		if err != nil {
			msg.Reply <- Result[types.Session]{Err: err}
			break
		}
		r.emit(types.SessionEnded{Session: s.View(), Reason: session.EndReasonStopped})
		msg.Reply <- Result[types.Session]{Val: s.View()}

	case PauseSession:
		s, err := r.sessions.Pause(msg.SessionID, now)
		if err != nil {
			msg.Reply <- Result[types.Session]{Err: err}
			break
		}
		r.emit(types.SessionPaused{Session: s.View()})
		msg.Reply <- Result[types.Session]{Val: s.View()}

	case ResumeSession:
		s, err := r.sessions.Resume(msg.SessionID)
		if err != nil {
			msg.Reply <- Result[types.Session]{Err: err}
			break
		}
		r.emit(types.SessionResumed{Session: s.View()})
		msg.Reply <- Result[types.Session]{Val: s.View()}

	case StartCompetition:
		c, err := r.engine.Start(msg.Config, r.eligibility(), now)
		if err != nil {
			msg.Reply <- Result[types.Competition]{Err: err}
			break
		}
		r.results = nil
		r.scores.Reset(r.presence.EligibleIDs(), c.StartedAt)
		r.bind(BindCompetition, c.ID)
		r.log.Info("competition started",
			zap.String("competition_id", c.ID),
			zap.String("mode", string(c.Config.Mode)),
			zap.Time("phase_deadline", c.PhaseDeadline))
		r.emit(types.CompetitionStarted{Competition: r.competitionView(), Ranking: r.rankingView()})
		msg.Reply <- Result[types.Competition]{Val: r.competitionView()}

	case EndCompetition:
		if _, err := r.engine.End(msg.CompetitionID, now, competition.EndReasonManual); err != nil {
			msg.Reply <- Result[types.Competition]{Err: err}
			break
		}
		r.finish()
		msg.Reply <- Result[types.Competition]{Val: r.competitionView()}

	case Ingest:
		out, err := r.scores.Ingest(msg.Tick, now, r.engine.Scoring(), r.presence.IsEligible(msg.Tick.ParticipantID))
		if err == nil && out.Applied() {
			r.emit(types.ScoreUpdated{
				ParticipantID: out.Entry.ParticipantID,
				Delta:         out.Delta,
				Score:         out.Entry.Score,
				TickAt:        out.Entry.LastTick,
				ReachedAt:     out.Entry.ReachedAt,
				Ranking:       r.rankingView(),
			})
		}
		msg.Reply <- Result[scoring.Outcome]{Val: out, Err: err}

	case GetSnapshot:
		msg.Reply <- Result[types.Snapshot]{Val: r.snapshot()}

	case Subscribe:
		r.subs[msg.ClientID] = msg.Outbox
		r.log.Debug("subscriber joined", zap.String("subscriber_id", msg.ClientID), zap.Int("subscribers", len(r.subs)))
		msg.Reply <- Result[types.Snapshot]{Val: r.snapshot()}

	case Unsubscribe:
		if ch, ok := r.subs[msg.ClientID]; ok {
			close(ch)
			delete(r.subs, msg.ClientID)
		}

	case Shutdown:
		r.shutdown()
		return true
	}
	return false
}

func (r *Room) eligibility() presence.Eligibility {
	return r.presence.Eligibility(r.cfg.MinParticipants)
}

// finish records final results for an ended competition and announces them.
func (r *Room) finish() {
	c := r.engine.Current()
	res := ranking.Final(r.scores.Entries(), r.cfg.Badges)
	r.results = &res
	r.log.Info("competition ended",
		zap.String("competition_id", c.ID),
		zap.String("reason", c.EndReason),
		zap.String("winner", res.Winner))
	r.emit(types.CompetitionEnded{Competition: r.competitionView(), Ranking: r.rankingView()})
}

func (r *Room) competitionView() types.Competition {
	c := r.engine.Current()
	if c == nil {
		return types.Competition{State: string(competition.StateIdle), RoomID: r.id}
	}
	v := c.View()
	if r.results != nil && c.State == competition.StateEnded {
		res := *r.results
		v.Results = &res
		v = v.Clone()
	}
	return v
}

func (r *Room) rankingView() []types.Standing {
	return ranking.Rank(r.scores.Entries())
}

func (r *Room) snapshot() types.Snapshot {
	st := types.NewRoomState()
	for _, p := range r.presence.All() {
		st.Presence[p.ID] = participantView(p)
	}
	for _, s := range r.sessions.Active() {
		st.Sessions[s.ID] = s.View()
	}
	if r.engine.Current() != nil {
		v := r.competitionView()
		st.Competition = &v
	}
	st.Ranking = r.rankingView()
	st.LastSequenceNumber = r.seq
	return types.Snapshot{RoomID: r.id, RoomState: st, ServerTime: r.clock.Now()}
}

func participantView(p presence.Participant) types.Participant {
	return types.Participant{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Present:     p.Present,
		Online:      p.Online,
	}
}
