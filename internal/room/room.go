package room

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	"github.com/DoyleJ11/focus-room-backend/internal/presence"
	"github.com/DoyleJ11/focus-room-backend/internal/ranking"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/internal/session"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// Sink receives every emitted event after the in-memory state is updated.
// Publish must not block the room.
type Sink interface {
	Publish(ev types.Event)
}

type BindKind string

const (
	BindSession     BindKind = "session"
	BindCompetition BindKind = "competition"
)

// Hooks let the registry index ids and learn about teardown.
type Hooks struct {
	OnBind   func(kind BindKind, id, roomID string)
	OnClosed func(roomID string, r *Room)
}

type Config struct {
	MaxParticipants    int
	DefaultGoalMinutes int
	MinParticipants    int
	HeartbeatInterval  time.Duration
	MissedHeartbeats   int
	EmptyGrace         time.Duration
	SubscriberBuffer   int
	Scoring            scoring.Config
	Badges             []ranking.Badge
}

// Restore seeds a room with persisted state after a restart.
type Restore struct {
	LastSeq     uint64
	Competition *competition.Competition
	Scores      []scoring.Entry
}

type Options struct {
	Clock   clockwork.Clock
	Log     *zap.Logger
	Sink    Sink
	Hooks   Hooks
	Restore *Restore
}

// Room is the actor that owns all mutable state of one study room. Every
// public operation is a message handled by loop in arrival order.
type Room struct {
	id    string
	cfg   Config
	inbox chan Msg
	clock clockwork.Clock
	log   *zap.Logger
	sink  Sink
	hooks Hooks

	presence *presence.Tracker
	sessions *session.Coordinator
	engine   *competition.Engine
	scores   *scoring.Aggregator
	results  *types.Results

	seq     uint64
	lastSeq atomic.Uint64
	closing atomic.Bool
	subs    map[string]chan types.Event

	phaseTimer    clockwork.Timer
	phaseDeadline time.Time
	sweep         clockwork.Ticker
	teardown      clockwork.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, id string, cfg Config, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 32
	}

	r := &Room{
		id:    id,
		cfg:   cfg,
		inbox: make(chan Msg, 64),
		clock: opts.Clock,
		log:   opts.Log.With(zap.String("room_id", id)),
		sink:  opts.Sink,
		hooks: opts.Hooks,
		presence: presence.NewTracker(presence.Config{
			MaxParticipants:   cfg.MaxParticipants,
			HeartbeatInterval: cfg.HeartbeatInterval,
			MissedHeartbeats:  cfg.MissedHeartbeats,
		}),
		sessions: session.NewCoordinator(id, cfg.DefaultGoalMinutes),
		engine:   competition.NewEngine(id),
		scores:   scoring.NewAggregator(cfg.Scoring),
		subs:     make(map[string]chan types.Event),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if rs := opts.Restore; rs != nil {
		r.seq = rs.LastSeq
		r.lastSeq.Store(rs.LastSeq)
		if rs.Competition != nil && rs.Competition.Live() {
			r.engine.Restore(rs.Competition)
			r.scores.Restore(rs.Scores)
			r.bind(BindCompetition, rs.Competition.ID)
			r.log.Info("restored competition",
				zap.String("competition_id", rs.Competition.ID),
				zap.Time("phase_deadline", rs.Competition.PhaseDeadline))
		}
	}

	if cfg.HeartbeatInterval > 0 {
		r.sweep = r.clock.NewTicker(cfg.HeartbeatInterval)
	}
	r.rearm()

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done is closed once the actor has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Closing reports whether the room has started tearing down.
func (r *Room) Closing() bool { return r.closing.Load() }

// LastSeq is the last emitted sequence number. Safe from any goroutine.
func (r *Room) LastSeq() uint64 { return r.lastSeq.Load() }

func (r *Room) loop() {
	defer close(r.done)
	defer r.stopTimers()

	// a restored competition may have deadlines that passed while we were down
	r.catchUp()
	r.rearm()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			r.catchUp()
			if stop := r.handle(m); stop {
				return
			}
			r.rearm()

		case <-timerChan(r.phaseTimer):
			r.phaseTimer = nil
			r.catchUp()
			r.rearm()

		case <-tickerChan(r.sweep):
			r.catchUp()
			r.rearm()

		case <-timerChan(r.teardown):
			r.teardown = nil
			if r.presence.Count() == 0 {
				r.close()
				return
			}
		}
	}
}

// catchUp applies everything the clock implies: heartbeat expiry and
// competition phase changes. Timers only wake the actor; this is the
// source of truth.
func (r *Room) catchUp() {
	now := r.clock.Now()
	for _, p := range r.presence.Expire(now) {
		r.log.Debug("participant went offline", zap.String("participant_id", p.ID))
		r.emit(types.PresenceChanged{Participant: participantView(p)})
	}
	switch r.engine.Advance(now) {
	case competition.PhaseChanged:
		c := r.engine.Current()
		r.log.Info("competition phase changed",
			zap.String("competition_id", c.ID),
			zap.String("state", string(c.State)),
			zap.Int("cycle", c.Cycle))
		r.emit(types.PhaseChanged{Competition: r.competitionView()})
	case competition.Expired:
		r.finish()
	}
}

// rearm keeps the phase and teardown timers in line with current state.
func (r *Room) rearm() {
	if r.engine.Live() {
		deadline := r.engine.Current().PhaseDeadline
		if r.phaseTimer == nil || !deadline.Equal(r.phaseDeadline) {
			stopTimer(r.phaseTimer)
			r.phaseTimer = r.clock.NewTimer(deadline.Sub(r.clock.Now()))
			r.phaseDeadline = deadline
		}
	} else if r.phaseTimer != nil {
		stopTimer(r.phaseTimer)
		r.phaseTimer = nil
	}

	empty := r.presence.Count() == 0
	switch {
	case empty && r.teardown == nil && r.cfg.EmptyGrace > 0:
		r.teardown = r.clock.NewTimer(r.cfg.EmptyGrace)
	case !empty && r.teardown != nil:
		stopTimer(r.teardown)
		r.teardown = nil
	}
}

func (r *Room) stopTimers() {
	stopTimer(r.phaseTimer)
	stopTimer(r.teardown)
	if r.sweep != nil {
		r.sweep.Stop()
	}
	r.phaseTimer, r.teardown = nil, nil
}

// close tears the room down after it stayed empty for the grace window.
func (r *Room) close() {
	r.closing.Store(true)
	now := r.clock.Now()

	for _, s := range r.sessions.CloseAll(now, session.EndReasonRoomClosed) {
		r.emit(types.SessionEnded{Session: s.View(), Reason: session.EndReasonRoomClosed})
	}
	if r.engine.Live() {
		if _, err := r.engine.End(r.engine.Current().ID, now, competition.EndReasonRoomClosed); err == nil {
			r.finish()
		}
	}

	r.log.Info("room closed", zap.Uint64("last_seq", r.seq))
	r.dropSubscribers()
	if r.hooks.OnClosed != nil {
		r.hooks.OnClosed(r.id, r)
	}
	r.cancel()
}

// shutdown stops the actor without ending anything; live competitions are
// recovered from the store on the next start.
func (r *Room) shutdown() {
	r.closing.Store(true)
	r.dropSubscribers()
	r.cancel()
}

func (r *Room) dropSubscribers() {
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
}

// emit stamps the next sequence number, fans out, and hands off to the sink.
func (r *Room) emit(p types.Payload) {
	r.seq++
	r.lastSeq.Store(r.seq)
	ev := types.Event{RoomID: r.id, Seq: r.seq, Timestamp: r.clock.Now(), Payload: p}
	r.broadcast(ev)
	if r.sink != nil {
		r.sink.Publish(ev)
	}
}

func (r *Room) broadcast(ev types.Event) {
	for id, ch := range r.subs {
		select {
		case ch <- ev:
			// ok
		default:
			// Subscriber is slow/full - drop it; it reconciles via snapshot.
			r.log.Debug("dropping slow subscriber", zap.String("subscriber_id", id))
			close(ch)
			delete(r.subs, id)
		}
	}
}

func (r *Room) bind(kind BindKind, id string) {
	if r.hooks.OnBind != nil {
		r.hooks.OnBind(kind, id, r.id)
	}
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func stopTimer(t clockwork.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}
