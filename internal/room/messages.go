package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/presence"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// ErrClosed is returned when a message reaches a room that already exited.
var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

// Result carries a reply back from the actor.
type Result[T any] struct {
	Val T
	Err error
}

type Join struct {
	ParticipantID string
	DisplayName   string
	Reply         chan Result[types.Participant]
}

type Leave struct {
	ParticipantID string
	Reply         chan Result[bool]
}

type Heartbeat struct {
	ParticipantID string
	Reply         chan Result[bool]
}

type GetEligibility struct {
	Reply chan Result[presence.Eligibility]
}

type StartSession struct {
	ParticipantID string
	GoalMinutes   int
	Reply         chan Result[types.Session]
}

type StopSession struct {
	SessionID string
	Reply     chan Result[types.Session]
}

type PauseSession struct {
	SessionID string
	Reply     chan Result[types.Session]
}

type ResumeSession struct {
	SessionID string
	Reply     chan Result[types.Session]
}

type StartCompetition struct {
	Config competition.Config
	Reply  chan Result[types.Competition]
}

type EndCompetition struct {
	CompetitionID string
	Reply         chan Result[types.Competition]
}

type Ingest struct {
	Tick  scoring.Tick
	Reply chan Result[scoring.Outcome]
}

type GetSnapshot struct {
	Reply chan Result[types.Snapshot]
}

type Subscribe struct {
	ClientID string
	Outbox   chan types.Event // where this client wants to receive events
	Reply    chan Result[types.Snapshot]
}

type Unsubscribe struct{ ClientID string }

type Shutdown struct{}

func (Join) isRoomMsg()             {}
func (Leave) isRoomMsg()            {}
func (Heartbeat) isRoomMsg()        {}
func (GetEligibility) isRoomMsg()   {}
func (StartSession) isRoomMsg()     {}
func (StopSession) isRoomMsg()      {}
func (PauseSession) isRoomMsg()     {}
func (ResumeSession) isRoomMsg()    {}
func (StartCompetition) isRoomMsg() {}
func (EndCompetition) isRoomMsg()   {}
func (Ingest) isRoomMsg()           {}
func (GetSnapshot) isRoomMsg()      {}
func (Subscribe) isRoomMsg()        {}
func (Unsubscribe) isRoomMsg()      {}
func (Shutdown) isRoomMsg()         {}

func (r *Room) errClosed() error {
	return fmt.Errorf("%w: %w", ErrClosed, apperrors.NotFound("room", r.id))
}

// send delivers m unless the room exited or ctx ended first.
func (r *Room) send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return r.errClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ask[T any](ctx context.Context, r *Room, m Msg, ch chan Result[T]) (T, error) {
	var zero T
	if err := r.send(ctx, m); err != nil {
		return zero, err
	}
	select {
	case rep := <-ch:
		return rep.Val, rep.Err
	case <-r.done:
		// the reply may have raced the exit
		select {
		case rep := <-ch:
			return rep.Val, rep.Err
		default:
			return zero, r.errClosed()
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *Room) Join(ctx context.Context, participantID, displayName string) (types.Participant, error) {
	ch := make(chan Result[types.Participant], 1)
	return ask(ctx, r, Join{ParticipantID: participantID, DisplayName: displayName, Reply: ch}, ch)
}

// Leave reports whether the participant was present.
func (r *Room) Leave(ctx context.Context, participantID string) (bool, error) {
	ch := make(chan Result[bool], 1)
	return ask(ctx, r, Leave{ParticipantID: participantID, Reply: ch}, ch)
}

// Heartbeat reports whether the participant is present in the room.
func (r *Room) Heartbeat(ctx context.Context, participantID string) (bool, error) {
	ch := make(chan Result[bool], 1)
	return ask(ctx, r, Heartbeat{ParticipantID: participantID, Reply: ch}, ch)
}

func (r *Room) Eligibility(ctx context.Context) (presence.Eligibility, error) {
	ch := make(chan Result[presence.Eligibility], 1)
	return ask(ctx, r, GetEligibility{Reply: ch}, ch)
}

func (r *Room) StartSession(ctx context.Context, participantID string, goalMinutes int) (types.Session, error) {
	ch := make(chan Result[types.Session], 1)
	return ask(ctx, r, StartSession{ParticipantID: participantID, GoalMinutes: goalMinutes, Reply: ch}, ch)
}

func (r *Room) StopSession(ctx context.Context, sessionID string) (types.Session, error) {
	ch := make(chan Result[types.Session], 1)
	return ask(ctx, r, StopSession{SessionID: sessionID, Reply: ch}, ch)
}

func (r *Room) PauseSession(ctx context.Context, sessionID string) (types.Session, error) {
	ch := make(chan Result[types.Session], 1)
	return ask(ctx, r, PauseSession{SessionID: sessionID, Reply: ch}, ch)
}

func (r *Room) ResumeSession(ctx context.Context, sessionID string) (types.Session, error) {
	ch := make(chan Result[types.Session], 1)
	return ask(ctx, r, ResumeSession{SessionID: sessionID, Reply: ch}, ch)
}

func (r *Room) StartCompetition(ctx context.Context, cfg competition.Config) (types.Competition, error) {
	ch := make(chan Result[types.Competition], 1)
	return ask(ctx, r, StartCompetition{Config: cfg, Reply: ch}, ch)
}

func (r *Room) EndCompetition(ctx context.Context, competitionID string) (types.Competition, error) {
	ch := make(chan Result[types.Competition], 1)
	return ask(ctx, r, EndCompetition{CompetitionID: competitionID, Reply: ch}, ch)
}

// IngestScore is always acknowledged; Outcome says whether it was applied.
func (r *Room) IngestScore(ctx context.Context, tick scoring.Tick) (scoring.Outcome, error) {
	ch := make(chan Result[scoring.Outcome], 1)
	return ask(ctx, r, Ingest{Tick: tick, Reply: ch}, ch)
}

func (r *Room) Snapshot(ctx context.Context) (types.Snapshot, error) {
	ch := make(chan Result[types.Snapshot], 1)
	return ask(ctx, r, GetSnapshot{Reply: ch}, ch)
}

// Subscribe registers outbox and returns the snapshot the stream continues
// from. The room closes outbox when it drops the subscriber.
func (r *Room) Subscribe(ctx context.Context, clientID string, outbox chan types.Event) (types.Snapshot, error) {
	ch := make(chan Result[types.Snapshot], 1)
	return ask(ctx, r, Subscribe{ClientID: clientID, Outbox: outbox, Reply: ch}, ch)
}

func (r *Room) Unsubscribe(ctx context.Context, clientID string) error {
	return r.send(ctx, Unsubscribe{ClientID: clientID})
}

func (r *Room) Shutdown(ctx context.Context) error {
	return r.send(ctx, Shutdown{})
}
