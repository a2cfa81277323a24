package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/focus-room-backend/internal/competition"
	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/hub"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

func requireField(name, value string) error {
	if value == "" {
		return apperrors.Validation(name, "required")
	}
	return nil
}

func decodePresence(r *http.Request) (types.PresenceRequest, error) {
	var req types.PresenceRequest
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if err := requireField("room_id", req.RoomID); err != nil {
		return req, err
	}
	return req, requireField("participant_id", req.ParticipantID)
}

// Join creates the room on first join.
func Join(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodePresence(r)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Ensure(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		p, err := rm.Join(r.Context(), req.ParticipantID, req.DisplayName)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, p)
	}
}

func Leave(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodePresence(r)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Get(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		left, err := rm.Leave(r.Context(), req.ParticipantID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, map[string]bool{"left": left})
	}
}

func Heartbeat(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodePresence(r)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Get(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		present, err := rm.Heartbeat(r.Context(), req.ParticipantID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		if !present {
			respondError(w, log, apperrors.NotFound("participant", req.ParticipantID))
			return
		}
		respondOK(w, map[string]bool{"ok": true})
	}
}

func StartSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SessionStartRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, log, err)
			return
		}
		if err := requireField("room_id", req.RoomID); err != nil {
			respondError(w, log, err)
			return
		}
		if err := requireField("participant_id", req.ParticipantID); err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Get(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		s, err := rm.StartSession(r.Context(), req.ParticipantID, req.GoalMinutes)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondCreated(w, types.SessionStartResponse{SessionID: s.ID, Session: s})
	}
}

type sessionOp func(rm *room.Room, r *http.Request, id string) (types.Session, error)

// sessionAction serves stop, pause and resume, which all address a session
// by id alone.
func sessionAction(h *hub.Hub, log *zap.Logger, op sessionOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SessionRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, log, err)
			return
		}
		if err := requireField("session_id", req.SessionID); err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Resolve(r.Context(), "session", req.SessionID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		s, err := op(rm, r, req.SessionID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, s)
	}
}

func StopSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return sessionAction(h, log, func(rm *room.Room, r *http.Request, id string) (types.Session, error) {
		return rm.StopSession(r.Context(), id)
	})
}

func PauseSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return sessionAction(h, log, func(rm *room.Room, r *http.Request, id string) (types.Session, error) {
		return rm.PauseSession(r.Context(), id)
	})
}

func ResumeSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return sessionAction(h, log, func(rm *room.Room, r *http.Request, id string) (types.Session, error) {
		return rm.ResumeSession(r.Context(), id)
	})
}

func StartCompetition(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CompetitionStartRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, log, err)
			return
		}
		if err := requireField("room_id", req.RoomID); err != nil {
			respondError(w, log, err)
			return
		}
		cfg, err := competition.ConfigFromWire(req.Mode, req.Config)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Get(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		c, err := rm.StartCompetition(r.Context(), cfg)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondCreated(w, types.CompetitionStartResponse{CompetitionID: c.ID, Competition: c})
	}
}

func EndCompetition(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CompetitionEndRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, log, err)
			return
		}
		if err := requireField("competition_id", req.CompetitionID); err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Resolve(r.Context(), "competition", req.CompetitionID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		c, err := rm.EndCompetition(r.Context(), req.CompetitionID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, c)
	}
}

func Score(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ScoreRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, log, err)
			return
		}
		tick := scoring.Tick{
			ParticipantID: req.ParticipantID,
			Score:         req.Score,
			Confidence:    req.Confidence,
			Timestamp:     req.Timestamp,
		}
		if err := requireField("room_id", req.RoomID); err != nil {
			respondError(w, log, err)
			return
		}
		if err := tick.Validate(); err != nil {
			respondError(w, log, err)
			return
		}
		rm, err := h.Get(r.Context(), req.RoomID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		out, err := rm.IngestScore(r.Context(), tick)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, types.ScoreResponse{Applied: out.Applied(), Reason: string(out.Reason), Score: out.Entry.Score})
	}
}

func Snapshot(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := h.Get(r.Context(), chi.URLParam(r, "room_id"))
		if err != nil {
			respondError(w, log, err)
			return
		}
		snap, err := rm.Snapshot(r.Context())
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, snap)
	}
}

func Eligibility(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, err := h.Get(r.Context(), chi.URLParam(r, "room_id"))
		if err != nil {
			respondError(w, log, err)
			return
		}
		e, err := rm.Eligibility(r.Context())
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondOK(w, types.EligibilityResponse{
			CanStart:         e.CanStart,
			OnlineAndPresent: e.OnlineAndPresent,
			Required:         e.Required,
			Message:          e.Message,
		})
	}
}

// EventLog reads persisted room events after a sequence number.
type EventLog interface {
	Events(ctx context.Context, roomID string, after uint64, limit int) ([]types.Event, error)
}

const (
	defaultReplayLimit = 200
	maxReplayLimit     = 1000
)

// Events replays the room's events after ?after=N, at most ?limit of them.
func Events(src EventLog, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		q := r.URL.Query()

		var after uint64
		if v := q.Get("after"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				respondError(w, log, apperrors.Validation("after", "must be a non-negative integer"))
				return
			}
			after = n
		}
		limit := defaultReplayLimit
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondError(w, log, apperrors.Validation("limit", "must be a positive integer"))
				return
			}
			limit = min(n, maxReplayLimit)
		}

		evs, err := src.Events(r.Context(), roomID, after, limit)
		if err != nil {
			respondError(w, log, err)
			return
		}
		if evs == nil {
			evs = []types.Event{}
		}
		respondOK(w, types.EventsResponse{RoomID: roomID, Events: evs})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
