package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/hub"
	"github.com/DoyleJ11/focus-room-backend/internal/types"
	wire "github.com/DoyleJ11/focus-room-backend/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 30 * time.Second
)

type Options struct {
	OutboxSize     int
	OriginPatterns []string
}

// Handler streams a room to one client. The first frame is a snapshot,
// then every event in sequence order. Heartbeat frames from the client keep
// its participant online. Disconnecting does not leave the room.
func Handler(h *hub.Hub, log *zap.Logger, opts Options) http.HandlerFunc {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 32
	}
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		participantID := r.URL.Query().Get("participant_id")

		rm, err := h.Get(r.Context(), roomID)
		if err != nil {
			status := http.StatusInternalServerError
			if apperrors.IsNotFound(err) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		log := log.With(zap.String("room_id", roomID), zap.String("subscriber_id", clientID))

		out := make(chan wire.Event, opts.OutboxSize)
		snap, err := rm.Subscribe(r.Context(), clientID, out)
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "room unavailable")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			_ = rm.Unsubscribe(ctx, clientID)
		}()
		log.Debug("websocket subscribed", zap.Uint64("seq", snap.LastSequenceNumber))

		if err := writeFrame(r.Context(), conn, types.ServerMessage{Type: types.FrameSnapshot, Snapshot: &snap}); err != nil {
			return
		}

		// Writer goroutine. When the room drops us the outbox closes and the
		// client reconnects for a fresh snapshot.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range out {
				if err := writeFrame(writeCtx, conn, types.ServerMessage{Type: types.FrameEvent, Event: &ev}); err != nil {
					break
				}
			}
			conn.Close(websocket.StatusTryAgainLater, "stream ended, resync")
		}()

		// Reader loop
		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeFrame(r.Context(), conn, types.ServerMessage{Type: types.FrameError, Error: "bad json"})
				continue
			}

			switch cm.Type {
			case types.FrameHeartbeat:
				if participantID == "" {
					continue
				}
				if _, err := rm.Heartbeat(r.Context(), participantID); err != nil {
					return
				}
			default:
				_ = writeFrame(r.Context(), conn, types.ServerMessage{Type: types.FrameError, Error: "unknown type"})
			}
		}
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
