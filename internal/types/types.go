package types

import "github.com/DoyleJ11/focus-room-backend/pkg/types"

// Frame types on the room websocket.
const (
	FrameSnapshot  = "snapshot"
	FrameEvent     = "event"
	FrameError     = "error"
	FrameHeartbeat = "heartbeat"
)

type ClientMessage struct {
	Type string `json:"type"` // "heartbeat"
}

type ServerMessage struct {
	Type     string          `json:"type"` // "snapshot" | "event" | "error"
	Snapshot *types.Snapshot `json:"snapshot,omitempty"`
	Event    *types.Event    `json:"event,omitempty"`
	Error    string          `json:"error,omitempty"`
}
