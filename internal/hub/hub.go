package hub

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
)

// Loader returns persisted state for a room, or nil when there is none.
type Loader interface {
	LoadRoom(ctx context.Context, roomID string) (*room.Restore, error)
}

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	ID    string
	Reply chan *room.Room // nil if the room does not exist
}

type EnsureRoom struct {
	ID      string
	Restore *room.Restore // only used if creation happens
	Reply   chan *room.Room
}

// RemoveRoom deletes ID only while it still maps to Room, so a replacement
// created during teardown survives.
type RemoveRoom struct {
	ID   string
	Room *room.Room
}

type ShutdownHub struct {
	Done chan struct{}
}

func (GetRoom) isHubMsg()     {}
func (EnsureRoom) isHubMsg()  {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Options struct {
	Clock  clockwork.Clock
	Log    *zap.Logger
	Sink   room.Sink
	Loader Loader
}

// Hub owns the set of live rooms. Room creation and removal go through the
// hub actor; the id index is read concurrently by request handlers.
type Hub struct {
	inbox   chan HubMsg
	rooms   map[string]*room.Room
	lastSeq map[string]uint64
	cfg     room.Config
	opts    Options
	log     *zap.Logger

	mu    sync.RWMutex
	index map[string]string // session or competition id -> room id

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg room.Config, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		rooms:   make(map[string]*room.Room),
		lastSeq: make(map[string]uint64),
		cfg:     cfg,
		opts:    opts,
		log:     opts.Log,
		index:   make(map[string]string),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case EnsureRoom:
				if r := h.rooms[msg.ID]; r != nil && !exited(r) {
					msg.Reply <- r
					break
				}
				r := h.newRoom(msg.ID, msg.Restore)
				h.rooms[msg.ID] = r
				msg.Reply <- r

			case RemoveRoom:
				h.lastSeq[msg.ID] = msg.Room.LastSeq()
				if h.rooms[msg.ID] == msg.Room {
					delete(h.rooms, msg.ID)
					h.unindex(msg.ID)
					h.log.Info("room removed", zap.String("room_id", msg.ID))
				}

			case ShutdownHub:
				h.shutdown()
				close(msg.Done)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) newRoom(id string, rs *room.Restore) *room.Room {
	if rs == nil {
		if seq, ok := h.lastSeq[id]; ok {
			rs = &room.Restore{LastSeq: seq}
		}
	} else if seq := h.lastSeq[id]; seq > rs.LastSeq {
		rs.LastSeq = seq
	}
	h.log.Info("room created", zap.String("room_id", id))
	return room.New(h.ctx, id, h.cfg, room.Options{
		Clock:   h.opts.Clock,
		Log:     h.log,
		Sink:    h.opts.Sink,
		Restore: rs,
		Hooks: room.Hooks{
			OnBind:   h.bind,
			OnClosed: h.closed,
		},
	})
}

// shutdown stops every room and waits for them to exit. Rooms are not torn
// down, so live competitions are recovered on the next start.
func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		_ = r.Shutdown(h.ctx)
	}
	for id, r := range h.rooms {
		<-r.Done()
		h.lastSeq[id] = r.LastSeq()
	}
	clear(h.rooms)
}

func (h *Hub) bind(_ room.BindKind, id, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.index[id] = roomID
}

func (h *Hub) unindex(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, rid := range h.index {
		if rid == roomID {
			delete(h.index, id)
		}
	}
}

// closed runs on the room goroutine during teardown.
func (h *Hub) closed(roomID string, r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{ID: roomID, Room: r}:
	case <-h.ctx.Done():
	}
}

func exited(r *room.Room) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *room.Room) (*room.Room, error) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-h.ctx.Done():
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the live room for id, or a NotFoundError.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	r, err := h.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil || r.Closing() {
		return nil, apperrors.NotFound("room", id)
	}
	return r, nil
}

// Ensure returns the room for id, creating it (and restoring persisted state)
// when needed. A room that is tearing down is waited out and replaced.
func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	if id == "" {
		return nil, apperrors.Validation("room_id", "required")
	}
	for {
		var rs *room.Restore
		if existing, _ := h.lookup(ctx, id); existing == nil || existing.Closing() {
			if h.opts.Loader != nil {
				loaded, err := h.opts.Loader.LoadRoom(ctx, id)
				if err != nil {
					return nil, err
				}
				rs = loaded
			}
		}

		reply := make(chan *room.Room, 1)
		r, err := h.ask(ctx, EnsureRoom{ID: id, Restore: rs, Reply: reply}, reply)
		if err != nil {
			return nil, err
		}
		if !r.Closing() {
			return r, nil
		}
		select {
		case <-r.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (h *Hub) lookup(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, GetRoom{ID: id, Reply: reply}, reply)
}

// RoomFor resolves a session or competition id to its room id.
func (h *Hub) RoomFor(id string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rid, ok := h.index[id]
	return rid, ok
}

// Resolve finds the live room owning a session or competition id.
func (h *Hub) Resolve(ctx context.Context, resource, id string) (*room.Room, error) {
	rid, ok := h.RoomFor(id)
	if !ok {
		return nil, apperrors.NotFound(resource, id)
	}
	r, err := h.Get(ctx, rid)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NotFound(resource, id)
	}
	return r, err
}

// Shutdown stops every room and the hub itself.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case h.inbox <- ShutdownHub{Done: done}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
