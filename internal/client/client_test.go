package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/focus-room-backend/internal/client"
	"github.com/DoyleJ11/focus-room-backend/internal/httpapi"
	"github.com/DoyleJ11/focus-room-backend/internal/hub"
	"github.com/DoyleJ11/focus-room-backend/internal/room"
	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	internaltypes "github.com/DoyleJ11/focus-room-backend/internal/types"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

type okSteps struct{}

func (okSteps) RequestMedia(context.Context) error    { return nil }
func (okSteps) AwaitStream(context.Context) error     { return nil }
func (okSteps) ConnectAnalysis(context.Context) error { return nil }

type countingSteps struct {
	okSteps
	media atomic.Int32
}

func (s *countingSteps) RequestMedia(context.Context) error {
	s.media.Add(1)
	return nil
}

func newHub(t *testing.T) *hub.Hub {
	t.Helper()
	h := hub.NewHub(context.Background(), room.Config{
		MaxParticipants:    12,
		DefaultGoalMinutes: 50,
		MinParticipants:    2,
		HeartbeatInterval:  time.Hour,
		MissedHeartbeats:   2,
		Scoring:            scoring.Config{Coefficient: 0.1},
	}, hub.Options{Clock: clockwork.NewFakeClock()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func newHubServer(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	h := newHub(t)
	srv := httptest.NewServer(httpapi.SetupRoutes(h, nil, httpapi.Options{AllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return h, srv
}

// scriptedRoom serves a fixed websocket script plus snapshot and events
// endpoints, so tests can open sequence gaps on purpose.
type scriptedRoom struct {
	frames   []internaltypes.ServerMessage
	snapshot types.Snapshot
	events   []types.Event // nil means the events endpoint is absent

	snapshotHits atomic.Int32
	eventHits    atomic.Int32
}

func (s *scriptedRoom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ws"):
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for _, f := range s.frames {
			data, _ := json.Marshal(f)
			if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}

	case strings.HasSuffix(r.URL.Path, "/events"):
		s.eventHits.Add(1)
		if s.events == nil {
			http.NotFound(w, r)
			return
		}
		after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
		out := types.EventsResponse{RoomID: s.snapshot.RoomID, Events: []types.Event{}}
		for _, ev := range s.events {
			if ev.Seq > after {
				out.Events = append(out.Events, ev)
			}
		}
		_ = json.NewEncoder(w).Encode(out)

	case strings.HasSuffix(r.URL.Path, "/snapshot"):
		s.snapshotHits.Add(1)
		_ = json.NewEncoder(w).Encode(s.snapshot)

	default:
		http.NotFound(w, r)
	}
}

func presenceAt(seq uint64, id string) types.Event {
	return types.Event{
		RoomID:    "lib",
		Seq:       seq,
		Timestamp: time.Date(2026, 3, 2, 14, 0, int(seq), 0, time.UTC),
		Payload:   types.PresenceChanged{Participant: types.Participant{ID: id, Present: true, Online: true}},
	}
}

func snapshotAt(seq uint64, presence ...string) types.Snapshot {
	st := types.NewRoomState()
	st.LastSequenceNumber = seq
	for _, id := range presence {
		st.Presence[id] = types.Participant{ID: id, Present: true, Online: true}
	}
	return types.Snapshot{RoomID: "lib", RoomState: st}
}

func eventFrame(ev types.Event) internaltypes.ServerMessage {
	return internaltypes.ServerMessage{Type: internaltypes.FrameEvent, Event: &ev}
}

func snapshotFrame(snap types.Snapshot) internaltypes.ServerMessage {
	return internaltypes.ServerMessage{Type: internaltypes.FrameSnapshot, Snapshot: &snap}
}

func runClient(t *testing.T, c *client.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("client did not stop")
		}
	})
}

func TestClient_MirrorsRoomAndStartsOwnSessionOnly(t *testing.T) {
	h, srv := newHubServer(t)
	ctx := context.Background()

	rm, err := h.Ensure(ctx, "lib")
	require.NoError(t, err)
	_, err = rm.Join(ctx, "A", "Ada")
	require.NoError(t, err)
	_, err = rm.Join(ctx, "B", "Bo")
	require.NoError(t, err)

	startup := client.NewStartup(okSteps{}, client.DefaultTimeouts(), nil, nil)
	c := client.New(client.Config{
		BaseURL:       srv.URL,
		RoomID:        "lib",
		ParticipantID: "A",
		PollInterval:  50 * time.Millisecond,
	}, client.Options{Startup: startup})
	runClient(t, c)

	require.Eventually(t, func() bool { return len(c.State().Presence) == 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = rm.StartSession(ctx, "B", 25)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.State().Sessions) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, client.PhaseIdle, startup.Phase(), "another participant's session must not start local capture")

	_, err = rm.StartSession(ctx, "A", 25)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return startup.Phase() == client.PhaseAnalyzing }, 2*time.Second, 10*time.Millisecond)

	snap, err := rm.Snapshot(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.LastSeq() == snap.LastSequenceNumber }, 2*time.Second, 10*time.Millisecond)
	mirrored := c.State().Sessions
	require.Len(t, mirrored, len(snap.Sessions))
	for id, s := range snap.Sessions {
		assert.Equal(t, s.ParticipantID, mirrored[id].ParticipantID)
		assert.Equal(t, s.State, mirrored[id].State)
	}
}

func TestClient_FetchSnapshot(t *testing.T) {
	h, srv := newHubServer(t)
	ctx := context.Background()
	rm, err := h.Ensure(ctx, "lib")
	require.NoError(t, err)
	_, err = rm.Join(ctx, "A", "Ada")
	require.NoError(t, err)

	c := client.New(client.Config{BaseURL: srv.URL, RoomID: "lib", ParticipantID: "A"}, client.Options{})
	snap, err := c.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lib", snap.RoomID)
	assert.Contains(t, snap.Presence, "A")

	missing := client.New(client.Config{BaseURL: srv.URL, RoomID: "nowhere", ParticipantID: "A"}, client.Options{})
	_, err = missing.FetchSnapshot(ctx)
	assert.ErrorContains(t, err, "404")
}

func TestClient_ConnectivityWarningAfterRepeatedPollFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"code":"internal","message":"down"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	warnings := make(chan bool, 4)
	c := client.New(client.Config{
		BaseURL:         srv.URL,
		RoomID:          "lib",
		ParticipantID:   "A",
		StaleAfter:      time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		ReconnectDelay:  10 * time.Millisecond,
		MaxPollFailures: 3,
	}, client.Options{OnWarning: func(on bool) { warnings <- on }})
	runClient(t, c)

	select {
	case on := <-warnings:
		assert.True(t, on)
	case <-time.After(2 * time.Second):
		t.Fatal("no connectivity warning")
	}
	assert.True(t, c.ConnectivityWarning())
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestClient_HeartbeatsOverHTTPWhileStreamDown(t *testing.T) {
	h := newHub(t)
	ctx := context.Background()
	rm, err := h.Ensure(ctx, "lib")
	require.NoError(t, err)
	_, err = rm.Join(ctx, "A", "Ada")
	require.NoError(t, err)

	var beats atomic.Int32
	router := httpapi.SetupRoutes(h, nil, httpapi.Options{AllowedOrigins: []string{"*"}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/ws") {
			http.Error(w, "websocket unavailable", http.StatusServiceUnavailable)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		router.ServeHTTP(ww, r)
		if r.URL.Path == "/presence/heartbeat" && ww.Status() == http.StatusOK {
			beats.Add(1)
		}
	}))
	t.Cleanup(srv.Close)

	c := client.New(client.Config{
		BaseURL:           srv.URL,
		RoomID:            "lib",
		ParticipantID:     "A",
		StaleAfter:        time.Millisecond,
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		ReconnectDelay:    10 * time.Millisecond,
	}, client.Options{})
	runClient(t, c)

	require.Eventually(t, func() bool { return beats.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(c.State().Presence) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.ConnectivityWarning())
}

func TestClient_ReplayFillsGapWithoutSnapshot(t *testing.T) {
	sr := &scriptedRoom{
		frames: []internaltypes.ServerMessage{
			snapshotFrame(snapshotAt(1, "A")),
			eventFrame(presenceAt(3, "C")),
		},
		snapshot: snapshotAt(1, "A"),
		events:   []types.Event{presenceAt(2, "B"), presenceAt(3, "C")},
	}
	srv := httptest.NewServer(sr)
	t.Cleanup(srv.Close)

	c := client.New(client.Config{BaseURL: srv.URL, RoomID: "lib", ParticipantID: "A"}, client.Options{})
	runClient(t, c)

	require.Eventually(t, func() bool { return c.LastSeq() == 3 }, 2*time.Second, 10*time.Millisecond)
	st := c.State()
	assert.Len(t, st.Presence, 3)
	assert.GreaterOrEqual(t, sr.eventHits.Load(), int32(1))
	assert.Zero(t, sr.snapshotHits.Load(), "a replayed gap needs no snapshot")
}

func TestClient_FetchEvents(t *testing.T) {
	sr := &scriptedRoom{
		snapshot: snapshotAt(3),
		events:   []types.Event{presenceAt(1, "A"), presenceAt(2, "B"), presenceAt(3, "C")},
	}
	srv := httptest.NewServer(sr)
	t.Cleanup(srv.Close)

	c := client.New(client.Config{BaseURL: srv.URL, RoomID: "lib", ParticipantID: "A"}, client.Options{})
	evs, err := c.FetchEvents(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.EqualValues(t, 2, evs[0].Seq)
	assert.Equal(t, types.EvtPresenceChanged, evs[1].Type())

	bare := httptest.NewServer(&scriptedRoom{snapshot: snapshotAt(3)})
	t.Cleanup(bare.Close)
	_, err = client.New(client.Config{BaseURL: bare.URL, RoomID: "lib", ParticipantID: "A"}, client.Options{}).
		FetchEvents(context.Background(), 0, 10)
	assert.ErrorContains(t, err, "404")
}

func TestClient_OwnSessionInsideSnapshotGapStartsOnce(t *testing.T) {
	later := snapshotAt(4, "A", "B")
	later.Sessions["s1"] = types.Session{ID: "s1", RoomID: "lib", ParticipantID: "A", GoalMinutes: 25, State: "running"}
	later.Sessions["s2"] = types.Session{ID: "s2", RoomID: "lib", ParticipantID: "B", GoalMinutes: 25, State: "running"}

	sr := &scriptedRoom{
		frames: []internaltypes.ServerMessage{
			snapshotFrame(snapshotAt(1, "A")),
			eventFrame(presenceAt(4, "B")),
		},
		snapshot: later,
	}
	srv := httptest.NewServer(sr)
	t.Cleanup(srv.Close)

	steps := &countingSteps{}
	startup := client.NewStartup(steps, client.DefaultTimeouts(), nil, nil)
	c := client.New(client.Config{
		BaseURL:       srv.URL,
		RoomID:        "lib",
		ParticipantID: "A",
		StaleAfter:    time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, client.Options{Startup: startup})
	runClient(t, c)

	require.Eventually(t, func() bool { return startup.Phase() == client.PhaseAnalyzing }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 4, c.LastSeq())
	assert.Len(t, c.State().Sessions, 2)

	// stale polling keeps re-taking the same snapshot
	require.Eventually(t, func() bool { return sr.snapshotHits.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, steps.media.Load(), "one session starts capture once")
}
