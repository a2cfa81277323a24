package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
	"github.com/DoyleJ11/focus-room-backend/internal/session"
	internaltypes "github.com/DoyleJ11/focus-room-backend/internal/types"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

type Config struct {
	BaseURL       string // http(s)://host:port
	RoomID        string
	ParticipantID string

	// StaleAfter is the health window: with no frame for this long the
	// client falls back to polling the snapshot endpoint.
	StaleAfter        time.Duration
	PollInterval      time.Duration
	MaxPollFailures   int
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	// ReplayLimit caps how many events one gap fill asks the events
	// endpoint for before falling back to a snapshot.
	ReplayLimit int
}

func (c *Config) setDefaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 20 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 3
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.ReplayLimit <= 0 {
		c.ReplayLimit = 100
	}
}

type Options struct {
	HTTP  *http.Client
	Clock clockwork.Clock
	Log   *zap.Logger
	// Startup runs once per session of this participant, whether the
	// session arrives as an event or in a snapshot.
	Startup *Startup
	// OnChange is called after the view changes, outside the client lock.
	OnChange func(types.RoomState)
	// OnWarning is called when the connectivity warning turns on or off.
	OnWarning func(bool)
}

// Client keeps a View of one room current over the websocket push channel
// and falls back to polling snapshots when the stream goes quiet.
type Client struct {
	cfg   Config
	http  *http.Client
	clock clockwork.Clock
	log   *zap.Logger
	opts  Options

	resync        chan struct{}
	heartbeatConn atomic.Pointer[websocket.Conn]

	mu           sync.Mutex
	view         *View
	lastFrame    time.Time
	pollFailures int
	warning      bool
	started      map[string]bool // session ids handed to Startup
}

func New(cfg Config, opts Options) *Client {
	cfg.setDefaults()
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   opts.HTTP,
		clock:  opts.Clock,
		log:    opts.Log.With(zap.String("room_id", cfg.RoomID), zap.String("participant_id", cfg.ParticipantID)),
		opts:   opts,
		resync:  make(chan struct{}, 1),
		view:    NewView(),
		started: make(map[string]bool),
	}
}

func (c *Client) State() types.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.State()
}

func (c *Client) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.LastSeq()
}

// ConnectivityWarning reports whether polling has failed MaxPollFailures
// times in a row.
func (c *Client) ConnectivityWarning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

// Run streams, polls and heartbeats until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.streamLoop(gctx) })
	g.Go(func() error { return c.healthLoop(gctx) })
	g.Go(func() error { return c.heartbeatLoop(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) streamLoop(ctx context.Context) error {
	for {
		err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Debug("stream ended, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) wsURL() string {
	u := strings.Replace(c.cfg.BaseURL, "http", "ws", 1)
	q := url.Values{"participant_id": {c.cfg.ParticipantID}}
	return fmt.Sprintf("%s/room/%s/ws?%s", u, url.PathEscape(c.cfg.RoomID), q.Encode())
}

// stream reads one websocket connection until it fails.
func (c *Client) stream(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	c.heartbeatConn.Store(conn)
	defer c.heartbeatConn.Store(nil)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg internaltypes.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad frame", zap.Error(err))
			continue
		}
		c.touch()
		switch msg.Type {
		case internaltypes.FrameSnapshot:
			if msg.Snapshot != nil {
				c.applySnapshot(*msg.Snapshot)
			}
		case internaltypes.FrameEvent:
			if msg.Event != nil {
				c.applyEvent(*msg.Event)
			}
		case internaltypes.FrameError:
			c.log.Warn("server error frame", zap.String("error", msg.Error))
		}
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastFrame = c.clock.Now()
	c.mu.Unlock()
}

func (c *Client) applyEvent(ev types.Event) {
	c.mu.Lock()
	applied, gap, err := c.view.Apply(ev)
	state := c.view.State()
	c.mu.Unlock()

	if apperrors.IsStale(err) {
		return
	}
	if gap {
		c.log.Debug("sequence gap, requesting resync", zap.Uint64("seq", ev.Seq))
		c.requestResync()
	}
	c.afterApply(applied, state, false)
}

func (c *Client) applySnapshot(snap types.Snapshot) {
	c.mu.Lock()
	taken, applied := c.view.ApplySnapshot(snap)
	gap := c.view.Gap()
	state := c.view.State()
	c.mu.Unlock()

	if !taken {
		return
	}
	if gap {
		c.requestResync()
	}
	c.afterApply(applied, state, true)
}

// afterApply starts local capture for this participant's new sessions. A
// snapshot can carry a session whose session_started event was never seen,
// so open sessions in a snapshot count too.
func (c *Client) afterApply(applied []types.Event, state types.RoomState, fromSnapshot bool) {
	for _, ev := range applied {
		if p, ok := ev.Payload.(types.SessionStarted); ok && p.Session.ParticipantID == c.cfg.ParticipantID {
			c.startLocalSession(p.Session)
		}
	}
	if fromSnapshot {
		for _, s := range state.Sessions {
			if s.ParticipantID == c.cfg.ParticipantID && s.State != string(session.StateEnded) {
				c.startLocalSession(s)
			}
		}
	}
	if c.opts.OnChange != nil {
		c.opts.OnChange(state)
	}
}

// startLocalSession runs the startup pipeline for this participant only,
// once per session id. Other participants' sessions are mirrored in the
// view and nothing else.
func (c *Client) startLocalSession(s types.Session) {
	st := c.opts.Startup
	if st == nil {
		return
	}
	c.mu.Lock()
	seen := c.started[s.ID]
	c.started[s.ID] = true
	c.mu.Unlock()
	if seen {
		return
	}
	if p := st.Phase(); p != PhaseIdle {
		if err := st.Reset(); err != nil {
			c.log.Warn("startup busy, ignoring session", zap.String("session_id", s.ID), zap.String("phase", string(p)))
			return
		}
	}
	go func() {
		phase, err := st.Run(context.Background())
		c.log.Info("session startup finished", zap.String("session_id", s.ID), zap.String("phase", string(phase)), zap.Error(err))
	}()
}

func (c *Client) requestResync() {
	select {
	case c.resync <- struct{}{}:
	default:
	}
}

// healthLoop fills gaps and polls the snapshot endpoint whenever the
// stream is stale.
func (c *Client) healthLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.resync:
			if !c.replay(ctx) {
				c.poll(ctx)
			}
		case <-ticker.Chan():
			if c.stale() {
				c.poll(ctx)
			}
		}
	}
}

func (c *Client) stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock.Since(c.lastFrame) >= c.cfg.StaleAfter
}

func (c *Client) poll(ctx context.Context) {
	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.pollFailures++
		n := c.pollFailures
		raise := n >= c.cfg.MaxPollFailures && !c.warning
		if raise {
			c.warning = true
		}
		c.mu.Unlock()
		c.log.Warn("snapshot poll failed", zap.Int("consecutive_failures", n), zap.Error(err))
		if raise && c.opts.OnWarning != nil {
			c.opts.OnWarning(true)
		}
		return
	}

	c.mu.Lock()
	c.pollFailures = 0
	cleared := c.warning
	c.warning = false
	c.mu.Unlock()
	if cleared && c.opts.OnWarning != nil {
		c.opts.OnWarning(false)
	}
	c.applySnapshot(snap)
}

// replay asks the events endpoint for what the view is missing. It reports
// whether the gap is closed; when it is not, the caller takes a snapshot.
func (c *Client) replay(ctx context.Context) bool {
	evs, err := c.FetchEvents(ctx, c.LastSeq(), c.cfg.ReplayLimit)
	if err != nil {
		c.log.Debug("event replay unavailable", zap.Error(err))
		return false
	}

	c.mu.Lock()
	var applied []types.Event
	for _, ev := range evs {
		out, _, err := c.view.Apply(ev)
		if err != nil {
			continue
		}
		applied = append(applied, out...)
	}
	gap := c.view.Gap()
	state := c.view.State()
	c.mu.Unlock()

	if len(applied) > 0 {
		c.afterApply(applied, state, false)
	}
	return !gap
}

// FetchEvents gets up to limit room events after seq over HTTP.
func (c *Client) FetchEvents(ctx context.Context, after uint64, limit int) ([]types.Event, error) {
	q := url.Values{"after": {fmt.Sprint(after)}, "limit": {fmt.Sprint(limit)}}
	u := fmt.Sprintf("%s/room/%s/events?%s", c.cfg.BaseURL, url.PathEscape(c.cfg.RoomID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events: status %d", resp.StatusCode)
	}
	var out types.EventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return out.Events, nil
}

// FetchSnapshot gets the room snapshot over HTTP.
func (c *Client) FetchSnapshot(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	u := fmt.Sprintf("%s/room/%s/snapshot", c.cfg.BaseURL, url.PathEscape(c.cfg.RoomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var er types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return snap, fmt.Errorf("snapshot: status %d: %s", resp.StatusCode, er.Message)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// heartbeatLoop keeps this participant online. It beats over the open
// stream and over HTTP while the stream is down.
func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	frame, _ := json.Marshal(internaltypes.ClientMessage{Type: internaltypes.FrameHeartbeat})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			var err error
			if conn := c.heartbeatConn.Load(); conn != nil {
				err = conn.Write(wctx, websocket.MessageText, frame)
			} else {
				err = c.postHeartbeat(wctx)
			}
			cancel()
			if err != nil && ctx.Err() == nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) postHeartbeat(ctx context.Context) error {
	body, err := json.Marshal(types.PresenceRequest{RoomID: c.cfg.RoomID, ParticipantID: c.cfg.ParticipantID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/presence/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var er types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return fmt.Errorf("heartbeat: status %d: %s", resp.StatusCode, er.Message)
	}
	return nil
}
