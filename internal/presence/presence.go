package presence

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/DoyleJ11/focus-room-backend/internal/errors"
)

// Participant is one member of a room. Present participants stay in the
// tracker until they leave; Online flips with heartbeat liveness.
type Participant struct {
	ID          string
	DisplayName string
	Present     bool
	Online      bool
	JoinedAt    time.Time
	LastSeen    time.Time
}

// Eligible reports present ∧ online.
func (p Participant) Eligible() bool { return p.Present && p.Online }

// Eligibility is the result of a start gate check.
type Eligibility struct {
	CanStart         bool
	OnlineAndPresent int
	Required         int
	Message          string
}

// Err returns an IneligibleError when the gate is closed, nil otherwise.
func (e Eligibility) Err() error {
	if e.CanStart {
		return nil
	}
	return apperrors.Ineligible(e.OnlineAndPresent, e.Required, e.Message)
}

type Config struct {
	MaxParticipants   int
	HeartbeatInterval time.Duration
	MissedHeartbeats  int
}

// liveness is how long a participant may stay silent before going offline.
func (c Config) liveness() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.MissedHeartbeats)
}

// Tracker holds the presence state of a single room. It is not safe for
// concurrent use; the owning room actor serializes access.
type Tracker struct {
	cfg          Config
	participants map[string]*Participant
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, participants: make(map[string]*Participant)}
}

// Join marks the participant present and online. It reports whether the
// visible state changed so callers emit at most one event.
func (t *Tracker) Join(id, displayName string, now time.Time) (Participant, bool, error) {
	if p, ok := t.participants[id]; ok {
		p.LastSeen = now
		changed := !p.Online
		p.Online = true
		if displayName != "" && displayName != p.DisplayName {
			p.DisplayName = displayName
			changed = true
		}
		return *p, changed, nil
	}

	if t.cfg.MaxParticipants > 0 && len(t.participants) >= t.cfg.MaxParticipants {
		return Participant{}, false, apperrors.Conflictf("room", "room is full (%d participants)", t.cfg.MaxParticipants)
	}

	if displayName == "" {
		displayName = id
	}
	p := &Participant{
		ID:          id,
		DisplayName: displayName,
		Present:     true,
		Online:      true,
		JoinedAt:    now,
		LastSeen:    now,
	}
	t.participants[id] = p
	return *p, true, nil
}

// Leave removes the participant. Leaving twice is a no-op.
func (t *Tracker) Leave(id string) (Participant, bool) {
	p, ok := t.participants[id]
	if !ok {
		return Participant{}, false
	}
	delete(t.participants, id)
	out := *p
	out.Present = false
	out.Online = false
	return out, true
}

// Heartbeat refreshes liveness; unknown participants are ignored.
func (t *Tracker) Heartbeat(id string, now time.Time) (Participant, bool) {
	p, ok := t.participants[id]
	if !ok {
		return Participant{}, false
	}
	p.LastSeen = now
	if p.Online {
		return *p, false
	}
	p.Online = true
	return *p, true
}

// Expire marks silent participants offline and returns them in id order.
// Presence is kept; only an explicit Leave removes a participant.
func (t *Tracker) Expire(now time.Time) []Participant {
	window := t.cfg.liveness()
	if window <= 0 {
		return nil
	}
	var expired []Participant
	for _, p := range t.participants {
		if p.Online && now.Sub(p.LastSeen) > window {
			p.Online = false
			expired = append(expired, *p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

func (t *Tracker) Get(id string) (Participant, bool) {
	p, ok := t.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (t *Tracker) IsEligible(id string) bool {
	p, ok := t.participants[id]
	return ok && p.Eligible()
}

// EligibleIDs lists present and online participants in id order.
func (t *Tracker) EligibleIDs() []string {
	ids := make([]string, 0, len(t.participants))
	for id, p := range t.participants {
		if p.Eligible() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count is the number of present participants.
func (t *Tracker) Count() int { return len(t.participants) }

// All returns every present participant in id order.
func (t *Tracker) All() []Participant {
	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Eligibility computes the start gate against threshold.
func (t *Tracker) Eligibility(threshold int) Eligibility {
	n := 0
	for _, p := range t.participants {
		if p.Eligible() {
			n++
		}
	}
	e := Eligibility{CanStart: n >= threshold, OnlineAndPresent: n, Required: threshold}
	if e.CanStart {
		e.Message = fmt.Sprintf("Ready to start (%d online)", n)
	} else {
		e.Message = fmt.Sprintf("Need at least %d online participants to start (%d of %d online)", threshold, n, threshold)
	}
	return e
}
